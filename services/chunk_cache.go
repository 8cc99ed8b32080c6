package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"material-indexing-platform/models"
	"material-indexing-platform/utils"
)

// ChunkCache holds recomputed chunk lists. Entries are keyed by the material's
// lastIndexed time, so a reindex makes older entries unreachable.
type ChunkCache interface {
	Get(ctx context.Context, material *models.Material) ([]models.IndexedChunk, bool)
	Set(ctx context.Context, material *models.Material, chunks []models.IndexedChunk) error
	Invalidate(ctx context.Context, materialID string) error
}

// RedisChunkCache stores compressed JSON chunk lists in Redis
type RedisChunkCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisChunkCache(rdb *redis.Client, ttl time.Duration) *RedisChunkCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisChunkCache{rdb: rdb, ttl: ttl}
}

// ChunkCacheKey returns material:chunks:{id}:{lastIndexed unix millis}, or ""
// for a material that was never indexed. Millis match what Mongo stores.
func ChunkCacheKey(material *models.Material) string {
	if material.LastIndexed == nil {
		return ""
	}
	return fmt.Sprintf("material:chunks:%s:%d", material.ID.Hex(), material.LastIndexed.UnixMilli())
}

func (c *RedisChunkCache) Get(ctx context.Context, material *models.Material) ([]models.IndexedChunk, bool) {
	key := ChunkCacheKey(material)
	if key == "" {
		return nil, false
	}

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}

	data, err := utils.DecodePayload(raw)
	if err != nil {
		return nil, false
	}

	var chunks []models.IndexedChunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, false
	}
	return chunks, true
}

func (c *RedisChunkCache) Set(ctx context.Context, material *models.Material, chunks []models.IndexedChunk) error {
	key := ChunkCacheKey(material)
	if key == "" {
		return nil
	}

	data, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("failed to encode chunks: %w", err)
	}
	value, err := utils.EncodePayload(data)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, key, value, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache chunks: %w", err)
	}
	return nil
}

// Invalidate drops every cached generation of a material's chunks
func (c *RedisChunkCache) Invalidate(ctx context.Context, materialID string) error {
	pattern := "material:chunks:" + materialID + ":*"
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan chunk cache: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}
