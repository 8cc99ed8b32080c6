package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"material-indexing-platform/internal/config"
	"material-indexing-platform/internal/telemetry"
	"material-indexing-platform/models"
)

const MaterialsCollection = config.MaterialsCollection

// MongoMaterialStore stores materials in a MongoDB collection with a text index
type MongoMaterialStore struct {
	collection *mongo.Collection
	metrics    *telemetry.Metrics
}

func NewMongoMaterialStore(db *mongo.Database, metrics *telemetry.Metrics) *MongoMaterialStore {
	return &MongoMaterialStore{
		collection: db.Collection(MaterialsCollection),
		metrics:    metrics,
	}
}

var withoutText = bson.M{"text_content": 0}

func (s *MongoMaterialStore) record(op string, err error) {
	s.metrics.RecordDatabaseOperation(op, MaterialsCollection, err == nil)
}

func (s *MongoMaterialStore) Insert(ctx context.Context, material *models.Material) error {
	if material.ID.IsZero() {
		material.ID = primitive.NewObjectID()
	}
	_, err := s.collection.InsertOne(ctx, material)
	s.record("insert", err)
	if err != nil {
		return fmt.Errorf("failed to insert material: %w", err)
	}
	return nil
}

func (s *MongoMaterialStore) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Material, error) {
	var material models.Material
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&material)
	if errors.Is(err, mongo.ErrNoDocuments) {
		s.record("find", nil)
		return nil, fmt.Errorf("%s: %w", id.Hex(), ErrMaterialNotFound)
	}
	s.record("find", err)
	if err != nil {
		return nil, fmt.Errorf("failed to load material: %w", err)
	}
	return &material, nil
}

func (s *MongoMaterialStore) update(ctx context.Context, id primitive.ObjectID, set bson.M) error {
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	s.record("update", err)
	if err != nil {
		return fmt.Errorf("failed to update material: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", id.Hex(), ErrMaterialNotFound)
	}
	return nil
}

func (s *MongoMaterialStore) UpdateStatus(ctx context.Context, id primitive.ObjectID, status string, at time.Time) error {
	return s.update(ctx, id, bson.M{
		"processing_status": status,
		"updated_at":        at,
	})
}

func (s *MongoMaterialStore) MarkFailed(ctx context.Context, id primitive.ObjectID, processingError string, at time.Time) error {
	set := bson.M{
		"processing_status": models.StatusFailed,
		"updated_at":        at,
	}
	set["metadata."+models.MetaProcessingError] = processingError
	return s.update(ctx, id, set)
}

// MarkIndexed stores the text and merges metadata key by key, leaving keys
// from earlier runs in place
func (s *MongoMaterialStore) MarkIndexed(ctx context.Context, id primitive.ObjectID, text string, metadata map[string]interface{}, at time.Time) error {
	set := bson.M{
		"processing_status": models.StatusIndexed,
		"text_content":      text,
		"last_indexed":      at,
		"updated_at":        at,
	}
	for k, v := range metadata {
		set["metadata."+k] = v
	}
	return s.update(ctx, id, set)
}

// buildSearchFilter only ever matches indexed materials
func buildSearchFilter(query string, filters SearchFilters) bson.M {
	filter := bson.M{"processing_status": models.StatusIndexed}
	if q := strings.TrimSpace(query); q != "" {
		filter["$text"] = bson.M{"$search": q}
	}
	if len(filters.Categories) > 0 {
		filter["category"] = bson.M{"$in": filters.Categories}
	}
	if len(filters.Tags) > 0 {
		filter["tags"] = bson.M{"$in": filters.Tags}
	}
	if filters.OrganizationID != nil {
		filter["organization_id"] = *filters.OrganizationID
	}
	if filters.VisibleTo != nil {
		filter["$or"] = bson.A{
			bson.M{"organization_id": *filters.VisibleTo},
			bson.M{"is_public": true},
		}
	}
	return filter
}

func (s *MongoMaterialStore) Search(ctx context.Context, query string, filters SearchFilters, limit int) ([]models.Material, error) {
	if limit <= 0 || limit > MaxSearchResults {
		limit = MaxSearchResults
	}

	opts := options.Find().SetLimit(int64(limit))
	if strings.TrimSpace(query) != "" {
		score := bson.M{"$meta": "textScore"}
		opts.SetProjection(bson.M{"score": score, "text_content": 0})
		opts.SetSort(bson.D{{Key: "score", Value: score}})
	} else {
		opts.SetProjection(withoutText)
		opts.SetSort(bson.D{{Key: "created_at", Value: -1}})
	}

	cursor, err := s.collection.Find(ctx, buildSearchFilter(query, filters), opts)
	s.record("search", err)
	if err != nil {
		return nil, fmt.Errorf("failed to search materials: %w", err)
	}
	defer cursor.Close(ctx)

	materials := []models.Material{}
	if err := cursor.All(ctx, &materials); err != nil {
		return nil, fmt.Errorf("failed to decode materials: %w", err)
	}
	return materials, nil
}

func (s *MongoMaterialStore) FindByStatuses(ctx context.Context, statuses ...string) ([]models.Material, error) {
	opts := options.Find().
		SetProjection(withoutText).
		SetSort(bson.D{{Key: "created_at", Value: 1}}) // oldest first

	cursor, err := s.collection.Find(ctx, bson.M{"processing_status": bson.M{"$in": statuses}}, opts)
	s.record("find", err)
	if err != nil {
		return nil, fmt.Errorf("failed to find materials by status: %w", err)
	}
	defer cursor.Close(ctx)

	materials := []models.Material{}
	if err := cursor.All(ctx, &materials); err != nil {
		return nil, fmt.Errorf("failed to decode materials: %w", err)
	}
	return materials, nil
}

func (s *MongoMaterialStore) List(ctx context.Context, orgID primitive.ObjectID, skip, limit int64) ([]models.Material, int64, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"organization_id": orgID},
		bson.M{"is_public": true},
	}}

	total, err := s.collection.CountDocuments(ctx, filter)
	s.record("count", err)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count materials: %w", err)
	}

	opts := options.Find().
		SetProjection(withoutText).
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(skip).
		SetLimit(limit)

	cursor, err := s.collection.Find(ctx, filter, opts)
	s.record("find", err)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list materials: %w", err)
	}
	defer cursor.Close(ctx)

	materials := []models.Material{}
	if err := cursor.All(ctx, &materials); err != nil {
		return nil, 0, fmt.Errorf("failed to decode materials: %w", err)
	}
	return materials, total, nil
}

func (s *MongoMaterialStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	s.record("delete", err)
	if err != nil {
		return fmt.Errorf("failed to delete material: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%s: %w", id.Hex(), ErrMaterialNotFound)
	}
	return nil
}
