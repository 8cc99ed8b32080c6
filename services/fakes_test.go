package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"material-indexing-platform/internal/extraction"
	"material-indexing-platform/models"
)

// memStore is an in-memory MaterialStore that records every status written
type memStore struct {
	mu        sync.Mutex
	materials map[primitive.ObjectID]*models.Material
	history   map[primitive.ObjectID][]string
	order     []primitive.ObjectID

	failIndexed error
	failMarking error
}

func newMemStore() *memStore {
	return &memStore{
		materials: map[primitive.ObjectID]*models.Material{},
		history:   map[primitive.ObjectID][]string{},
	}
}

func copyMaterial(m *models.Material) *models.Material {
	c := *m
	c.Metadata = make(map[string]interface{}, len(m.Metadata))
	for k, v := range m.Metadata {
		c.Metadata[k] = v
	}
	c.Tags = append([]string(nil), m.Tags...)
	if m.TextContent != nil {
		text := *m.TextContent
		c.TextContent = &text
	}
	return &c
}

// seed adds a material directly, bypassing RegisterMaterial
func (s *memStore) seed(m *models.Material) *models.Material {
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	if m.ProcessingStatus == "" {
		m.ProcessingStatus = models.StatusPending
	}
	if err := s.Insert(context.Background(), m); err != nil {
		panic(err)
	}
	return m
}

func (s *memStore) get(id primitive.ObjectID) *models.Material {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.materials[id]; ok {
		return copyMaterial(m)
	}
	return nil
}

func (s *memStore) statuses(id primitive.ObjectID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history[id]...)
}

func (s *memStore) Insert(ctx context.Context, m *models.Material) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	s.materials[m.ID] = copyMaterial(m)
	s.history[m.ID] = []string{m.ProcessingStatus}
	s.order = append(s.order, m.ID)
	return nil
}

func (s *memStore) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.materials[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id.Hex(), ErrMaterialNotFound)
	}
	return copyMaterial(m), nil
}

func (s *memStore) setStatusLocked(id primitive.ObjectID, status string, at time.Time) (*models.Material, error) {
	m, ok := s.materials[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id.Hex(), ErrMaterialNotFound)
	}
	m.ProcessingStatus = status
	m.UpdatedAt = at
	s.history[id] = append(s.history[id], status)
	return m, nil
}

func (s *memStore) UpdateStatus(ctx context.Context, id primitive.ObjectID, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.setStatusLocked(id, status, at)
	return err
}

func (s *memStore) MarkFailed(ctx context.Context, id primitive.ObjectID, processingError string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMarking != nil {
		return s.failMarking
	}
	m, err := s.setStatusLocked(id, models.StatusFailed, at)
	if err != nil {
		return err
	}
	if m.Metadata == nil {
		m.Metadata = map[string]interface{}{}
	}
	m.Metadata[models.MetaProcessingError] = processingError
	return nil
}

func (s *memStore) MarkIndexed(ctx context.Context, id primitive.ObjectID, text string, metadata map[string]interface{}, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIndexed != nil {
		return s.failIndexed
	}
	m, err := s.setStatusLocked(id, models.StatusIndexed, at)
	if err != nil {
		return err
	}
	m.TextContent = &text
	m.LastIndexed = &at
	if m.Metadata == nil {
		m.Metadata = map[string]interface{}{}
	}
	for k, v := range metadata {
		m.Metadata[k] = v
	}
	return nil
}

func matchScore(m *models.Material, query string) int {
	haystack := strings.ToLower(strings.Join(append([]string{m.Title, m.Description, m.Text()}, m.Tags...), " "))
	score := 0
	for _, term := range strings.Fields(strings.ToLower(query)) {
		score += strings.Count(haystack, term)
	}
	return score
}

func containsAny[T comparable](have []T, want []T) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func (s *memStore) Search(ctx context.Context, query string, filters SearchFilters, limit int) ([]models.Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type scored struct {
		m     *models.Material
		score int
	}
	var hits []scored
	for _, id := range s.order {
		m := s.materials[id]
		if m.ProcessingStatus != models.StatusIndexed {
			continue
		}
		if len(filters.Categories) > 0 && !containsAny(filters.Categories, []models.Category{m.Category}) {
			continue
		}
		if len(filters.Tags) > 0 && !containsAny(m.Tags, filters.Tags) {
			continue
		}
		if filters.OrganizationID != nil && m.OrganizationID != *filters.OrganizationID {
			continue
		}
		if filters.VisibleTo != nil && !m.VisibleTo(*filters.VisibleTo) {
			continue
		}
		score := matchScore(m, query)
		if strings.TrimSpace(query) != "" && score == 0 {
			continue
		}
		hits = append(hits, scored{m: m, score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	out := []models.Material{}
	for _, h := range hits {
		if len(out) == limit {
			break
		}
		c := copyMaterial(h.m)
		c.TextContent = nil
		out = append(out, *c)
	}
	return out, nil
}

func (s *memStore) FindByStatuses(ctx context.Context, statuses ...string) ([]models.Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Material{}
	for _, id := range s.order {
		m := s.materials[id]
		if containsAny(statuses, []string{m.ProcessingStatus}) {
			out = append(out, *copyMaterial(m))
		}
	}
	return out, nil
}

func (s *memStore) List(ctx context.Context, orgID primitive.ObjectID, skip, limit int64) ([]models.Material, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var visible []models.Material
	for i := len(s.order) - 1; i >= 0; i-- {
		m := s.materials[s.order[i]]
		if m.VisibleTo(orgID) {
			visible = append(visible, *copyMaterial(m))
		}
	}
	total := int64(len(visible))
	if skip >= total {
		return []models.Material{}, total, nil
	}
	end := skip + limit
	if end > total {
		end = total
	}
	return visible[skip:end], total, nil
}

func (s *memStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.materials[id]; !ok {
		return fmt.Errorf("%s: %w", id.Hex(), ErrMaterialNotFound)
	}
	delete(s.materials, id)
	return nil
}

// scriptedExtractor returns canned results per object key
type scriptedExtractor struct {
	results map[string]extraction.Result
	panics  bool
	calls   []string
}

func (e *scriptedExtractor) ExtractFromStorage(ctx context.Context, objectKey, fileType string) extraction.Result {
	e.calls = append(e.calls, objectKey)
	if e.panics {
		panic("converter exploded")
	}
	if r, ok := e.results[objectKey]; ok {
		return r
	}
	return extraction.Result{Error: "failed to download " + objectKey + ": object not found"}
}

type recordingEnqueuer struct {
	mu        sync.Mutex
	processed []string
	reprocess []string
	err       error
}

func (q *recordingEnqueuer) EnqueueProcess(ctx context.Context, materialID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.processed = append(q.processed, materialID)
	return nil
}

func (q *recordingEnqueuer) EnqueueReprocess(ctx context.Context, materialID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.reprocess = append(q.reprocess, materialID)
	return nil
}

type memChunkCache struct {
	entries     map[string][]models.IndexedChunk
	hits        int
	invalidated []string
}

func newMemChunkCache() *memChunkCache {
	return &memChunkCache{entries: map[string][]models.IndexedChunk{}}
}

func (c *memChunkCache) Get(ctx context.Context, m *models.Material) ([]models.IndexedChunk, bool) {
	chunks, ok := c.entries[ChunkCacheKey(m)]
	if ok {
		c.hits++
	}
	return chunks, ok
}

func (c *memChunkCache) Set(ctx context.Context, m *models.Material, chunks []models.IndexedChunk) error {
	key := ChunkCacheKey(m)
	if key == "" {
		return errors.New("material never indexed")
	}
	c.entries[key] = chunks
	return nil
}

func (c *memChunkCache) Invalidate(ctx context.Context, materialID string) error {
	c.invalidated = append(c.invalidated, materialID)
	for k := range c.entries {
		if strings.HasPrefix(k, "material:chunks:"+materialID+":") {
			delete(c.entries, k)
		}
	}
	return nil
}
