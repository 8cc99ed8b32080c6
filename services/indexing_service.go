package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"material-indexing-platform/internal/chunking"
	"material-indexing-platform/internal/extraction"
	"material-indexing-platform/internal/logger"
	"material-indexing-platform/internal/storage"
	"material-indexing-platform/internal/telemetry"
	"material-indexing-platform/models"
	"material-indexing-platform/utils"
)

// Extractor produces text for a stored object
type Extractor interface {
	ExtractFromStorage(ctx context.Context, objectKey, fileType string) extraction.Result
}

// IndexingService drives materials through extraction and chunking and
// answers search and chunk queries. It is the error boundary of the pipeline:
// ProcessMaterial reports failures in its result and never panics.
type IndexingService struct {
	store     MaterialStore
	extractor Extractor
	enqueuer  TaskEnqueuer
	objects   storage.ObjectStore
	cache     ChunkCache
	now       func() time.Time
	log       *slog.Logger
	metrics   *telemetry.Metrics
}

type IndexingOption func(*IndexingService)

func WithIndexingLogger(l *slog.Logger) IndexingOption {
	return func(s *IndexingService) { s.log = l }
}

func WithChunkCache(c ChunkCache) IndexingOption {
	return func(s *IndexingService) { s.cache = c }
}

func WithClock(now func() time.Time) IndexingOption {
	return func(s *IndexingService) { s.now = now }
}

func WithIndexingMetrics(m *telemetry.Metrics) IndexingOption {
	return func(s *IndexingService) { s.metrics = m }
}

// WithObjectStore enables DeleteMaterial to remove the stored file
func WithObjectStore(o storage.ObjectStore) IndexingOption {
	return func(s *IndexingService) { s.objects = o }
}

func NewIndexingService(store MaterialStore, extractor Extractor, enqueuer TaskEnqueuer, opts ...IndexingOption) *IndexingService {
	s := &IndexingService{
		store:     store,
		extractor: extractor,
		enqueuer:  enqueuer,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.With("component", "indexing")
	}
	return s
}

// timestamp is truncated to what a BSON datetime keeps
func (s *IndexingService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// setStatus persists a status change, refusing moves outside the state machine
func (s *IndexingService) setStatus(ctx context.Context, m *models.Material, to string) error {
	if m.ProcessingStatus == to {
		return nil
	}
	if !models.CanTransition(m.ProcessingStatus, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.ProcessingStatus, to)
	}
	if err := s.store.UpdateStatus(ctx, m.ID, to, s.timestamp()); err != nil {
		return err
	}
	m.ProcessingStatus = to
	return nil
}

// ProcessMaterial extracts, chunks and persists one material
func (s *IndexingService) ProcessMaterial(ctx context.Context, materialID string) (result models.IndexingResult) {
	start := s.now()
	result = models.IndexingResult{MaterialID: materialID}

	ctx, span := telemetry.Tracer("indexing").Start(ctx, "indexing.process_material")
	span.SetAttributes(attribute.String("material.id", materialID))

	var (
		id         primitive.ObjectID
		processing bool // the material reached "processing" in this run
	)

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Processing panicked", "material_id", materialID, "panic", r)
			result = s.fail(ctx, id, materialID, processing, fmt.Errorf("processing crashed: %v", r))
		}
		status := models.StatusIndexed
		if !result.Success {
			status = models.StatusFailed
			span.SetStatus(codes.Error, result.Error)
		}
		s.metrics.RecordProcessing(s.now().Sub(start).Seconds(), status, result.TotalChunks)
		span.SetAttributes(attribute.Int("material.chunks", result.TotalChunks))
		span.End()
	}()

	id, err := primitive.ObjectIDFromHex(materialID)
	if err != nil {
		return s.fail(ctx, id, materialID, false, fmt.Errorf("%w: invalid id %q", ErrMaterialNotFound, materialID))
	}

	material, err := s.store.FindByID(ctx, id)
	if err != nil {
		return s.fail(ctx, id, materialID, false, err)
	}

	// failed and indexed materials re-enter through pending
	if material.ProcessingStatus == models.StatusFailed || material.ProcessingStatus == models.StatusIndexed {
		if err := s.setStatus(ctx, material, models.StatusPending); err != nil {
			return s.fail(ctx, id, materialID, false, err)
		}
	}
	if material.ProcessingStatus == models.StatusProcessing {
		s.log.Warn("Material already processing; continuing", "material_id", materialID)
	}
	if err := s.setStatus(ctx, material, models.StatusProcessing); err != nil {
		return s.fail(ctx, id, materialID, false, err)
	}
	processing = true

	extracted := s.extractor.ExtractFromStorage(ctx, material.ObjectKey(), material.FileType)
	if extracted.Failed() {
		msg := extracted.Error
		if msg == "" {
			msg = "no text could be extracted from the material"
		}
		return s.fail(ctx, id, materialID, true, errors.New(msg))
	}

	segments := chunking.Split(extracted.TextContent)
	chunks := chunking.BuildChunks(material, segments, extracted.PageCount)

	now := s.timestamp()
	metadata := make(map[string]interface{}, len(extracted.Metadata)+2)
	for k, v := range extracted.Metadata {
		metadata[k] = v
	}
	metadata[models.MetaChunkCount] = len(chunks)
	metadata[models.MetaProcessedAt] = now

	if err := s.store.MarkIndexed(ctx, id, extracted.TextContent, metadata, now); err != nil {
		return s.fail(ctx, id, materialID, true, err)
	}

	if s.cache != nil {
		text := extracted.TextContent
		material.TextContent = &text
		material.LastIndexed = &now
		if err := s.cache.Set(ctx, material, chunks); err != nil {
			s.log.Warn("Failed to warm chunk cache", "material_id", materialID, "error", err)
		}
	}

	s.log.Info("Material indexed",
		"material_id", materialID,
		"chunks", len(chunks),
		"pages", extracted.PageCount,
		"duration", s.now().Sub(start))

	return models.IndexingResult{
		Success:     true,
		MaterialID:  materialID,
		Chunks:      chunks,
		TotalChunks: len(chunks),
	}
}

// fail records the error on the material when this run moved it to processing.
// The write is best effort; its own failure is only logged.
func (s *IndexingService) fail(ctx context.Context, id primitive.ObjectID, materialID string, processing bool, cause error) models.IndexingResult {
	s.log.Warn("Material processing failed", "material_id", materialID, "error", cause)

	if processing {
		writeCtx, cancel := utils.Detached(ctx, utils.DefaultTimeout)
		defer cancel()
		if err := s.store.MarkFailed(writeCtx, id, cause.Error(), s.timestamp()); err != nil {
			s.log.Error("Failed to record processing failure", "material_id", materialID, "error", err)
		}
	}

	return models.IndexingResult{
		Success:    false,
		MaterialID: materialID,
		Error:      cause.Error(),
	}
}

// SearchMaterials runs a text search over indexed materials, best match first
func (s *IndexingService) SearchMaterials(ctx context.Context, query string, filters SearchFilters) ([]models.Material, error) {
	ctx, span := telemetry.Tracer("indexing").Start(ctx, "indexing.search")
	defer span.End()
	span.SetAttributes(attribute.String("search.query", query))

	materials, err := s.store.Search(ctx, query, filters, MaxSearchResults)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.log.Error("Material search failed", "query", query, "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("search.results", len(materials)))
	return materials, nil
}

// GetMaterialChunks recomputes the chunks of an indexed material. Anything
// else (unknown id, not indexed, no text) yields an empty list.
func (s *IndexingService) GetMaterialChunks(ctx context.Context, materialID string) []models.IndexedChunk {
	id, err := primitive.ObjectIDFromHex(materialID)
	if err != nil {
		return []models.IndexedChunk{}
	}
	material, err := s.store.FindByID(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrMaterialNotFound) {
			s.log.Error("Failed to load material for chunks", "material_id", materialID, "error", err)
		}
		return []models.IndexedChunk{}
	}
	return s.MaterialChunks(ctx, material)
}

// MaterialChunks is GetMaterialChunks for an already loaded material
func (s *IndexingService) MaterialChunks(ctx context.Context, material *models.Material) []models.IndexedChunk {
	if material.ProcessingStatus != models.StatusIndexed || material.Text() == "" {
		return []models.IndexedChunk{}
	}

	if s.cache == nil {
		return chunking.BuildChunks(material, chunking.Split(material.Text()), material.PageCount())
	}

	cacheCtx, cancel := utils.WithShortTimeout(ctx)
	defer cancel()
	if chunks, ok := s.cache.Get(cacheCtx, material); ok {
		return chunks
	}

	chunks := chunking.BuildChunks(material, chunking.Split(material.Text()), material.PageCount())

	if err := s.cache.Set(cacheCtx, material, chunks); err != nil {
		s.log.Warn("Failed to cache chunks", "material_id", material.ID.Hex(), "error", err)
	}
	return chunks
}

// ReprocessFailedMaterials processes every failed or pending material, one at a time
func (s *IndexingService) ReprocessFailedMaterials(ctx context.Context) (models.ReprocessSummary, error) {
	summary := models.ReprocessSummary{}

	materials, err := s.store.FindByStatuses(ctx, models.StatusFailed, models.StatusPending)
	if err != nil {
		return summary, fmt.Errorf("failed to load materials for reprocessing: %w", err)
	}

	s.log.Info("Reprocessing materials", "count", len(materials))
	for _, m := range materials {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if s.ProcessMaterial(ctx, m.ID.Hex()).Success {
			summary.Success++
		} else {
			summary.Failures++
		}
	}
	s.log.Info("Reprocessing finished", "success", summary.Success, "failures", summary.Failures)
	return summary, nil
}

// RegisterMaterialInput describes a file already uploaded to object storage
type RegisterMaterialInput struct {
	Title          string
	Description    string
	Category       models.Category
	Tags           []string
	Author         string
	PublishedAt    *time.Time
	FileName       string
	FileURL        string
	FileSize       int64
	FileType       string
	ContentType    string
	UploadedBy     primitive.ObjectID
	OrganizationID primitive.ObjectID
	IsPublic       bool
}

func (in RegisterMaterialInput) validate() error {
	var problems []string
	if strings.TrimSpace(in.Title) == "" {
		problems = append(problems, "title is required")
	}
	if strings.TrimSpace(in.FileName) == "" {
		problems = append(problems, "file_name is required")
	}
	if strings.ContainsAny(in.FileName, `/\`) {
		problems = append(problems, "file_name must not contain path separators")
	}
	if in.Category != "" && !in.Category.Valid() {
		problems = append(problems, fmt.Sprintf("unknown category %q", in.Category))
	}
	if in.OrganizationID.IsZero() {
		problems = append(problems, "organization is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidMaterial, strings.Join(problems, "; "))
	}
	return nil
}

// RegisterMaterial records a pending material and queues its ingestion.
// A failed enqueue is logged; the material stays pending for the batch reprocess.
func (s *IndexingService) RegisterMaterial(ctx context.Context, in RegisterMaterialInput) (*models.Material, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	category := in.Category
	if category == "" {
		category = models.CategoryOther
	}
	fileType := in.FileType
	if fileType == "" {
		fileType = filepath.Ext(in.FileName)
	}
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}

	now := s.timestamp()
	material := &models.Material{
		ID:               primitive.NewObjectID(),
		Title:            strings.TrimSpace(in.Title),
		Description:      in.Description,
		Category:         category,
		Tags:             tags,
		Author:           in.Author,
		PublishedAt:      in.PublishedAt,
		FileName:         in.FileName,
		FileURL:          in.FileURL,
		FileSize:         in.FileSize,
		FileType:         extraction.NormalizeExtension(fileType),
		ContentType:      in.ContentType,
		ProcessingStatus: models.StatusPending,
		Metadata:         map[string]interface{}{},
		UploadedBy:       in.UploadedBy,
		OrganizationID:   in.OrganizationID,
		IsPublic:         in.IsPublic,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.Insert(ctx, material); err != nil {
		return nil, err
	}

	if err := s.TriggerIngestion(ctx, material.ID.Hex()); err != nil {
		s.log.Error("Failed to queue ingestion", "material_id", material.ID.Hex(), "error", err)
	}
	return material, nil
}

// TriggerIngestion queues processing of a newly registered material
func (s *IndexingService) TriggerIngestion(ctx context.Context, materialID string) error {
	if s.enqueuer == nil {
		return fmt.Errorf("no task queue configured")
	}
	return s.enqueuer.EnqueueProcess(ctx, materialID)
}

// TriggerReprocess resets an indexed or failed material to pending and queues
// it again. Pending materials are only re-queued.
func (s *IndexingService) TriggerReprocess(ctx context.Context, materialID string, orgID primitive.ObjectID) error {
	material, err := s.ownedMaterial(ctx, materialID, orgID)
	if err != nil {
		return err
	}

	if material.ProcessingStatus != models.StatusPending {
		if err := s.setStatus(ctx, material, models.StatusPending); err != nil {
			return err
		}
	}

	if s.enqueuer == nil {
		return fmt.Errorf("no task queue configured")
	}
	return s.enqueuer.EnqueueReprocess(ctx, materialID)
}

// GetMaterial returns a material visible to orgID
func (s *IndexingService) GetMaterial(ctx context.Context, materialID string, orgID primitive.ObjectID) (*models.Material, error) {
	id, err := primitive.ObjectIDFromHex(materialID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid id %q", ErrMaterialNotFound, materialID)
	}
	material, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !material.VisibleTo(orgID) {
		return nil, fmt.Errorf("%s: %w", materialID, ErrMaterialNotFound)
	}
	return material, nil
}

func (s *IndexingService) ownedMaterial(ctx context.Context, materialID string, orgID primitive.ObjectID) (*models.Material, error) {
	material, err := s.GetMaterial(ctx, materialID, orgID)
	if err != nil {
		return nil, err
	}
	if material.OrganizationID != orgID {
		return nil, ErrNotOwner
	}
	return material, nil
}

// ListMaterials pages through the materials visible to orgID, newest first
func (s *IndexingService) ListMaterials(ctx context.Context, orgID primitive.ObjectID, page, limit int) ([]models.Material, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.store.List(ctx, orgID, int64((page-1)*limit), int64(limit))
}

// DeleteMaterial removes the stored file and the record together
func (s *IndexingService) DeleteMaterial(ctx context.Context, materialID string, orgID primitive.ObjectID) error {
	material, err := s.ownedMaterial(ctx, materialID, orgID)
	if err != nil {
		return err
	}

	if s.objects != nil {
		if err := s.objects.Delete(ctx, material.ObjectKey()); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			return fmt.Errorf("failed to delete stored file: %w", err)
		}
	}

	if err := s.store.Delete(ctx, material.ID); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, materialID); err != nil {
			s.log.Warn("Failed to invalidate chunk cache", "material_id", materialID, "error", err)
		}
	}

	s.log.Info("Material deleted", "material_id", materialID, "organization_id", orgID.Hex())
	return nil
}
