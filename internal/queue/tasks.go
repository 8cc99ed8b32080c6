package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"material-indexing-platform/internal/logger"
	"material-indexing-platform/models"
)

const (
	TaskProcessMaterial   = "material:process"
	TaskReprocessMaterial = "material:reprocess"
	TaskReprocessSweep    = "material:reprocess_sweep"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// ProcessingTimeout bounds one material run; extraction has its own shorter timeouts
const ProcessingTimeout = 30 * time.Minute

type MaterialPayload struct {
	MaterialID string `json:"material_id"`
}

// Task creators
func NewProcessMaterialTask(materialID string) (*asynq.Task, error) {
	return newMaterialTask(TaskProcessMaterial, materialID, QueueCritical)
}

func NewReprocessMaterialTask(materialID string) (*asynq.Task, error) {
	return newMaterialTask(TaskReprocessMaterial, materialID, QueueDefault)
}

// NewReprocessSweepTask re-runs every failed or pending material. Only one
// sweep may be queued at a time.
func NewReprocessSweepTask() *asynq.Task {
	return asynq.NewTask(
		TaskReprocessSweep,
		nil,
		asynq.MaxRetry(0),
		asynq.Timeout(6*time.Hour),
		asynq.Unique(time.Hour),
		asynq.Queue(QueueLow),
	)
}

func newMaterialTask(taskType, materialID, queue string) (*asynq.Task, error) {
	if _, err := primitive.ObjectIDFromHex(materialID); err != nil {
		return nil, fmt.Errorf("invalid material id %q", materialID)
	}
	payload, err := json.Marshal(MaterialPayload{MaterialID: materialID})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		taskType,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(ProcessingTimeout),
		asynq.Queue(queue),
	), nil
}

// Processor is the part of the indexing service the handlers drive
type Processor interface {
	ProcessMaterial(ctx context.Context, materialID string) models.IndexingResult
	ReprocessFailedMaterials(ctx context.Context) (models.ReprocessSummary, error)
}

// Task handlers
type TaskProcessor struct {
	indexer Processor
	log     *slog.Logger
}

func NewTaskProcessor(indexer Processor) *TaskProcessor {
	return &TaskProcessor{
		indexer: indexer,
		log:     logger.With("component", "worker"),
	}
}

// Register wires every handler into mux
func (p *TaskProcessor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskProcessMaterial, p.HandleProcessMaterial)
	mux.HandleFunc(TaskReprocessMaterial, p.HandleProcessMaterial)
	mux.HandleFunc(TaskReprocessSweep, p.HandleReprocessSweep)
}

// HandleProcessMaterial handles both first ingestion and reprocess requests. A
// failed extraction is recorded on the material and is not retried; the
// material stays "failed" until someone asks for a reprocess.
func (p *TaskProcessor) HandleProcessMaterial(ctx context.Context, t *asynq.Task) error {
	var payload MaterialPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}
	if payload.MaterialID == "" {
		return fmt.Errorf("missing material_id: %w", asynq.SkipRetry)
	}

	p.log.Info("Processing material", "task", t.Type(), "material_id", payload.MaterialID)

	result := p.indexer.ProcessMaterial(ctx, payload.MaterialID)
	if !result.Success {
		p.log.Warn("Material processing failed",
			"material_id", payload.MaterialID,
			"error", result.Error)
		return nil
	}

	p.log.Info("Material processed", "material_id", payload.MaterialID, "chunks", result.TotalChunks)
	return nil
}

func (p *TaskProcessor) HandleReprocessSweep(ctx context.Context, t *asynq.Task) error {
	summary, err := p.indexer.ReprocessFailedMaterials(ctx)
	if err != nil {
		return err
	}
	p.log.Info("Reprocess sweep finished", "success", summary.Success, "failures", summary.Failures)
	return nil
}

// AsynqEnqueuer submits material tasks to asynq
type AsynqEnqueuer struct {
	client *asynq.Client
}

func NewAsynqEnqueuer(client *asynq.Client) *AsynqEnqueuer {
	return &AsynqEnqueuer{client: client}
}

func (e *AsynqEnqueuer) EnqueueProcess(ctx context.Context, materialID string) error {
	task, err := NewProcessMaterialTask(materialID)
	if err != nil {
		return err
	}
	return e.enqueue(ctx, task)
}

func (e *AsynqEnqueuer) EnqueueReprocess(ctx context.Context, materialID string) error {
	task, err := NewReprocessMaterialTask(materialID)
	if err != nil {
		return err
	}
	return e.enqueue(ctx, task)
}

// EnqueueSweep queues a reprocess sweep; a sweep already queued is not an error
func (e *AsynqEnqueuer) EnqueueSweep(ctx context.Context) error {
	err := e.enqueue(ctx, NewReprocessSweepTask())
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

func (e *AsynqEnqueuer) enqueue(ctx context.Context, task *asynq.Task) error {
	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", task.Type(), err)
	}
	logger.Debug("Task enqueued", "task", task.Type(), "id", info.ID, "queue", info.Queue)
	return nil
}
