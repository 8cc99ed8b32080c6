package services

import "context"

// TaskEnqueuer submits background processing work. Implementations must not
// run the work on the caller's goroutine.
type TaskEnqueuer interface {
	EnqueueProcess(ctx context.Context, materialID string) error
	EnqueueReprocess(ctx context.Context, materialID string) error
}
