package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sony/gobreaker"

	"material-indexing-platform/internal/logger"
	"material-indexing-platform/internal/telemetry"
)

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = errors.New("object storage circuit open")

// BreakerStore fails fast once the backing store keeps erroring.
// Missing objects and cancelled contexts do not count as failures.
type BreakerStore struct {
	next    ObjectStore
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerStore(name string, next ObjectStore, metrics *telemetry.Metrics) *BreakerStore {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ObjectStore:" + name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrObjectNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			metrics.RecordCircuitBreakerState(name, to.String())
		},
	})
	return &BreakerStore{next: next, breaker: breaker}
}

// State exposes the breaker state for health checks
func (s *BreakerStore) State() gobreaker.State {
	return s.breaker.State()
}

func (s *BreakerStore) run(fn func() error) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	return err
}

func (s *BreakerStore) Download(ctx context.Context, key, localPath string) error {
	return s.run(func() error { return s.next.Download(ctx, key, localPath) })
}

func (s *BreakerStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) error {
	return s.run(func() error { return s.next.Upload(ctx, key, r, contentType) })
}

func (s *BreakerStore) Delete(ctx context.Context, key string) error {
	return s.run(func() error { return s.next.Delete(ctx, key) })
}

func (s *BreakerStore) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	var url string
	err := s.run(func() error {
		var err error
		url, err = s.next.Presign(ctx, key, ttl)
		return err
	})
	return url, err
}

func (s *BreakerStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.run(func() error {
		var err error
		keys, err = s.next.List(ctx, prefix)
		return err
	})
	return keys, err
}

// Close releases the wrapped store's resources when it holds any
func (s *BreakerStore) Close() error {
	if c, ok := s.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
