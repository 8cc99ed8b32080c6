package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"material-indexing-platform/internal/config"
	"material-indexing-platform/internal/telemetry"
)

// ErrObjectNotFound is returned when a key has no object behind it
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the blob store holding uploaded material files.
// Keys follow {organizationId}/{fileName}.
type ObjectStore interface {
	Download(ctx context.Context, key, localPath string) error
	Upload(ctx context.Context, key string, r io.Reader, contentType string) error
	Delete(ctx context.Context, key string) error
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// New builds the store selected by STORAGE_DRIVER, wrapped in a circuit breaker
func New(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (ObjectStore, error) {
	var (
		store ObjectStore
		err   error
	)
	switch cfg.StorageDriver {
	case "gcs":
		store, err = NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentialsFile)
	case "local", "":
		store, err = NewLocalStore(cfg.FileStorageDir)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
	if err != nil {
		return nil, err
	}
	return NewBreakerStore(cfg.StorageDriver, store, metrics), nil
}

// CleanKey validates an object key and returns it in canonical form
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", fmt.Errorf("object key required")
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return cleaned, nil
}

// ContentTypeForKey guesses a content type from the key's extension
func ContentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".csv":
		return "text/csv"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".xls":
		return "application/vnd.ms-excel"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".ppt":
		return "application/vnd.ms-powerpoint"
	case ".pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case ".odt":
		return "application/vnd.oasis.opendocument.text"
	case ".ods":
		return "application/vnd.oasis.opendocument.spreadsheet"
	case ".odp":
		return "application/vnd.oasis.opendocument.presentation"
	case ".rtf":
		return "application/rtf"
	default:
		return "application/octet-stream"
	}
}
