package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"material-indexing-platform/internal/config"
	"material-indexing-platform/internal/logger"
	"material-indexing-platform/internal/storage"
	"material-indexing-platform/internal/telemetry"
)

// Metadata keys set by the strategies
const (
	metaExtractor      = "extractor"
	metaPageCount      = "pageCount"
	metaLineCount      = "lineCount"
	metaSheetCount     = "sheetCount"
	metaCharacterCount = "characterCount"
	metaWordCount      = "wordCount"
)

type strategy func(m *Manager, ctx context.Context, path, ext string) (Result, error)

var strategies = map[Kind]strategy{
	KindPlainText: (*Manager).extractPlainText,
	KindPDF:       (*Manager).extractPDF,
	KindOffice:    (*Manager).extractOffice,
}

// Tools names the external binaries the strategies invoke
type Tools struct {
	Pdftotext string
	Pdfinfo   string
	Soffice   string
}

// Manager turns local files or stored objects into normalized text
type Manager struct {
	store      storage.ObjectStore
	runner     CommandRunner
	pages      PageCounter
	tools      Tools
	scratchDir string
	log        *slog.Logger
	metrics    *telemetry.Metrics
}

type Option func(*Manager)

func WithRunner(r CommandRunner) Option {
	return func(m *Manager) { m.runner = r }
}

func WithPageCounter(p PageCounter) Option {
	return func(m *Manager) { m.pages = p }
}

func WithTools(t Tools) Option {
	return func(m *Manager) { m.tools = t }
}

func WithScratchDir(dir string) Option {
	return func(m *Manager) { m.scratchDir = dir }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager builds a manager. Without options it runs the poppler and
// LibreOffice binaries from PATH with a five minute timeout.
func NewManager(store storage.ObjectStore, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		runner:     ExecRunner{Timeout: 5 * time.Minute},
		tools:      Tools{Pdftotext: "pdftotext", Pdfinfo: "pdfinfo", Soffice: "soffice"},
		scratchDir: os.TempDir(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.pages == nil {
		m.pages = ChainPageCounter{
			PdfinfoPageCounter{Runner: m.runner, Path: m.tools.Pdfinfo},
			GoPDFPageCounter{},
		}
	}
	if m.log == nil {
		m.log = logger.With("component", "extraction")
	}
	return m
}

// NewManagerFromConfig wires binaries, scratch directory and timeout from cfg
func NewManagerFromConfig(cfg *config.Config, store storage.ObjectStore, opts ...Option) *Manager {
	base := []Option{
		WithRunner(ExecRunner{Timeout: cfg.ExtractionTimeout}),
		WithTools(Tools{
			Pdftotext: cfg.PdftotextPath,
			Pdfinfo:   cfg.PdfinfoPath,
			Soffice:   cfg.SofficePath,
		}),
		WithScratchDir(cfg.ScratchDir),
	}
	return NewManager(store, append(base, opts...)...)
}

// ExtractFromFile extracts text from a local file. fileType is the recorded
// extension; when empty the path's extension is used.
func (m *Manager) ExtractFromFile(ctx context.Context, path, fileType string) (result Result) {
	ext := extensionOf(path, fileType)

	ctx, span := telemetry.Tracer("extraction").Start(ctx, "extraction.extract_file")
	span.SetAttributes(attribute.String("extraction.extension", ext))
	defer span.End()

	kind, ok := kindByExtension[ext]
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Extraction panicked", "path", path, "extension", ext, "panic", r)
			result = failure(fmt.Errorf("extraction crashed: %v", r))
		}
		if result.Error != "" {
			span.SetStatus(codes.Error, result.Error)
			m.metrics.RecordExtractionFailure(string(kind))
		}
	}()

	if !ok {
		kind = "unsupported"
		return failure(unsupported(ext))
	}

	start := time.Now()
	res, err := strategies[kind](m, ctx, path, ext)
	if err != nil {
		m.log.Warn("Extraction failed", "path", path, "kind", kind, "error", err)
		return failure(err)
	}

	res.TextContent = Normalize(res.TextContent)
	if res.Metadata == nil {
		res.Metadata = map[string]interface{}{}
	}
	for k, v := range textStats(res.TextContent) {
		res.Metadata[k] = v
	}

	span.SetAttributes(
		attribute.String("extraction.kind", string(kind)),
		attribute.Int("extraction.characters", len(res.TextContent)),
		attribute.Int("extraction.pages", res.PageCount),
	)
	m.log.Debug("Extraction finished", "kind", kind, "pages", res.PageCount, "duration", time.Since(start))
	return res
}

// ExtractFromStorage downloads objectKey to a scratch file that keeps the
// extension and extracts it. The scratch file is always removed.
func (m *Manager) ExtractFromStorage(ctx context.Context, objectKey, fileType string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Extraction from storage panicked", "key", objectKey, "panic", r)
			result = failure(fmt.Errorf("extraction crashed: %v", r))
		}
	}()

	if m.store == nil {
		return failure(fmt.Errorf("no object store configured"))
	}

	ext := NormalizeExtension(fileType)
	if ext == "" {
		ext = NormalizeExtension(filepath.Ext(objectKey))
	}
	if _, ok := kindByExtension[ext]; !ok {
		return failure(unsupported(ext))
	}

	if err := os.MkdirAll(m.scratchDir, 0755); err != nil {
		return failure(fmt.Errorf("failed to prepare scratch directory: %w", err))
	}
	localPath := filepath.Join(m.scratchDir, "material-"+uuid.NewString()+ext)
	defer os.Remove(localPath)

	if err := m.store.Download(ctx, objectKey, localPath); err != nil {
		m.log.Warn("Download for extraction failed", "key", objectKey, "error", err)
		return failure(fmt.Errorf("failed to download %s: %w", objectKey, err))
	}

	return m.ExtractFromFile(ctx, localPath, ext)
}
