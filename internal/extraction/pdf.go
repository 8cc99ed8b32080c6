package extraction

import (
	"context"
	"fmt"
)

// extractPDF runs pdftotext in layout mode; the page count is best effort
func (m *Manager) extractPDF(ctx context.Context, path, ext string) (Result, error) {
	out, err := m.runner.Run(ctx, m.tools.Pdftotext, "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		return Result{}, fmt.Errorf("pdftotext: %w", err)
	}

	pages, err := m.pages.CountPages(ctx, path)
	if err != nil {
		m.log.Debug("Page count unavailable", "path", path, "error", err)
		pages = 0
	}

	return Result{
		TextContent: string(out),
		PageCount:   pages,
		Metadata: map[string]interface{}{
			metaExtractor: "pdftotext",
			metaPageCount: pages,
		},
	}, nil
}
