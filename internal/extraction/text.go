package extraction

import (
	"context"
	"fmt"
	"os"
	"strings"
)

func (m *Manager) extractPlainText(ctx context.Context, path, ext string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read text file: %w", err)
	}
	text := string(data)
	text = strings.TrimPrefix(text, "\uFEFF")

	lines := 0
	if normalized := Normalize(text); normalized != "" {
		lines = strings.Count(normalized, "\n") + 1
	}

	return Result{
		TextContent: text,
		Metadata: map[string]interface{}{
			metaExtractor: "text",
			metaLineCount: lines,
		},
	}, nil
}
