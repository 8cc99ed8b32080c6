package extraction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractOffice converts the document with headless LibreOffice into a scratch
// directory and reads the output. Spreadsheets go through CSV.
func (m *Manager) extractOffice(ctx context.Context, path, ext string) (Result, error) {
	outDir, err := os.MkdirTemp(m.scratchDir, "soffice-*")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(outDir)

	target, outExt := "txt:Text", ".txt"
	if spreadsheetExtensions[ext] {
		target, outExt = "csv", ".csv"
	}

	// a private profile keeps concurrent conversions from fighting over one lock
	profile := "-env:UserInstallation=file://" + filepath.ToSlash(filepath.Join(outDir, "profile"))
	_, err = m.runner.Run(ctx, m.tools.Soffice,
		profile,
		"--headless",
		"--nologo",
		"--nolockcheck",
		"--norestore",
		"--convert-to", target,
		"--outdir", outDir,
		path,
	)
	if err != nil {
		return Result{}, fmt.Errorf("soffice convert failed: %w", err)
	}

	outPath := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))+outExt)
	data, err := os.ReadFile(outPath)
	if err != nil {
		found, scanErr := firstFileWithExt(outDir, outExt)
		if scanErr != nil {
			return Result{}, fmt.Errorf("converted output not found at %s: %w", outPath, err)
		}
		if data, err = os.ReadFile(found); err != nil {
			return Result{}, fmt.Errorf("failed to read converted output: %w", err)
		}
	}

	res := Result{
		TextContent: string(data),
		Metadata: map[string]interface{}{
			metaExtractor: "libreoffice",
		},
	}
	if ext == ".xlsx" {
		if sheets, err := countSheets(path); err == nil {
			res.Metadata[metaSheetCount] = sheets
		} else {
			m.log.Debug("Sheet count unavailable", "path", path, "error", err)
		}
	}
	return res, nil
}

func countSheets(path string) (int, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.SheetCount, nil
}

func firstFileWithExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("no %s file in %s", ext, dir)
}
