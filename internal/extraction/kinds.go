package extraction

import (
	"path/filepath"
	"strings"
)

// Kind selects an extraction strategy
type Kind string

const (
	KindPlainText Kind = "plain_text"
	KindPDF       Kind = "pdf"
	KindOffice    Kind = "office"
)

var kindByExtension = map[string]Kind{
	".txt": KindPlainText,
	".md":  KindPlainText,
	".csv": KindPlainText,

	".pdf": KindPDF,

	".doc":  KindOffice,
	".docx": KindOffice,
	".rtf":  KindOffice,
	".odt":  KindOffice,
	".ppt":  KindOffice,
	".pptx": KindOffice,
	".odp":  KindOffice,
	".xls":  KindOffice,
	".xlsx": KindOffice,
	".ods":  KindOffice,
}

var spreadsheetExtensions = map[string]bool{
	".xls":  true,
	".xlsx": true,
	".ods":  true,
}

// NormalizeExtension turns "PDF", "pdf", ".Pdf" or "notes.pdf" into ".pdf"
func NormalizeExtension(fileType string) string {
	ext := strings.ToLower(strings.TrimSpace(fileType))
	if ext == "" {
		return ""
	}
	if i := strings.LastIndex(ext, "."); i > 0 {
		ext = ext[i:]
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// KindFor returns the strategy for a file type, or false when none handles it
func KindFor(fileType string) (Kind, bool) {
	kind, ok := kindByExtension[NormalizeExtension(fileType)]
	return kind, ok
}

// SupportedExtensions lists every extension with an extraction strategy
func SupportedExtensions() []string {
	exts := make([]string, 0, len(kindByExtension))
	for ext := range kindByExtension {
		exts = append(exts, ext)
	}
	return exts
}

func extensionOf(path, fileType string) string {
	if fileType != "" {
		return NormalizeExtension(fileType)
	}
	return NormalizeExtension(filepath.Ext(path))
}
