package extraction

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedType is wrapped by the error reported for unknown file extensions
var ErrUnsupportedType = errors.New("Tipo de arquivo não suportado")

// Result is the outcome of one extraction. Failures are reported through Error,
// never as a returned error or panic.
type Result struct {
	TextContent string                 `json:"text_content"`
	PageCount   int                    `json:"page_count,omitempty"`
	Metadata    map[string]interface{} `json:"metadata"`
	Error       string                 `json:"error,omitempty"`
}

// Failed reports whether extraction produced no usable text
func (r Result) Failed() bool {
	return r.Error != "" || strings.TrimSpace(r.TextContent) == ""
}

func failure(err error) Result {
	return Result{
		TextContent: "",
		Metadata:    map[string]interface{}{},
		Error:       err.Error(),
	}
}

func unsupported(ext string) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
}
