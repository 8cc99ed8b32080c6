package extraction

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PageCounter reads the page count of a local PDF
type PageCounter interface {
	CountPages(ctx context.Context, path string) (int, error)
}

// PdfinfoPageCounter shells out to poppler's pdfinfo. Its output format is the
// only tool-specific contract here; see ParsePdfinfoPages.
type PdfinfoPageCounter struct {
	Runner CommandRunner
	Path   string
}

func (c PdfinfoPageCounter) CountPages(ctx context.Context, path string) (int, error) {
	bin := c.Path
	if bin == "" {
		bin = "pdfinfo"
	}
	out, err := c.Runner.Run(ctx, bin, path)
	if err != nil {
		return 0, err
	}
	return ParsePdfinfoPages(out)
}

// ParsePdfinfoPages finds the "Pages:" line of pdfinfo output
func ParsePdfinfoPages(out []byte) (int, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "Pages:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		n, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil || n <= 0 {
			continue
		}
		return n, nil
	}
	return 0, fmt.Errorf("pdfinfo output missing Pages field")
}

// GoPDFPageCounter reads the page tree in-process
type GoPDFPageCounter struct{}

func (GoPDFPageCounter) CountPages(ctx context.Context, path string) (n int, err error) {
	// the parser panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()
	return r.NumPage(), nil
}

// ChainPageCounter returns the first positive count from its counters
type ChainPageCounter []PageCounter

func (c ChainPageCounter) CountPages(ctx context.Context, path string) (int, error) {
	var errs []error
	for _, counter := range c {
		n, err := counter.CountPages(ctx, path)
		if err == nil && n > 0 {
			return n, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return 0, fmt.Errorf("no page count available")
	}
	return 0, errors.Join(errs...)
}
