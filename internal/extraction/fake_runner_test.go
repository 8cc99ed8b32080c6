package extraction

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type call struct {
	name string
	args []string
}

// fakeRunner answers commands by binary name. Handlers may write files, as
// soffice does into --outdir.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []call
	handlers map[string]func(args []string) ([]byte, error)
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{handlers: map[string]func(args []string) ([]byte, error){}}
}

func (f *fakeRunner) on(name string, h func(args []string) ([]byte, error)) *fakeRunner {
	f.handlers[name] = h
	return f
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{name: name, args: args})
	f.mu.Unlock()

	h, ok := f.handlers[name]
	if !ok {
		return nil, errors.New(name + " not found in PATH")
	}
	return h(args)
}

func (f *fakeRunner) called(name string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// sofficeWrites simulates a conversion that writes content next to the input's base name
func sofficeWrites(content string) func(args []string) ([]byte, error) {
	return func(args []string) ([]byte, error) {
		outDir := argAfter(args, "--outdir")
		target := argAfter(args, "--convert-to")
		input := args[len(args)-1]
		ext := ".txt"
		if target == "csv" {
			ext = ".csv"
		}
		base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		return nil, os.WriteFile(filepath.Join(outDir, base+ext), []byte(content), 0644)
	}
}
