package routes

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// HandlerSource is one handler file: its name, code, and declared route.
type HandlerSource struct {
	Name   string
	Code   string
	Method string
	Path   string
	File   string
}

// Routed reports whether the source declared a path.
func (h HandlerSource) Routed() bool { return h.Path != "" }

// NewHandlerSource parses the route annotation of code. TypeScript sources
// are transpiled after the annotation has been read.
func NewHandlerSource(name, file, code string) (HandlerSource, error) {
	method, path := ParseAnnotation(code)
	if strings.HasSuffix(file, ".ts") {
		js, err := transpileTS(file, code)
		if err != nil {
			return HandlerSource{}, err
		}
		code = js
	}
	return HandlerSource{Name: name, Code: code, Method: method, Path: path, File: file}, nil
}

// Discover reads every .js and .ts file directly inside dir, ordered by
// file name. The handler name is the file name without its extension.
func Discover(dir string) ([]HandlerSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading handler directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	seen := make(map[string]string)
	var out []HandlerSource
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".js" && ext != ".ts" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ext)
		if prev, dup := seen[name]; dup {
			return nil, fmt.Errorf("handler %q defined by both %s and %s", name, prev, e.Name())
		}
		seen[name] = e.Name()

		file := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading handler: %w", err)
		}
		src, err := NewHandlerSource(name, file, string(data))
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

func transpileTS(file, code string) (string, error) {
	result := esbuild.Transform(code, esbuild.TransformOptions{
		Loader:     esbuild.LoaderTS,
		Target:     esbuild.ES2020,
		Sourcefile: file,
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, m := range result.Errors {
			msgs = append(msgs, m.Text)
		}
		return "", fmt.Errorf("transpiling %s: %s", file, strings.Join(msgs, "; "))
	}
	return strings.TrimRight(string(result.Code), "\n;"), nil
}
