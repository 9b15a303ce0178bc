// Package docstore provides destinations for URI-bound pipeline outputs.
package docstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/jacoelho/xproc/resolver"
)

// Store creates a writable document for uri. The document is complete once
// the writer is closed.
type Store interface {
	Create(ctx context.Context, uri string) (io.WriteCloser, error)
}

// Dir writes documents to the local filesystem.
type Dir struct {
	root string
}

// NewDir returns a store for file URIs and paths. Relative paths are taken
// relative to root, or the working directory when root is empty.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// Create implements Store. Missing parent directories are created.
func (d *Dir) Create(ctx context.Context, uri string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := resolver.LocalPath(uri)
	if err != nil {
		return nil, err
	}
	if p == "" {
		return nil, fmt.Errorf("empty output path")
	}
	if !filepath.IsAbs(p) && d.root != "" {
		p = filepath.Join(d.root, p)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", uri, err)
	}
	f, err := os.Create(p)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Mux routes documents to a store by URI scheme.
type Mux struct {
	schemes  map[string]Store
	fallback Store
}

// NewMux returns a Mux that sends unregistered schemes to fallback.
func NewMux(fallback Store) *Mux {
	return &Mux{schemes: make(map[string]Store), fallback: fallback}
}

// Handle registers s for scheme and returns m.
func (m *Mux) Handle(scheme string, s Store) *Mux {
	m.schemes[strings.ToLower(scheme)] = s
	return m
}

// Create implements Store.
func (m *Mux) Create(ctx context.Context, uri string) (io.WriteCloser, error) {
	scheme := ""
	if u, err := url.Parse(uri); err == nil {
		scheme = strings.ToLower(u.Scheme)
	}
	if s, ok := m.schemes[scheme]; ok {
		return s.Create(ctx, uri)
	}
	if m.fallback == nil {
		return nil, fmt.Errorf("no document store for %q", uri)
	}
	return m.fallback.Create(ctx, uri)
}
