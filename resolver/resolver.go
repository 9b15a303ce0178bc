package resolver

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
)

// Resolver dereferences href relative to base. It returns the content and
// the absolute system id it was read from.
type Resolver interface {
	Resolve(ctx context.Context, href, base string) (io.ReadCloser, string, error)
}

// Func adapts a function to Resolver.
type Func func(ctx context.Context, href, base string) (io.ReadCloser, string, error)

// Resolve implements Resolver.
func (f Func) Resolve(ctx context.Context, href, base string) (io.ReadCloser, string, error) {
	return f(ctx, href, base)
}

// Absolute resolves href against base using URI reference resolution. A
// relative base path yields a relative result.
func Absolute(href, base string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", href, err)
	}
	if base == "" || ref.IsAbs() {
		return ref.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base %q: %w", base, err)
	}
	if !b.IsAbs() && b.Host == "" && !strings.HasPrefix(b.Path, "/") {
		if strings.HasPrefix(ref.Path, "/") {
			return ref.String(), nil
		}
		return path.Join(path.Dir(b.Path), ref.Path), nil
	}
	return b.ResolveReference(ref).String(), nil
}

// Mux dispatches to a resolver by URI scheme.
type Mux struct {
	schemes  map[string]Resolver
	fallback Resolver
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{schemes: make(map[string]Resolver)}
}

// Handle registers r for scheme and returns m.
func (m *Mux) Handle(scheme string, r Resolver) *Mux {
	m.schemes[strings.ToLower(scheme)] = r
	return m
}

// Fallback sets the resolver for references without a registered scheme.
func (m *Mux) Fallback(r Resolver) *Mux {
	m.fallback = r
	return m
}

// Resolve implements Resolver.
func (m *Mux) Resolve(ctx context.Context, href, base string) (io.ReadCloser, string, error) {
	abs, err := Absolute(href, base)
	if err != nil {
		return nil, "", err
	}
	scheme := ""
	if u, err := url.Parse(abs); err == nil {
		scheme = strings.ToLower(u.Scheme)
	}
	if r, ok := m.schemes[scheme]; ok {
		return r.Resolve(ctx, abs, "")
	}
	if m.fallback != nil {
		return m.fallback.Resolve(ctx, abs, "")
	}
	return nil, "", fmt.Errorf("no resolver for %q", abs)
}

// Default resolves local files and plain paths, and http and https URLs.
func Default() *Mux {
	file := NewFile()
	web := NewHTTP(nil)
	return NewMux().
		Handle("file", file).
		Handle("http", web).
		Handle("https", web).
		Fallback(file)
}
