package resolver

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

// FS resolves relative references inside an fs.FS with strict path validation.
type FS struct {
	fsys fs.FS
}

// NewFS creates a resolver backed by fsys.
func NewFS(fsys fs.FS) *FS {
	return &FS{fsys: fsys}
}

// Resolve implements Resolver. System ids are slash-separated paths inside the filesystem.
func (r *FS) Resolve(ctx context.Context, href, base string) (io.ReadCloser, string, error) {
	if r == nil || r.fsys == nil {
		return nil, "", fmt.Errorf("no filesystem configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if href == "" {
		return nil, "", fs.ErrNotExist
	}
	systemID, err := resolveSystemID(base, href)
	if err != nil {
		return nil, "", err
	}
	f, err := r.fsys.Open(systemID)
	if err != nil {
		return nil, "", err
	}
	return f, systemID, nil
}

func resolveSystemID(baseSystemID, location string) (string, error) {
	if strings.Contains(location, "\\") {
		return "", fmt.Errorf("location contains backslash: %q", location)
	}
	if strings.HasPrefix(location, "/") {
		return "", fmt.Errorf("location must be relative: %q", location)
	}
	if baseSystemID != "" && strings.Contains(baseSystemID, "\\") {
		return "", fmt.Errorf("base system ID contains backslash: %q", baseSystemID)
	}
	if slices.Contains(strings.Split(location, "/"), "") {
		return "", fmt.Errorf("invalid location segment: %q", location)
	}
	joined := path.Clean(location)
	if dir := baseDir(baseSystemID); dir != "" {
		joined = path.Clean(dir + "/" + location)
	}
	if joined == "." {
		return "", fmt.Errorf("location is empty")
	}
	if strings.HasPrefix(joined, "../") || joined == ".." {
		return "", fmt.Errorf("location escapes root: %q", location)
	}
	return joined, nil
}

func baseDir(systemID string) string {
	idx := strings.LastIndex(systemID, "/")
	if idx == -1 {
		return ""
	}
	return systemID[:idx]
}

// File resolves file URIs and plain paths on the local filesystem.
type File struct{}

// NewFile returns a local file resolver.
func NewFile() *File {
	return &File{}
}

// Resolve implements Resolver. The system id is always a file URI.
func (*File) Resolve(ctx context.Context, href, base string) (io.ReadCloser, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	abs, err := Absolute(href, base)
	if err != nil {
		return nil, "", err
	}
	p, err := LocalPath(abs)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, "", err
	}
	return f, FileURI(p), nil
}

// LocalPath converts a file URI or plain path into a local path.
func LocalPath(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", ref, err)
	}
	switch u.Scheme {
	case "":
		return filepath.FromSlash(u.Path), nil
	case "file":
		if u.Host != "" && u.Host != "localhost" {
			return "", fmt.Errorf("file URI %q names a remote host", ref)
		}
		return filepath.FromSlash(u.Path), nil
	default:
		return "", fmt.Errorf("unsupported scheme %q in %q", u.Scheme, ref)
	}
}

// FileURI converts a local path into a file URI.
func FileURI(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	slashed := filepath.ToSlash(p)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	return (&url.URL{Scheme: "file", Path: slashed}).String()
}
