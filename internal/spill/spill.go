package spill

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Spiller materializes streams to temporary files that a pipeline can
// reference by URI. Files are tracked until Cleanup.
type Spiller struct {
	dir   string
	mu    sync.Mutex
	files []string
}

// New returns a Spiller writing under dir; an empty dir means os.TempDir.
func New(dir string) *Spiller {
	return &Spiller{dir: dir}
}

// Materialize copies r to a new file and returns its file URI. The file
// keeps the extension of name so content types can still be guessed.
func (s *Spiller) Materialize(r io.Reader, name string) (string, error) {
	dir := s.dir
	if dir == "" {
		dir = os.TempDir()
	}
	file := filepath.Join(dir, "xproc-"+uuid.NewString()+extension(name))
	f, err := os.OpenFile(file, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("spill %s: %w", name, err)
	}
	s.track(file)

	_, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		return "", fmt.Errorf("spill %s: %w", name, err)
	}
	return FileURI(file)
}

// Files returns the paths currently tracked.
func (s *Spiller) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.files))
	copy(out, s.files)
	return out
}

// Cleanup removes every tracked file. Files that could not be removed stay
// tracked so a later Cleanup can retry.
func (s *Spiller) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	var kept []string
	for _, file := range s.files {
		if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			kept = append(kept, file)
		}
	}
	s.files = kept
	return errors.Join(errs...)
}

func (s *Spiller) track(file string) {
	s.mu.Lock()
	s.files = append(s.files, file)
	s.mu.Unlock()
}

// FileURI converts a local path into an absolute file URI.
func FileURI(file string) (string, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", err
	}
	p := filepath.ToSlash(abs)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String(), nil
}

func extension(name string) string {
	if u, err := url.Parse(name); err == nil && u.Path != "" {
		name = u.Path
	}
	ext := path.Ext(name)
	if len(ext) > 16 || strings.ContainsAny(ext, `/\`) {
		return ""
	}
	return ext
}
