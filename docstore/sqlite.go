package docstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jacoelho/xproc/internal/contenttype"
)

const (
	// Scheme addresses documents held in a SQLite store.
	Scheme = "xmldb"

	embeddedPrefix = "xmldb:exist://"
	shortPrefix    = "xmldb://"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	path TEXT PRIMARY KEY,
	content BLOB NOT NULL,
	content_type TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// SQLite keeps documents in a database keyed by absolute collection path.
// It is both a document store and a resource resolver for xmldb URIs.
type SQLite struct {
	db       *sql.DB
	basePath string
}

// OpenSQLite opens the database at dsn. Relative references without a base
// resolve under basePath.
func OpenSQLite(dsn, basePath string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// an in-memory database exists per connection
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if basePath == "" {
		basePath = "/db"
	}
	return &SQLite{db: db, basePath: basePath}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// URI returns the xmldb URI of a collection path.
func URI(path string) string {
	return shortPrefix + path
}

// Put stores content at path, replacing any previous document.
func (s *SQLite) Put(ctx context.Context, path string, content []byte, contentType string) error {
	p, err := normalizePath(path)
	if err != nil {
		return err
	}
	if contentType == "" {
		contentType = contenttype.FromBytes(content, p)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (path, content, content_type, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET content = excluded.content, content_type = excluded.content_type, updated_at = excluded.updated_at`,
		p, content, contentType, time.Now().UTC())
	return err
}

// Get returns the content and content type stored at path.
func (s *SQLite) Get(ctx context.Context, path string) ([]byte, string, error) {
	p, err := normalizePath(path)
	if err != nil {
		return nil, "", err
	}
	var content []byte
	var contentType string
	err = s.db.QueryRowContext(ctx, `SELECT content, content_type FROM documents WHERE path = ?`, p).
		Scan(&content, &contentType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("%s: %w", p, fs.ErrNotExist)
	}
	if err != nil {
		return nil, "", err
	}
	return content, contentType, nil
}

// List returns the paths of documents inside collection, sorted.
func (s *SQLite) List(ctx context.Context, collection string) ([]string, error) {
	p, err := normalizePath(collection)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimSuffix(p, "/") + "/"
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM documents WHERE substr(path, 1, ?) = ? ORDER BY path`, len(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

// Resolve implements resolver.Resolver for xmldb URIs and absolute paths.
func (s *SQLite) Resolve(ctx context.Context, href, base string) (io.ReadCloser, string, error) {
	path, err := s.resolvePath(href, base)
	if err != nil {
		return nil, "", err
	}
	content, _, err := s.Get(ctx, path)
	if err != nil {
		return nil, "", err
	}
	return io.NopCloser(bytes.NewReader(content)), URI(path), nil
}

// Create implements Store. The document is written when the writer closes.
func (s *SQLite) Create(ctx context.Context, uri string) (io.WriteCloser, error) {
	path, err := s.resolvePath(uri, "")
	if err != nil {
		return nil, err
	}
	return &pendingDocument{ctx: ctx, store: s, path: path}, nil
}

func (s *SQLite) resolvePath(href, base string) (string, error) {
	var path string
	switch {
	case href == "":
		path = stripPrefix(base)
	case strings.HasPrefix(href, embeddedPrefix), strings.HasPrefix(href, Scheme+":/"):
		path = stripPrefix(href)
	case strings.HasPrefix(href, "/"):
		path = href
	default:
		if u, err := url.Parse(href); err == nil && u.IsAbs() {
			return "", fmt.Errorf("unsupported scheme %q in %q", u.Scheme, href)
		}
		dir := s.basePath
		if base != "" {
			b := stripPrefix(base)
			dir = b[:strings.LastIndex(b, "/")+1]
		}
		path = strings.TrimSuffix(dir, "/") + "/" + href
	}
	return normalizePath(path)
}

func stripPrefix(uri string) string {
	if after, ok := strings.CutPrefix(uri, embeddedPrefix); ok {
		return after
	}
	if after, ok := strings.CutPrefix(uri, shortPrefix); ok {
		return after
	}
	if after, ok := strings.CutPrefix(uri, Scheme+":"); ok && strings.HasPrefix(after, "/") {
		return after
	}
	return uri
}

// normalizePath removes empty, "." and ".." segments from an absolute path.
// ".." at the root stays at the root.
func normalizePath(path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("path must be absolute: %q", path)
	}
	var parts []string
	for seg := range strings.SplitSeq(path[1:], "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(parts) > 0 {
				parts = parts[:len(parts)-1]
			}
		default:
			parts = append(parts, seg)
		}
	}
	if len(parts) == 0 {
		return "/", nil
	}
	out := "/" + strings.Join(parts, "/")
	if strings.HasSuffix(path, "/") {
		out += "/"
	}
	return out, nil
}

type pendingDocument struct {
	ctx    context.Context
	store  *SQLite
	path   string
	buf    bytes.Buffer
	closed bool
}

func (d *pendingDocument) Write(p []byte) (int, error) {
	if d.closed {
		return 0, fs.ErrClosed
	}
	return d.buf.Write(p)
}

func (d *pendingDocument) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.store.Put(d.ctx, d.path, d.buf.Bytes(), "")
}
