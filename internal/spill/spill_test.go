package spill

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaterialize(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	uri, err := s.Materialize(strings.NewReader("<lib/>"), "http://example.com/lib.xpl")
	require.NoError(t, err)

	u, err := url.Parse(uri)
	require.NoError(t, err)
	assert.Equal(t, "file", u.Scheme)
	assert.Equal(t, ".xpl", filepath.Ext(u.Path))

	files := s.Files()
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, "<lib/>", string(data))
	assert.Equal(t, dir, filepath.Dir(files[0]))
}

func TestCleanup(t *testing.T) {
	s := New(t.TempDir())
	for _, name := range []string{"a.xml", "b", ""} {
		_, err := s.Materialize(strings.NewReader(name), name)
		require.NoError(t, err)
	}
	files := s.Files()
	require.Len(t, files, 3)

	require.NoError(t, s.Cleanup())
	assert.Empty(t, s.Files())
	for _, f := range files {
		_, err := os.Stat(f)
		assert.True(t, os.IsNotExist(err), "file %s still exists", f)
	}

	require.NoError(t, s.Cleanup())
}

func TestMaterializeMissingDir(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing"))
	_, err := s.Materialize(strings.NewReader("x"), "x.xml")
	require.Error(t, err)
	assert.Empty(t, s.Files())
}

func TestFileURI(t *testing.T) {
	uri, err := FileURI(filepath.Join(t.TempDir(), "a b.xml"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "file:///"), uri)
	assert.True(t, strings.HasSuffix(uri, "/a%20b.xml"), uri)
}
