package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScratchFinalizeProducesZip(t *testing.T) {
	s, err := NewScratch("backup.zip")
	require.NoError(t, err)
	defer s.Release(false)

	require.NoError(t, os.WriteFile(filepath.Join(s.ContentDir(), "revision.txt"), []byte("abc\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.ContentDir(), "data.csv"), []byte("id\n1\n"), 0o644))

	path, err := s.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "backup.zip", filepath.Base(path))

	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	entries := map[string]string{}
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		entries[f.Name] = string(data)
	}
	assert.Equal(t, map[string]string{
		"revision.txt": "abc\n",
		"data.csv":     "id\n1\n",
	}, entries)
}

func TestScratchReleaseRemovesEverything(t *testing.T) {
	s, err := NewScratch("backup.zip")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.ContentDir(), "x"), []byte("x"), 0o644))
	path, err := s.Finalize()
	require.NoError(t, err)

	require.NoError(t, s.Release(false))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "zip should be removed")
	_, err = os.Stat(s.ContentDir())
	assert.True(t, os.IsNotExist(err), "content dir should be removed")
}

func TestScratchReleaseCanKeepZip(t *testing.T) {
	s, err := NewScratch("keep.zip")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.ContentDir(), "x"), []byte("x"), 0o644))
	path, err := s.Finalize()
	require.NoError(t, err)

	require.NoError(t, s.Release(true))
	defer os.RemoveAll(filepath.Dir(path))

	_, err = os.Stat(path)
	assert.NoError(t, err, "zip should survive")
	_, err = os.Stat(s.ContentDir())
	assert.True(t, os.IsNotExist(err), "content dir should be removed")
}

func TestSHA1File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	sha, err := SHA1File(path)
	require.NoError(t, err)
	assert.Equal(t, "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", sha)
}

func TestMemStoreMatches(t *testing.T) {
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	m := NewMemStore()
	require.NoError(t, m.Upload(ctx, "k", path))

	ok, err := m.Matches(ctx, "k", "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Matches(ctx, "k", "0000000000000000000000000000000000000000")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.Matches(ctx, "missing", "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d")
	require.NoError(t, err)
	assert.False(t, ok)
}
