package fileloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/ragline/plugin/stage"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestMetadata(t *testing.T) {
	md := New().Metadata()
	assert.Equal(t, "file", md.Name)
	assert.Equal(t, stage.CategoryLoader, md.Type)
}

func TestLoadDirectoryRecursive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "# Alpha\n\nbody")
	writeFile(t, dir, "nested/b.txt", "beta body")
	writeFile(t, dir, "skip.bin", "binary")

	docs, err := New().Load(context.Background(), dir, nil)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	byTitle := make(map[string]stage.Document)
	for _, d := range docs {
		byTitle[d.Title] = d
	}
	assert.Contains(t, byTitle, "Alpha")
	assert.Contains(t, byTitle, "b")
	assert.Equal(t, "text/markdown", byTitle["Alpha"].MimeType)
	assert.NotEmpty(t, byTitle["Alpha"].ID)
}

func TestLoadGlobPattern(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x.md", "x")
	writeFile(t, dir, "y.txt", "y")

	docs, err := New().Load(context.Background(), filepath.Join(dir, "*.md"), nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "text/markdown", docs[0].MimeType)
}

func TestLoadExtensionOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes.org", "org content")
	writeFile(t, dir, "skip.md", "md content")

	docs, err := New().Load(context.Background(), dir, map[string]any{
		"extensions": []string{"org"},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].Source, "notes.org")
}

func TestLoadNoMatches(t *testing.T) {
	_, err := New().Load(context.Background(), t.TempDir(), nil)
	assert.Error(t, err)
}

func TestStableDocumentIDs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "content")

	first, err := New().Load(context.Background(), dir, nil)
	require.NoError(t, err)
	second, err := New().Load(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, second[0].ID)
}
