package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTempFile(t *testing.T) {
	dir := t.TempDir()

	path, err := WriteTempFile(dir, ".webm", []byte("data"))
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(path, ".webm"))
	assert.Equal(t, dir, filepath.Dir(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(content))

	require.NoError(t, RemoveFile(path))
	assert.False(t, FileExists(path))
	assert.NoError(t, RemoveFile(path), "removing twice is not an error")
}

func TestWriteTempFileMissingDir(t *testing.T) {
	_, err := WriteTempFile(filepath.Join(t.TempDir(), "missing"), ".mp4", []byte("x"))
	assert.Error(t, err)
}

func TestOverlayFilename(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "abc.png"), OverlayFilename("out", "abc", -1, ""))
	assert.Equal(t, filepath.Join("out", "abc_f000025.webp"), OverlayFilename("out", "abc", 25, "WEBP"))
	assert.Equal(t, filepath.Join("out", "a_b.jpg"), OverlayFilename("out", "a/b", -1, "jpg"))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a_b_c", SanitizeFilename(" a/b:c. "))
}

func TestFormatFileSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatFileSize(512))
	assert.Equal(t, "1.5 KB", FormatFileSize(1536))
	assert.Equal(t, "2.0 MB", FormatFileSize(2*1024*1024))
}

func TestDirExists(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, DirExists(dir))
	assert.False(t, FileExists(dir))

	sub := filepath.Join(dir, "a", "b")
	require.NoError(t, EnsureDir(sub))
	assert.True(t, DirExists(sub))
}
