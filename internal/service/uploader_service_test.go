package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchids/recipe-pipeline/internal/config"
)

func TestLocalUploader(t *testing.T) {
	dir := t.TempDir()
	u := &LocalUploader{BaseDir: dir}

	path, err := u.Upload(context.Background(), "notes/abc/image.jpg", []byte("jpeg bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "notes", "abc", "image.jpg"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg bytes"), data)
}

func TestNewUploaderPicksLocalWithoutBucket(t *testing.T) {
	u, err := NewUploader(context.Background(), config.ImageConfig{OutputDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalUploader{}, u)
}

func TestSanitizeKey(t *testing.T) {
	assert.Equal(t, "notes/a/image.jpg", sanitizeKey("notes/a/image.jpg"))
	assert.Equal(t, "etc/passwd", sanitizeKey("/etc/passwd"))
	assert.Equal(t, "notes/image.jpg", sanitizeKey("./notes/image.jpg"))
}
