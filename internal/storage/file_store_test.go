package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"thumbforge/internal/config"
)

func TestFileStore_SaveVariant(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(config.StorageConfig{
		SavePath:      dir,
		PublicBaseURL: "http://images.local/",
	}, zap.NewNop())
	require.NoError(t, err)

	jobID := uuid.New()
	url, err := store.SaveVariant(jobID, 1, []byte("png-bytes"), "PNG")
	require.NoError(t, err)

	// Расширение нормализуется, base URL без двойного слеша.
	assert.Equal(t, "http://images.local/"+jobID.String()+"/1.png", url)

	data, err := os.ReadFile(filepath.Join(dir, jobID.String(), "1.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestFileStore_SaveInput(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(config.StorageConfig{
		SavePath:      dir,
		PublicBaseURL: "http://images.local",
	}, zap.NewNop())
	require.NoError(t, err)

	url, err := store.SaveInput([]byte("frame"), "jpg")
	require.NoError(t, err)
	assert.Contains(t, url, "http://images.local/inputs/")
	assert.Contains(t, url, ".jpg")
}

func TestNewFileStore_RequiresConfig(t *testing.T) {
	_, err := NewFileStore(config.StorageConfig{PublicBaseURL: "http://x"}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewFileStore(config.StorageConfig{SavePath: "/tmp"}, zap.NewNop())
	assert.Error(t, err)
}
