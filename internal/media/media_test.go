package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/contentforge/internal/config"
)

func TestLocalStorePut(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "/media/")
	require.NoError(t, err)

	ref, err := store.Put(context.Background(), "articles/7.png", []byte("png"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "/media/articles/7.png", ref)

	data, err := os.ReadFile(filepath.Join(dir, "articles", "7.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}

func TestLocalStoreRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "/media")
	require.NoError(t, err)

	ref, err := store.Put(context.Background(), "../../etc/evil.png", []byte("x"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "/media/etc/evil.png", ref)
	_, err = os.Stat(filepath.Join(dir, "etc", "evil.png"))
	assert.NoError(t, err)
}

func TestNewPicksBackend(t *testing.T) {
	local, err := New(config.Media{PublicURL: "/media"}, t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, local)

	s3, err := New(config.Media{S3: config.S3{Endpoint: "localhost:9000", Bucket: "images"}}, t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &S3Store{}, s3)
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".png", Extension("image/png"))
	assert.Equal(t, ".jpg", Extension("image/jpeg"))
	assert.Equal(t, ".bin", Extension("application/x-unknown-thing"))
}
