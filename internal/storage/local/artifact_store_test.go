// Package local_test tests the local filesystem artifact store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/progress-crawler/internal/harvest"
	"github.com/JakeFAU/progress-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "data")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: path})
		assert.Error(t, err)
	})
}

func TestWriteRead(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir, Prefix: "crawl"})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		key := "certificates/5-Lovelace-Ada-certificate.png"
		data := []byte{0x89, 'P', 'N', 'G'}
		uri, err := store.Write(ctx, key, "image/png", data)
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, "crawl", key), uri)

		got, err := store.Read(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("Overwrite", func(t *testing.T) {
		_, err := store.Write(ctx, "last-crawl-date.txt", "text/plain", []byte("2025-3-1"))
		require.NoError(t, err)
		_, err = store.Write(ctx, "last-crawl-date.txt", "text/plain", []byte("2025-3-9"))
		require.NoError(t, err)
		got, err := store.Read(ctx, "last-crawl-date.txt")
		require.NoError(t, err)
		assert.Equal(t, "2025-3-9", string(got))
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := store.Read(ctx, "absent.txt")
		require.ErrorIs(t, err, harvest.ErrNotFound)
	})

	t.Run("EmptyKey", func(t *testing.T) {
		_, err := store.Write(ctx, "", "text/plain", []byte("data"))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.Write(ctx, "../../escape.txt", "text/plain", []byte("data"))
		assert.ErrorContains(t, err, "path traversal")
	})
}
