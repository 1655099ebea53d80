package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/progress-crawler/internal/harvest"
	"github.com/JakeFAU/progress-crawler/internal/storage/gcs"
)

// newTestStore creates an ArtifactStore pointed at a test server.
func newTestStore(t *testing.T, handler http.Handler) *gcs.ArtifactStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, gcs.Config{Bucket: "test-bucket", Prefix: "prod"})
	require.NoError(t, err)
	return store
}

func TestNew_Validates(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = gcs.New(client, gcs.Config{})
	assert.Error(t, err)
}

func TestArtifactStore_Write(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, "prod/avatars/5-Lovelace-Ada-avatar.svg", r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "<svg/>")
		assert.Contains(t, string(body), "image/svg+xml")

		fmt.Fprintln(w, `{ "name": "prod/avatars/5-Lovelace-Ada-avatar.svg", "bucket": "test-bucket" }`)
	})
	store := newTestStore(t, handler)

	uri, err := store.Write(context.Background(), "avatars/5-Lovelace-Ada-avatar.svg", "image/svg+xml", []byte("<svg/>"))
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/prod/avatars/5-Lovelace-Ada-avatar.svg", uri)
}

func TestArtifactStore_WriteError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	store := newTestStore(t, handler)

	_, err := store.Write(context.Background(), "crawl-logs/crawl-log.csv", "text/csv", []byte("a,b"))
	assert.Error(t, err)

	_, err = store.Write(context.Background(), "", "text/csv", nil)
	assert.Error(t, err)
}

func TestArtifactStore_ReadMissing(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	store := newTestStore(t, handler)

	_, err := store.Read(context.Background(), "last-crawl-date.txt")
	require.ErrorIs(t, err, harvest.ErrNotFound)
}
