package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/progress-crawler/internal/harvest"
)

func TestArtifactStoreCopiesData(t *testing.T) {
	t.Parallel()

	store := NewArtifactStore("")
	payload := []byte("content")
	uri, err := store.Write(context.Background(), "avatars/a.svg", "image/svg+xml", payload)
	require.NoError(t, err)
	assert.Equal(t, "memory://avatars/a.svg", uri)

	payload[0] = 'C'
	got, err := store.Read(context.Background(), "avatars/a.svg")
	require.NoError(t, err)
	assert.Equal(t, "content", string(got), "stored copy must be immutable")

	got[0] = 'X'
	again, err := store.Read(context.Background(), "avatars/a.svg")
	require.NoError(t, err)
	assert.Equal(t, "content", string(again))
	assert.Equal(t, "image/svg+xml", store.ContentType("avatars/a.svg"))
}

func TestArtifactStorePrefixAndMissing(t *testing.T) {
	t.Parallel()

	store := NewArtifactStore("run")
	_, err := store.Write(context.Background(), "b.txt", "text/plain", []byte("b"))
	require.NoError(t, err)
	_, err = store.Write(context.Background(), "a.txt", "text/plain", []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"run/a.txt", "run/b.txt"}, store.Keys())

	_, err = store.Read(context.Background(), "c.txt")
	require.ErrorIs(t, err, harvest.ErrNotFound)
}
