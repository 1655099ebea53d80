// Package memory stores artifacts in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/progress-crawler/internal/harvest"
	"github.com/JakeFAU/progress-crawler/internal/storage"
)

// ArtifactStore stores artifacts in-memory and returns pseudo URIs.
type ArtifactStore struct {
	mu     sync.RWMutex
	prefix string
	data   map[string][]byte
	types  map[string]string
}

var _ harvest.ArtifactStore = (*ArtifactStore)(nil)

// NewArtifactStore creates a new in-memory artifact store.
func NewArtifactStore(prefix string) *ArtifactStore {
	return &ArtifactStore{
		prefix: prefix,
		data:   make(map[string][]byte),
		types:  make(map[string]string),
	}
}

// Write persists a copy of data and returns a memory:// URI.
func (s *ArtifactStore) Write(_ context.Context, key string, contentType string, data []byte) (string, error) {
	path, err := storage.ObjectKey(s.prefix, key)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
	s.types[path] = contentType
	return fmt.Sprintf("memory://%s", path), nil
}

// Read returns a copy of the bytes stored under key.
func (s *ArtifactStore) Read(_ context.Context, key string) ([]byte, error) {
	path, err := storage.ObjectKey(s.prefix, key)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	if !ok {
		return nil, fmt.Errorf("memory://%s: %w", path, harvest.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Keys lists stored keys in lexical order.
func (s *ArtifactStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ContentType returns the content type recorded for key.
func (s *ArtifactStore) ContentType(key string) string {
	path, err := storage.ObjectKey(s.prefix, key)
	if err != nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.types[path]
}
