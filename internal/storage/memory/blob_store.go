// Package memory stores blob content in-memory for development and tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/contestboard/internal/contest"
)

// BlobStore stores artifacts in-memory and returns pseudo URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// PutObject persists the content and returns a memory:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read data: %w", err)
	}

	s.mu.Lock()
	s.data[path] = byteData
	s.mu.Unlock()
	return "memory://" + path, nil
}

// GetObject returns a reader over a copy of the stored content.
func (s *BlobStore) GetObject(_ context.Context, path string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.data[path]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, contest.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(data))), nil
}

// Keys lists stored paths.
func (s *BlobStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}
