package storage

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStore is an in-process ObjectStore for tests. It counts PUTs so
// dedup behavior is observable.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

// NewMemoryStore creates an empty in-memory object store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Put stores the object bytes in memory.
func (s *MemoryStore) Put(_ context.Context, filename, _ string, body io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read object body: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[filename] = data
	s.puts++
	return s.PublicURL(filename), nil
}

// PublicURL returns a stable fake URL for the filename.
func (s *MemoryStore) PublicURL(filename string) string {
	return "memory://bucket/" + filename
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// PutCount returns the number of Put calls observed.
func (s *MemoryStore) PutCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// Object returns the stored bytes for a filename.
func (s *MemoryStore) Object(filename string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[filename]
	return data, ok
}
