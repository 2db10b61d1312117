package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemStore is an in-memory Store used by tests and local development.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// FailKeys makes Get fail for the listed keys, to exercise partial-export
	// handling.
	FailKeys map[string]bool
}

func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]byte)}
}

func (s *MemStore) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[normalizeKey(key)] = data
	return nil
}

func (s *MemStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	key = normalizeKey(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailKeys[key] {
		return nil, fmt.Errorf("blob: get %s: simulated failure", key)
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, normalizeKey(key))
	return nil
}

func (s *MemStore) DeletePrefix(ctx context.Context, prefix string) error {
	prefix = normalizeKey(prefix)
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
		}
	}
	return nil
}

func (s *MemStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	key = normalizeKey(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.objects[key]; !ok {
		return "", ErrNotFound
	}
	return fmt.Sprintf("memstore://%s?expires=%d", key, time.Now().Add(ttl).Unix()), nil
}

// Keys returns all stored object keys, sorted.
func (s *MemStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Object returns the stored bytes for key, or nil when absent.
func (s *MemStore) Object(key string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objects[normalizeKey(key)]
}
