package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

type memoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStorage() Storage {
	return &memoryStorage{objects: make(map[string][]byte)}
}

func (s *memoryStorage) Save(ctx context.Context, key string, reader io.Reader) (string, error) {
	if reader == nil {
		return "", fmt.Errorf("reader is nil")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read object %s: %w", key, err)
	}

	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()
	return key, nil
}

func (s *memoryStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memoryStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}
