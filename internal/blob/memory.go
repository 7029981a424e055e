package blob

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/achievements-bot/internal/stickers"
)

// MemoryStore keeps sticker files in process memory. Used for local runs and tests.
type MemoryStore struct {
	prefix  string
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(prefix string) *MemoryStore {
	return &MemoryStore{prefix: normalizePrefix(prefix), objects: map[string][]byte{}}
}

func (s *MemoryStore) Save(ctx context.Context, data []byte) (stickers.Image, error) {
	return s.SaveAt(ctx, newObjectPath(s.prefix), data)
}

func (s *MemoryStore) SaveAt(_ context.Context, path string, data []byte) (stickers.Image, error) {
	if len(data) == 0 {
		return stickers.Image{}, ErrEmptyObject
	}
	if err := validatePath(path); err != nil {
		return stickers.Image{}, err
	}
	stored := append([]byte(nil), data...)
	s.mu.Lock()
	s.objects[path] = stored
	s.mu.Unlock()
	return stickers.Image{Path: path, Data: data}, nil
}

func (s *MemoryStore) Load(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) DeleteMany(_ context.Context, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, path := range paths {
		delete(s.objects, path)
	}
	return nil
}

// Len reports the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
