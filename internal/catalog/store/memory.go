package store

import (
	"context"
	"sync"

	"conformo/internal/catalog/models"
	"conformo/pkg/platform/sentinel"
)

// InMemory keeps catalog versions in process memory. Versions are immutable
// snapshots, so swapping the current pointer under the lock is enough to give
// readers a fully consistent view.
type InMemory struct {
	mu       sync.RWMutex
	versions map[int]*models.CatalogVersion
	current  *models.CatalogVersion
}

func NewInMemory() *InMemory {
	return &InMemory{versions: make(map[int]*models.CatalogVersion)}
}

func (s *InMemory) Append(_ context.Context, v *models.CatalogVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.versions[v.Number()]; exists {
		return sentinel.ErrConflict
	}
	s.versions[v.Number()] = v
	s.current = v
	return nil
}

func (s *InMemory) Current(_ context.Context) (*models.CatalogVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, sentinel.ErrNotFound
	}
	return s.current, nil
}

func (s *InMemory) Version(_ context.Context, number int) (*models.CatalogVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[number]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return v, nil
}
