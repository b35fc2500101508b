package tenant

import (
	"context"
	"strings"
	"sync"

	"gantry/pkg/domain"
	"gantry/pkg/platform/sentinel"
)

// InMemory is a map-backed Store for tests and single-process development.
type InMemory struct {
	mu      sync.RWMutex
	byID    map[domain.TenantID]*Tenant
	nameIdx map[string]domain.TenantID
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:    make(map[domain.TenantID]*Tenant),
		nameIdx: make(map[string]domain.TenantID),
	}
}

func (s *InMemory) Create(_ context.Context, t *Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(t.Name)
	if _, taken := s.nameIdx[key]; taken {
		return sentinel.ErrConflict
	}
	cp := *t
	s.byID[t.ID] = &cp
	s.nameIdx[key] = t.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.TenantID) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *InMemory) SetStatus(_ context.Context, id domain.TenantID, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	t.Status = status
	return nil
}
