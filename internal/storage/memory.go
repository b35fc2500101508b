package storage

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gantry/pkg/platform/sentinel"
)

// Memory is a map-backed Engine for tests and single-process development.
// Uniqueness constraints are declared per entity type at construction,
// mirroring the unique indexes a deployment declares on postgres.
type Memory struct {
	mu     sync.RWMutex
	data   map[string]map[string]*Entity // entityType -> id -> row
	unique map[string][]string           // entityType -> unique field names
}

// NewMemory creates an empty engine. unique maps entity types to field names
// that must be unique within a tenant; nil means no constraints.
func NewMemory(unique map[string][]string) *Memory {
	return &Memory{
		data:   make(map[string]map[string]*Entity),
		unique: unique,
	}
}

func (m *Memory) rows(entityType string) map[string]*Entity {
	rows, ok := m.data[entityType]
	if !ok {
		rows = make(map[string]*Entity)
		m.data[entityType] = rows
	}
	return rows
}

func inScope(e *Entity, scope Scope) bool {
	return scope.AllTenants || e.TenantID == scope.TenantID
}

func (m *Memory) FindOne(_ context.Context, entityType string, scope Scope, id string) (*Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.data[entityType][id]
	if !ok || !inScope(e, scope) {
		return nil, sentinel.ErrNotFound
	}
	return e.Clone(), nil
}

func (m *Memory) List(_ context.Context, entityType string, scope Scope, q Query) ([]*Entity, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []*Entity
	for _, e := range m.data[entityType] {
		if !inScope(e, scope) {
			continue
		}
		if !matchesFilter(e, q.Filter) {
			continue
		}
		matches = append(matches, e)
	}

	sortEntities(matches, q.Sort)
	total := len(matches)

	if q.Offset >= total {
		return []*Entity{}, total, nil
	}
	end := total
	if q.Limit > 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}

	page := make([]*Entity, 0, end-q.Offset)
	for _, e := range matches[q.Offset:end] {
		page = append(page, e.Clone())
	}
	return page, total, nil
}

func (m *Memory) Insert(_ context.Context, entityType string, e *Entity) (*Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := e.Clone()
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.Fields == nil {
		row.Fields = make(map[string]any)
	}
	now := time.Now().UTC()
	row.Type = entityType
	row.CreatedAt = now
	row.UpdatedAt = now

	rows := m.rows(entityType)
	if _, exists := rows[row.ID]; exists {
		return nil, sentinel.ErrConflict
	}
	if err := m.checkUnique(entityType, row, ""); err != nil {
		return nil, err
	}

	rows[row.ID] = row
	return row.Clone(), nil
}

func (m *Memory) Update(_ context.Context, entityType string, scope Scope, id string, patch map[string]any) (*Entity, *Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.data[entityType][id]
	if !ok || !inScope(current, scope) {
		return nil, nil, sentinel.ErrNotFound
	}

	before := current.Clone()
	candidate := current.Clone()
	if candidate.Fields == nil {
		candidate.Fields = make(map[string]any)
	}
	for k, v := range patch {
		candidate.Fields[k] = v
	}
	if err := m.checkUnique(entityType, candidate, id); err != nil {
		return nil, nil, err
	}

	candidate.UpdatedAt = time.Now().UTC()
	m.data[entityType][id] = candidate
	return before, candidate.Clone(), nil
}

func (m *Memory) Delete(_ context.Context, entityType string, scope Scope, id string) (*Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.data[entityType][id]
	if !ok || !inScope(current, scope) {
		return nil, sentinel.ErrNotFound
	}

	delete(m.data[entityType], id)
	return current.Clone(), nil
}

// checkUnique enforces per-tenant uniqueness of declared fields. excludeID
// skips the row being updated. Callers hold the write lock.
func (m *Memory) checkUnique(entityType string, candidate *Entity, excludeID string) error {
	fields := m.unique[entityType]
	if len(fields) == 0 {
		return nil
	}
	for _, f := range fields {
		val, ok := candidate.Fields[f]
		if !ok || val == nil {
			continue
		}
		for id, other := range m.data[entityType] {
			if id == excludeID || other.TenantID != candidate.TenantID {
				continue
			}
			if reflect.DeepEqual(other.Fields[f], val) {
				return fmt.Errorf("duplicate %s: %w", f, sentinel.ErrConflict)
			}
		}
	}
	return nil
}

func matchesFilter(e *Entity, filter map[string]any) bool {
	for k, want := range filter {
		if !reflect.DeepEqual(e.Fields[k], want) {
			return false
		}
	}
	return true
}

// sortEntities orders by the requested field, breaking ties on ID so paging
// is stable across calls. The tie-break follows the sort direction, matching
// the postgres engine's "field, id" ORDER BY.
func sortEntities(entities []*Entity, s Sort) {
	sort.SliceStable(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		var less bool
		switch {
		case s.Field == "" || s.Field == "created_at":
			if a.CreatedAt.Equal(b.CreatedAt) {
				less = a.ID < b.ID
			} else {
				less = a.CreatedAt.Before(b.CreatedAt)
			}
		default:
			av, bv := fmt.Sprint(a.Fields[s.Field]), fmt.Sprint(b.Fields[s.Field])
			if av == bv {
				less = a.ID < b.ID
			} else {
				less = av < bv
			}
		}
		if s.Desc {
			return !less
		}
		return less
	})
}
