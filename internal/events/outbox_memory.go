package events

import (
	"context"
	"sync"
)

// InMemoryOutbox is the OutboxStore for tests and development.
type InMemoryOutbox struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*outboxState
	order  []int64
}

type outboxState struct {
	row        OutboxRow
	dispatched bool
	dead       bool
}

func NewInMemoryOutbox() *InMemoryOutbox {
	return &InMemoryOutbox{rows: make(map[int64]*outboxState)}
}

func (s *InMemoryOutbox) Enqueue(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.rows[s.nextID] = &outboxState{row: OutboxRow{ID: s.nextID, Event: event}}
	s.order = append(s.order, s.nextID)
	return nil
}

func (s *InMemoryOutbox) FetchPending(_ context.Context, limit int) ([]OutboxRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []OutboxRow
	for _, id := range s.order {
		st := s.rows[id]
		if st.dispatched || st.dead {
			continue
		}
		out = append(out, st.row)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryOutbox) MarkDispatched(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if st, ok := s.rows[id]; ok {
			st.dispatched = true
		}
	}
	return nil
}

func (s *InMemoryOutbox) MarkFailed(_ context.Context, id int64, dead bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.rows[id]; ok {
		st.row.Attempts++
		st.dead = dead
	}
	return nil
}

// Pending reports the number of undispatched live rows. Test helper.
func (s *InMemoryOutbox) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.rows {
		if !st.dispatched && !st.dead {
			n++
		}
	}
	return n
}
