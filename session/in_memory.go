package session

import (
	"context"
	"sync"

	"github.com/hupe1980/orchestra/core"
)

// InMemoryStore is a volatile SessionStore storing items in a process local
// map. It is safe for concurrent access. Items are cloned on the way in and
// out to prevent external mutation of internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]core.Item
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string][]core.Item)}
}

// GetItems returns the items of a session, the last limit items when limit > 0.
// A limited window never starts with a result whose invocation was cut off.
func (s *InMemoryStore) GetItems(ctx context.Context, sessionID string, limit int) ([]core.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.sessions[sessionID]
	if limit > 0 && len(items) > limit {
		return core.DropOrphanResults(core.CloneItems(items[len(items)-limit:])), nil
	}

	return core.CloneItems(items), nil
}

// AddItems appends items to a session, creating it lazily.
func (s *InMemoryStore) AddItems(ctx context.Context, sessionID string, items []core.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sessionID] = append(s.sessions[sessionID], core.CloneItems(items)...)

	return nil
}

// PopItem removes and returns the most recent item.
func (s *InMemoryStore) PopItem(ctx context.Context, sessionID string) (core.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.sessions[sessionID]
	if len(items) == 0 {
		return nil, nil
	}

	last := items[len(items)-1]
	s.sessions[sessionID] = items[:len(items)-1]

	return last, nil
}

// ClearSession deletes every item of a session.
func (s *InMemoryStore) ClearSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)

	return nil
}

// Sessions returns the IDs of all non-empty sessions.
func (s *InMemoryStore) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id, items := range s.sessions {
		if len(items) > 0 {
			ids = append(ids, id)
		}
	}

	return ids
}
