package core

import "context"

// SessionStore persists conversation items across independent runs so a
// conversation can continue where the previous run stopped.
//
// Contract:
//   - GetItems returns items in insertion order; limit > 0 returns only the
//     last limit items
//   - AddItems appends atomically with respect to other AddItems calls
//   - PopItem removes and returns the most recent item, or (nil, nil) when
//     the session is empty
//   - Unknown session IDs behave like empty sessions.
type SessionStore interface {
	GetItems(ctx context.Context, sessionID string, limit int) ([]Item, error)
	AddItems(ctx context.Context, sessionID string, items []Item) error
	PopItem(ctx context.Context, sessionID string) (Item, error)
	ClearSession(ctx context.Context, sessionID string) error
}
