package core

import (
	"sync"
)

// TurnLimiter enforces the maximum number of turns (generation calls) per run.
type TurnLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewTurnLimiter creates a new limiter allowing max turns.
// If max <= 0, unlimited turns are allowed.
func NewTurnLimiter(max int) *TurnLimiter {
	return &TurnLimiter{max: max}
}

// Increment claims the next turn. It returns a *MaxTurnsExceededError without
// consuming a turn once the limit is reached, so Count never exceeds the limit.
func (tl *TurnLimiter) Increment() error {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if tl.max > 0 && tl.count >= tl.max {
		return &MaxTurnsExceededError{MaxTurns: tl.max}
	}

	tl.count++

	return nil
}

// Count returns the number of turns claimed so far.
func (tl *TurnLimiter) Count() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	return tl.count
}

// Remaining returns how many turns are left before hitting the limit.
func (tl *TurnLimiter) Remaining() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if tl.max <= 0 {
		return -1 // unlimited
	}

	return tl.max - tl.count
}
