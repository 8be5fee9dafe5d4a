package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/orchestra/core"
)

// SeedSession stores items under sessionID and fails the test on error.
func SeedSession(t testing.TB, store core.SessionStore, sessionID string, items []core.Item) {
	t.Helper()
	require.NoError(t, store.AddItems(context.Background(), sessionID, items))
}

// SessionItems returns every stored item of sessionID.
func SessionItems(t testing.TB, store core.SessionStore, sessionID string) []core.Item {
	t.Helper()
	items, err := store.GetItems(context.Background(), sessionID, 0)
	require.NoError(t, err)
	return items
}
