package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/internal/testutil"
)

var (
	_ core.SessionStore = (*InMemoryStore)(nil)
	_ core.SessionStore = (*RedisStore)(nil)
	_ core.SessionStore = (*SQLiteStore)(nil)
)

func sampleItems() []core.Item {
	return testutil.NewConversation("converter").
		User("convert 100 USD").
		CallID("c1", "convert", `{"amount":100}`).
		Result("90 EUR").
		Assistant("100 USD is 90 EUR").
		Build()
}

func newRedisStore(t *testing.T, optFns ...func(o *RedisOptions)) (*RedisStore, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, optFns...)
	t.Cleanup(func() { _ = store.Close() })

	return store, mr
}

func newSQLiteStore(t *testing.T) *SQLiteStore {
	store, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func stores(t *testing.T) map[string]core.SessionStore {
	redisStore, _ := newRedisStore(t)
	return map[string]core.SessionStore{
		"memory": NewInMemoryStore(),
		"redis":  redisStore,
		"sqlite": newSQLiteStore(t),
	}
}

func TestSessionStores(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("unknown session is empty", func(t *testing.T) {
				items, err := store.GetItems(ctx, "missing", 0)
				require.NoError(t, err)
				assert.Empty(t, items)

				it, err := store.PopItem(ctx, "missing")
				require.NoError(t, err)
				assert.Nil(t, it)
			})

			t.Run("round trip keeps order", func(t *testing.T) {
				require.NoError(t, store.AddItems(ctx, "s1", sampleItems()))

				items, err := store.GetItems(ctx, "s1", 0)
				require.NoError(t, err)
				assert.Equal(t, sampleItems(), items)
				assert.NoError(t, core.ValidatePairing(items))
			})

			t.Run("limit returns the tail", func(t *testing.T) {
				items, err := store.GetItems(ctx, "s1", 3)
				require.NoError(t, err)
				assert.Equal(t, sampleItems()[1:], items)
			})

			t.Run("limit never splits a call from its result", func(t *testing.T) {
				items, err := store.GetItems(ctx, "s1", 2)
				require.NoError(t, err)
				assert.Equal(t, sampleItems()[3:], items)
				assert.NoError(t, core.ValidatePairing(items))
			})

			t.Run("pop removes the last item", func(t *testing.T) {
				it, err := store.PopItem(ctx, "s1")
				require.NoError(t, err)
				assert.Equal(t, sampleItems()[3], it)

				items, err := store.GetItems(ctx, "s1", 0)
				require.NoError(t, err)
				assert.Len(t, items, 3)
			})

			t.Run("sessions are isolated", func(t *testing.T) {
				require.NoError(t, store.AddItems(ctx, "s2", core.UserInput("other")))

				items, err := store.GetItems(ctx, "s1", 0)
				require.NoError(t, err)
				assert.Len(t, items, 3)
			})

			t.Run("clear", func(t *testing.T) {
				require.NoError(t, store.ClearSession(ctx, "s1"))

				items, err := store.GetItems(ctx, "s1", 0)
				require.NoError(t, err)
				assert.Empty(t, items)

				items, err = store.GetItems(ctx, "s2", 0)
				require.NoError(t, err)
				assert.Len(t, items, 1)
			})

			t.Run("concurrent appends stay whole", func(t *testing.T) {
				var wg sync.WaitGroup
				for i := 0; i < 8; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						batch := []core.Item{
							core.CapabilityInvocation{ID: fmt.Sprintf("c%d", i), Name: "lookup"},
							core.CapabilityResult{InvocationID: fmt.Sprintf("c%d", i), Name: "lookup", Output: "ok"},
						}
						assert.NoError(t, store.AddItems(ctx, "s3", batch))
					}(i)
				}
				wg.Wait()

				items, err := store.GetItems(ctx, "s3", 0)
				require.NoError(t, err)
				assert.Len(t, items, 16)
				assert.NoError(t, core.ValidatePairing(items))
			})
		})
	}
}

func TestInMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewInMemoryStore()
	assert.ErrorIs(t, store.AddItems(ctx, "s", core.UserInput("x")), context.Canceled)
	assert.Empty(t, store.Sessions())
}

func TestInMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	require.NoError(t, store.AddItems(ctx, "s", core.UserInput("hello")))

	items, err := store.GetItems(ctx, "s", 0)
	require.NoError(t, err)
	items[0] = core.UserMessage{Content: "mutated"}

	again, err := store.GetItems(ctx, "s", 0)
	require.NoError(t, err)
	assert.Equal(t, core.UserInput("hello"), again)
	assert.Equal(t, []string{"s"}, store.Sessions())
}

func TestRedisStore_TTLAndPrefix(t *testing.T) {
	store, mr := newRedisStore(t, func(o *RedisOptions) {
		o.KeyPrefix = "test:"
		o.TTL = time.Minute
	})

	require.NoError(t, store.AddItems(context.Background(), "s1", core.UserInput("hi")))
	require.NoError(t, store.Ping(context.Background()))

	assert.True(t, mr.Exists("test:s1"))
	assert.Equal(t, time.Minute, mr.TTL("test:s1"))

	mr.FastForward(2 * time.Minute)

	items, err := store.GetItems(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRedisStore_CorruptItem(t *testing.T) {
	store, mr := newRedisStore(t)

	_, err := mr.Lpush("orchestra:session:bad", "not json")
	require.NoError(t, err)

	_, err = store.GetItems(context.Background(), "bad", 0)
	assert.Error(t, err)
}

func TestSQLiteStore_File(t *testing.T) {
	path := t.TempDir() + "/sessions.db"

	store, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, store.AddItems(context.Background(), "s1", sampleItems()))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	items, err := reopened.GetItems(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.Equal(t, sampleItems(), items)
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	_, err := OpenSQLite("  ")
	assert.Error(t, err)
}
