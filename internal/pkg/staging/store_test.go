package staging

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PropServe/internal/pkg/env"
)

func newRecord(id string, createdAt time.Time) *PendingRegistration {
	return &PendingRegistration{
		StagingID: id,
		Kind:      KindAgent,
		Email:     id + "@example.com",
		Profile:   Profile{Name: "Agent " + id, Email: id + "@example.com", Phone: "9876543210", PasswordHash: "$2a$10$x"},
		Artifacts: []ArtifactRef{{Type: DocVoterID, Path: "uploads/documents/" + id + "/voter_id.png", ContentType: "image/png", Size: 10}},
		CreatedAt: createdAt,
	}
}

// storeContract runs the same expectations against every Store backend.
func storeContract(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("create load remove", func(t *testing.T) {
		rec := newRecord("s-create", now)
		require.NoError(t, store.Create(ctx, rec))
		assert.ErrorIs(t, store.Create(ctx, rec), ErrExists)

		got, err := store.Load(ctx, "s-create")
		require.NoError(t, err)
		assert.Equal(t, rec.Email, got.Email)
		assert.Equal(t, rec.Artifacts, got.Artifacts)

		require.NoError(t, store.Remove(ctx, "s-create"))
		require.NoError(t, store.Remove(ctx, "s-create"), "remove must be idempotent")
		_, err = store.Load(ctx, "s-create")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list older than", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, newRecord("s-old", now.Add(-25*time.Hour))))
		require.NoError(t, store.Create(ctx, newRecord("s-fresh", now.Add(-time.Hour))))
		t.Cleanup(func() {
			_ = store.Remove(ctx, "s-old")
			_ = store.Remove(ctx, "s-fresh")
		})

		ids, err := store.ListOlderThan(ctx, 24*time.Hour)
		require.NoError(t, err)
		assert.Contains(t, ids, "s-old")
		assert.NotContains(t, ids, "s-fresh")
	})

	t.Run("order bindings", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, newRecord("s-bind", now)))
		b := OrderBinding{OrderID: "order_1", StagingID: "s-bind", Gateway: "razorpay", Amount: 150000, Currency: "INR", CreatedAt: now}
		require.NoError(t, store.BindOrder(ctx, b))
		require.NoError(t, store.BindOrder(ctx, b), "rebinding the same pair is allowed")

		conflict := b
		conflict.StagingID = "s-other"
		assert.ErrorIs(t, store.BindOrder(ctx, conflict), ErrOrderConflict)

		got, err := store.LookupOrder(ctx, "order_1")
		require.NoError(t, err)
		assert.Equal(t, "s-bind", got.StagingID)
		assert.Equal(t, int64(150000), got.Amount)

		orders, err := store.OrdersFor(ctx, "s-bind")
		require.NoError(t, err)
		require.Len(t, orders, 1)

		require.NoError(t, store.Remove(ctx, "s-bind"))
		_, err = store.LookupOrder(ctx, "order_1")
		assert.ErrorIs(t, err, ErrNotFound, "bindings are removed with the record")
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, newRecord("s-copy", time.Now())))

	got, err := store.Load(ctx, "s-copy")
	require.NoError(t, err)
	got.Artifacts[0].Path = "mutated"

	again, err := store.Load(ctx, "s-copy")
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again.Artifacts[0].Path)
}

func TestRedisStore(t *testing.T) {
	client := newTestRedisClient(t)
	prefix := fmt.Sprintf("test:staging:%d:", time.Now().UnixNano())
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			_ = client.Del(ctx, iter.Val()).Err()
		}
	})

	storeContract(t, NewRedisStore(client, prefix))
}

func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	hosts := []string{env.GetEnv("CACHE_HOST", ""), "cache", "localhost", "127.0.0.1"}
	port := env.GetEnv("CACHE_PORT", "6379")
	password := env.GetEnv("CACHE_PASSWORD", "")

	var lastErr error
	for _, host := range hosts {
		if host == "" {
			continue
		}
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", host, port),
			Password: password,
			DB:       13,
		})
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err == nil {
			t.Cleanup(func() { _ = client.Close() })
			return client
		}
		_ = client.Close()
		lastErr = err
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return nil
}
