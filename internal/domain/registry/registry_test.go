package registry

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, serverID string) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, serverID), mr
}

func TestBind_PublishesForwardAndInverse(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t, "srv-1")

	require.NoError(t, reg.Bind(ctx, "user-1", 42, nil))

	b, err := reg.LookupByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, Binding{ServerID: "srv-1", Handle: 42}, b)

	userID, err := reg.LookupByHandle(ctx, "srv-1", 42)
	require.NoError(t, err)
	require.Equal(t, "user-1", userID)
}

func TestBind_EvictsPriorBinding(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t, "srv-1")

	require.NoError(t, reg.Bind(ctx, "user-1", 1, nil))

	var evicted Binding
	evictCalled := false
	require.NoError(t, reg.Bind(ctx, "user-1", 2, func(_ context.Context, b Binding) {
		evictCalled = true
		evicted = b
	}))

	require.True(t, evictCalled)
	require.Equal(t, Binding{ServerID: "srv-1", Handle: 1}, evicted)

	// the old handle's inverse entry must be gone (R1)
	_, err := reg.LookupByHandle(ctx, "srv-1", 1)
	require.ErrorIs(t, err, ErrNotBound)

	b, err := reg.LookupByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, Binding{ServerID: "srv-1", Handle: 2}, b)
}

func TestUnbind_CompareAndDeleteIgnoresStaleHandle(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t, "srv-1")

	require.NoError(t, reg.Bind(ctx, "user-1", 1, nil))
	require.NoError(t, reg.Bind(ctx, "user-1", 2, nil)) // supersedes handle 1

	// a stale close for the superseded handle must not remove the live binding
	require.NoError(t, reg.Unbind(ctx, "user-1", 1))

	b, err := reg.LookupByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, uint64(2), b.Handle)

	require.NoError(t, reg.Unbind(ctx, "user-1", 2))
	_, err = reg.LookupByUser(ctx, "user-1")
	require.ErrorIs(t, err, ErrNotBound)
}

func TestEnqueueOffline_SkipsWhenLive(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t, "srv-1")

	require.NoError(t, reg.Bind(ctx, "user-1", 1, nil))

	enqueued, err := reg.EnqueueOffline(ctx, "user-1", []byte(`{"x":1}`))
	require.NoError(t, err)
	require.False(t, enqueued)

	n, err := reg.OfflineLen(ctx, "user-1")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestEnqueueOffline_WhenNotLive(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t, "srv-1")

	enqueued, err := reg.EnqueueOffline(ctx, "user-1", []byte(`{"x":1}`))
	require.NoError(t, err)
	require.True(t, enqueued)

	enqueued, err = reg.EnqueueOffline(ctx, "user-1", []byte(`{"x":2}`))
	require.NoError(t, err)
	require.True(t, enqueued)

	n, err := reg.OfflineLen(ctx, "user-1")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	items, err := reg.DrainOffline(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte(`{"x":1}`), []byte(`{"x":2}`)}, items)

	n, err = reg.OfflineLen(ctx, "user-1")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestActiveUsers_TracksBindAndUnbind(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t, "srv-1")

	require.NoError(t, reg.Bind(ctx, "user-1", 1, nil))
	require.NoError(t, reg.Bind(ctx, "user-2", 2, nil))

	users, err := reg.ActiveUsers(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"user-1", "user-2"}, users)

	require.NoError(t, reg.Unbind(ctx, "user-1", 1))

	users, err = reg.ActiveUsers(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"user-2"}, users)
}
