package dispatcher

import (
	"context"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-delivery-service/internal/domain/notification"
	"github.com/webitel/im-delivery-service/internal/domain/registry"
	"github.com/webitel/im-delivery-service/internal/session"
)

type fakeLocalSender struct {
	sessions map[uint64]*session.Session
}

func (f *fakeLocalSender) Lookup(handle uint64) (*session.Session, bool) {
	s, ok := f.sessions[handle]
	return s, ok
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *registry.Registry, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	reg := registry.New(rdb, "srv-a")
	local := &fakeLocalSender{sessions: make(map[uint64]*session.Session)}
	d := New(reg, local, "srv-a", slog.New(slog.DiscardHandler))
	return d, reg, rdb
}

func TestDeliver_QueuesWhenNotLive(t *testing.T) {
	ctx := context.Background()
	d, reg, _ := newTestDispatcher(t)

	res, err := d.Deliver(ctx, "user-1", notification.New("user-1", "evt", "hello"))
	require.NoError(t, err)
	require.Equal(t, notification.Queued, res)

	n, err := reg.OfflineLen(ctx, "user-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestDeliver_DropsEmptyNotification(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDispatcher(t)

	res, err := d.Deliver(ctx, "user-1", notification.Notification{UserID: "user-1"})
	require.NoError(t, err)
	require.Equal(t, notification.Dropped, res)
}

func TestDeliver_DropsWhenLiveOnAnotherServer(t *testing.T) {
	ctx := context.Background()
	d, _, rdb := newTestDispatcher(t)

	// a binding owned by a different process: neither this process's
	// local push nor its offline queue (Q1) can touch it.
	otherReg := registry.New(rdb, "srv-b")
	require.NoError(t, otherReg.Bind(ctx, "user-1", 99, nil))

	res, err := d.Deliver(ctx, "user-1", notification.New("user-1", "evt", "hi"))
	require.NoError(t, err)
	require.Equal(t, notification.Dropped, res)

	n, err := d.reg.OfflineLen(ctx, "user-1")
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}
