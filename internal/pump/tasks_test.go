package pump

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webitel/im-delivery-service/internal/domain/notification"
	"github.com/webitel/im-delivery-service/internal/persistence"
)

type fakeStore struct {
	mu        sync.Mutex
	markedSent []string
	markedRead []string
}

func (f *fakeStore) PendingNotifications(context.Context, int) ([]persistence.PendingNotification, error) {
	return nil, nil
}

func (f *fakeStore) CountSnapshot(context.Context, string) (notification.CountSnapshot, error) {
	return notification.CountSnapshot{}, nil
}

func (f *fakeStore) MarkSent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedSent = append(f.markedSent, id)
	return nil
}

func (f *fakeStore) MarkRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedRead = append(f.markedRead, id)
	return nil
}

type fakeDeliverer struct {
	mu        sync.Mutex
	delivered []notification.Notification
}

func (f *fakeDeliverer) Deliver(_ context.Context, userID string, n notification.Notification) (notification.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, n)
	return notification.Delivered, nil
}

type fakeActiveUserLister struct{}

func (fakeActiveUserLister) ActiveUsers(context.Context) ([]string, error)             { return nil, nil }
func (fakeActiveUserLister) DrainOffline(context.Context, string) ([][]byte, error)     { return nil, nil }

func TestTaskQueue_PendingDBNotificationReachesSend(t *testing.T) {
	store := &fakeStore{}
	deliverer := &fakeDeliverer{}
	logger := slog.New(slog.DiscardHandler)

	tq := NewTaskQueue(store, fakeActiveUserLister{}, deliverer, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, tq.Run(ctx))

	require.NoError(t, tq.EnqueuePendingDBNotification(ctx, persistence.PendingNotification{
		ID:     "n-1",
		UserID: "user-1",
		Event:  "evt",
		Body:   "hello",
	}))

	require.Eventually(t, func() bool {
		deliverer.mu.Lock()
		defer deliverer.mu.Unlock()
		return len(deliverer.delivered) == 1
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.markedSent) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestTaskQueue_MarkRead(t *testing.T) {
	store := &fakeStore{}
	deliverer := &fakeDeliverer{}
	logger := slog.New(slog.DiscardHandler)

	tq := NewTaskQueue(store, fakeActiveUserLister{}, deliverer, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, tq.Run(ctx))

	require.NoError(t, tq.EnqueueMarkRead(ctx, "n-2"))

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.markedRead) == 1 && store.markedRead[0] == "n-2"
	}, time.Second, 10*time.Millisecond)
}
