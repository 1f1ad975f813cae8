package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-delivery-service/internal/domain/notification"
	"github.com/webitel/im-delivery-service/internal/domain/registry"
	"github.com/webitel/im-delivery-service/internal/session"
)

type fakeMarkReadEnqueuer struct {
	ids []string
}

func (f *fakeMarkReadEnqueuer) EnqueueMarkRead(_ context.Context, id string) error {
	f.ids = append(f.ids, id)
	return nil
}

func TestHealthz(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	reg := registry.New(rdb, "srv-1")
	snapshot := func(context.Context, string) (notification.CountSnapshot, error) {
		return notification.CountSnapshot{}, nil
	}
	mgr := session.NewManager(reg, "srv-1", time.Minute, snapshot, slog.New(slog.DiscardHandler))

	router := NewRouter(mgr, &fakeMarkReadEnqueuer{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestMarkRead_MissingID(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	reg := registry.New(rdb, "srv-1")
	snapshot := func(context.Context, string) (notification.CountSnapshot, error) {
		return notification.CountSnapshot{}, nil
	}
	mgr := session.NewManager(reg, "srv-1", time.Minute, snapshot, slog.New(slog.DiscardHandler))
	enqueuer := &fakeMarkReadEnqueuer{}

	router := NewRouter(mgr, enqueuer, nil)

	req := httptest.NewRequest(http.MethodPost, "/notifications//read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.NotEqual(t, http.StatusAccepted, rec.Code)
}
