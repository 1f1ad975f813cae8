package session

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-delivery-service/internal/domain/notification"
	"github.com/webitel/im-delivery-service/internal/domain/registry"
)

func newTestManager(t *testing.T, idleTimeout time.Duration) (*Manager, *registry.Registry) {
	t.Helper()
	rdb, _ := newTestRegistryClient(t)
	reg := registry.New(rdb, "srv-test")
	logger := slog.New(slog.DiscardHandler)
	snapshot := func(context.Context, string) (notification.CountSnapshot, error) {
		return notification.CountSnapshot{SystemNotifications: 1}, nil
	}
	return NewManager(reg, "srv-test", idleTimeout, snapshot, logger), reg
}

func TestServeHTTP_MissingUserIDCloses4000(t *testing.T) {
	mgr, _ := newTestManager(t, time.Minute)
	srv := httptest.NewServer(mgr)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected close error, got %v", err)
	require.Equal(t, int(CloseMissingUserID), closeErr.Code)
}

func TestServeHTTP_NonNumericUserIDCloses4000(t *testing.T) {
	mgr, _ := newTestManager(t, time.Minute)
	srv := httptest.NewServer(mgr)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?userId=user-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected close error, got %v", err)
	require.Equal(t, int(CloseMissingUserID), closeErr.Code)
}

func TestServeHTTP_AdmitsAndSendsInitialState(t *testing.T) {
	mgr, _ := newTestManager(t, time.Minute)
	srv := httptest.NewServer(mgr)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?userId=42"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), `"type":"connection"`)
	require.Contains(t, string(data), "connection_id")

	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), `"type":"notification_count"`)
}

func TestSession_StateStringer(t *testing.T) {
	require.Equal(t, "new", StateNew.String())
	require.Equal(t, "live", StateLive.String())
	require.Equal(t, "closing", StateClosing.String())
	require.Equal(t, "closed", StateClosed.String())
}

func TestValidUserID(t *testing.T) {
	require.True(t, validUserID("123"))
	require.False(t, validUserID("abc"))
	require.False(t, validUserID(""))
	require.False(t, validUserID(strings.Repeat("1", 257)))
}
