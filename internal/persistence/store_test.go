package persistence

import (
	"context"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, sqlmock.Sqlmock) {
	t.Helper()
	readDB, readMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = readDB.Close() })

	writeDB, writeMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = writeDB.Close() })

	logger := slog.New(slog.DiscardHandler)
	return &PostgresStore{
		readDB:       readDB,
		writeDB:      writeDB,
		readBreaker:  newBreaker("test-read", logger),
		writeBreaker: newBreaker("test-write", logger),
		logger:       logger,
	}, readMock, writeMock
}

func TestPendingNotifications_ReadsFromReadPool(t *testing.T) {
	store, readMock, _ := newTestStore(t)

	rows := sqlmock.NewRows([]string{"id", "user_id", "event", "body"}).
		AddRow("1", "user-1", "evt", "hello")
	readMock.ExpectQuery("SELECT id, user_id, event, body FROM notifications").
		WithArgs(10).
		WillReturnRows(rows)

	out, err := store.PendingNotifications(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "user-1", out[0].UserID)
	require.NoError(t, readMock.ExpectationsWereMet())
}

func TestCountSnapshot(t *testing.T) {
	store, readMock, _ := newTestStore(t)

	rows := sqlmock.NewRows([]string{"system", "general", "personal", "announcements"}).
		AddRow(1, 2, 3, 0)
	readMock.ExpectQuery("SELECT").WithArgs("user-1").WillReturnRows(rows)

	snap, err := store.CountSnapshot(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, snap.SystemNotifications)
	require.Equal(t, 2, snap.GeneralNotices)
	require.Equal(t, 3, snap.PersonalNotifications)
	require.NoError(t, readMock.ExpectationsWereMet())
}

func TestMarkSent_WritesToWritePool(t *testing.T) {
	store, _, writeMock := newTestStore(t)

	writeMock.ExpectExec("UPDATE notifications SET status = 'sent'").
		WithArgs("1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkSent(context.Background(), "1"))
	require.NoError(t, writeMock.ExpectationsWereMet())
}

func TestMarkRead_WritesToWritePool(t *testing.T) {
	store, _, writeMock := newTestStore(t)

	writeMock.ExpectExec("UPDATE notifications SET status = 'read'").
		WithArgs("1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkRead(context.Background(), "1"))
	require.NoError(t, writeMock.ExpectationsWereMet())
}
