package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/sony/gobreaker"

	"github.com/webitel/im-delivery-service/config"
	"github.com/webitel/im-delivery-service/internal/domain/notification"
)

// PostgresStore implements Store against a Postgres database through two
// independently sized connection pools, per DB_READ_POOL_SIZE and
// DB_WRITE_POOL_SIZE, each guarded by its own circuit breaker so a
// struggling database degrades the feeders instead of stalling them.
type PostgresStore struct {
	readDB  *sql.DB
	writeDB *sql.DB

	readBreaker  *gobreaker.CircuitBreaker
	writeBreaker *gobreaker.CircuitBreaker

	logger *slog.Logger
}

// Open establishes the read and write pools described by cfg. Both
// pools point at the same DSN; they are split so read-heavy polling
// traffic never starves a write waiting on a free connection.
func Open(cfg config.DBConfig, logger *slog.Logger) (*PostgresStore, error) {
	readDB, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("persistence: open read pool: %w", err)
	}
	readDB.SetMaxOpenConns(cfg.ReadPoolSize)
	readDB.SetMaxIdleConns(cfg.ReadPoolSize)

	writeDB, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("persistence: open write pool: %w", err)
	}
	writeDB.SetMaxOpenConns(cfg.WritePoolSize)
	writeDB.SetMaxIdleConns(cfg.WritePoolSize)

	return &PostgresStore{
		readDB:       readDB,
		writeDB:      writeDB,
		readBreaker:  newBreaker("persistence-read", logger),
		writeBreaker: newBreaker("persistence-write", logger),
		logger:       logger,
	}, nil
}

func newBreaker(name string, logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("CIRCUIT_BREAKER_STATE_CHANGE", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

func (s *PostgresStore) Close() error {
	readErr := s.readDB.Close()
	writeErr := s.writeDB.Close()
	if readErr != nil {
		return readErr
	}
	return writeErr
}

// PendingNotifications reads off the read pool, falling back to the
// write pool once if the read pool's breaker is open, per the
// degrade-to-write-pool behavior the feeders depend on when the read
// replica is unavailable.
func (s *PostgresStore) PendingNotifications(ctx context.Context, limit int) ([]PendingNotification, error) {
	const q = `SELECT id, user_id, event, body FROM notifications WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1`

	rows, err := s.queryWithFallback(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("persistence: pending notifications: %w", err)
	}
	defer rows.Close()

	var out []PendingNotification
	for rows.Next() {
		var p PendingNotification
		if err := rows.Scan(&p.ID, &p.UserID, &p.Event, &p.Body); err != nil {
			return nil, fmt.Errorf("persistence: scan pending: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountSnapshot reads the notification-count breakdown for userID.
func (s *PostgresStore) CountSnapshot(ctx context.Context, userID string) (notification.CountSnapshot, error) {
	const q = `
		SELECT
			count(*) FILTER (WHERE kind = 'system' AND read_at IS NULL),
			count(*) FILTER (WHERE kind = 'general' AND read_at IS NULL),
			count(*) FILTER (WHERE kind = 'personal' AND read_at IS NULL),
			count(*) FILTER (WHERE kind = 'announcement' AND read_at IS NULL)
		FROM notifications WHERE user_id = $1`

	result, err := s.readBreaker.Execute(func() (interface{}, error) {
		row := s.readDB.QueryRowContext(ctx, q, userID)
		var snap notification.CountSnapshot
		if err := row.Scan(&snap.SystemNotifications, &snap.GeneralNotices, &snap.PersonalNotifications, &snap.Announcements); err != nil {
			return nil, err
		}
		return snap, nil
	})
	if err != nil {
		return notification.CountSnapshot{}, fmt.Errorf("persistence: count snapshot: %w", err)
	}
	return result.(notification.CountSnapshot), nil
}

// MarkSent transitions a notification to sent on the write pool.
func (s *PostgresStore) MarkSent(ctx context.Context, id string) error {
	return s.exec(ctx, `UPDATE notifications SET status = 'sent', sent_at = now() WHERE id = $1`, id)
}

// MarkRead transitions a notification to read on the write pool.
func (s *PostgresStore) MarkRead(ctx context.Context, id string) error {
	return s.exec(ctx, `UPDATE notifications SET status = 'read', read_at = now() WHERE id = $1`, id)
}

func (s *PostgresStore) exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := s.writeBreaker.Execute(func() (interface{}, error) {
		return s.writeDB.ExecContext(ctx, query, args...)
	})
	if err != nil {
		return fmt.Errorf("persistence: write: %w", err)
	}
	return nil
}

// queryWithFallback tries the read pool first; if its breaker is open,
// it falls back to the write pool exactly once rather than failing the
// whole poll cycle.
func (s *PostgresStore) queryWithFallback(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	result, err := s.readBreaker.Execute(func() (interface{}, error) {
		return s.readDB.QueryContext(ctx, query, args...)
	})
	if err == nil {
		return result.(*sql.Rows), nil
	}
	if err != gobreaker.ErrOpenState && err != gobreaker.ErrTooManyRequests {
		return nil, err
	}

	s.logger.Warn("READ_POOL_DEGRADED_TO_WRITE_POOL")
	return s.writeDB.QueryContext(ctx, query, args...)
}
