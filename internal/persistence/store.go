// Package persistence is the delivery core's SQL collaborator: it reads
// pending rows, unread counts, and announcements, and writes the status
// transitions notifications go through once delivered or read.
package persistence

import (
	"context"

	"github.com/webitel/im-delivery-service/internal/domain/notification"
)

// PendingNotification is a row Feeder B picks up off the pending queue.
type PendingNotification struct {
	ID     string
	UserID string
	Event  string
	Body   string
}

// Store is the persistence layer's external API. Reads are served off a
// dedicated read pool, writes off a dedicated write pool; both are
// wrapped in a circuit breaker so a database outage fails fast instead
// of blocking the feeders that depend on it.
type Store interface {
	// PendingNotifications returns rows with status='pending', oldest
	// first, capped at limit. Used by Feeder B's polling loop.
	PendingNotifications(ctx context.Context, limit int) ([]PendingNotification, error)

	// CountSnapshot returns the notification-count breakdown for userID,
	// used by the Initial-State Responder.
	CountSnapshot(ctx context.Context, userID string) (notification.CountSnapshot, error)

	// MarkSent transitions a notification from pending to sent.
	MarkSent(ctx context.Context, id string) error

	// MarkRead transitions a notification to read, used by
	// mark_notification_read.
	MarkRead(ctx context.Context, id string) error
}
