// Package dispatcher implements the single entry point through which
// every notification enters the delivery core.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/webitel/im-delivery-service/internal/domain/notification"
	"github.com/webitel/im-delivery-service/internal/domain/registry"
	"github.com/webitel/im-delivery-service/internal/session"
)

// LocalSender is the subset of *session.Manager the Dispatcher needs:
// pushing a frame to a locally-held session, if this process owns one.
type LocalSender interface {
	Lookup(handle uint64) (*session.Session, bool)
}

// Dispatcher routes a notification to whichever of three places it
// belongs: a live local socket, the user's offline queue, or nowhere
// (already live on a process other than this one — only that
// process's Feeder A, fed by the shared broker channel, can reach it).
type Dispatcher struct {
	reg      *registry.Registry
	local    LocalSender
	serverID string
	logger   *slog.Logger
}

func New(reg *registry.Registry, local LocalSender, serverID string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{reg: reg, local: local, serverID: serverID, logger: logger}
}

// pushFrame is the literal wire frame pushed to a live local socket.
type pushFrame struct {
	Type      string `json:"type"`
	Event     string `json:"event"`
	Message   string `json:"message"`
	Count     int    `json:"count"`
	Timestamp int64  `json:"timestamp"`
}

// offlineEnvelope is the literal shape appended to a user's offline
// queue, replayed later by process_queued_notifications.
type offlineEnvelope struct {
	UserID    string `json:"user_id"`
	Event     string `json:"event"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Deliver routes a single notification to userID. It never blocks on a
// slow consumer: a full local outbox is treated the same as "not live"
// and falls through to the offline queue. Steps below follow the
// lookup / local-push / unbind-on-failure / enqueue-or-drop algorithm;
// a binding owned by a different process is handled identically to "no
// local push possible" since only the owning process's Feeder A, fed by
// the shared broker channel, can ever reach that socket.
func (d *Dispatcher) Deliver(ctx context.Context, userID string, n notification.Notification) (notification.Result, error) {
	binding, err := d.reg.LookupByUser(ctx, userID)
	switch {
	case errors.Is(err, registry.ErrNotBound):
		return d.enqueueOrDrop(ctx, userID, n)
	case err != nil:
		d.logger.Error("DISPATCH_LOOKUP_FAILED", "user_id", userID, "error", err)
		return d.enqueueOrDrop(ctx, userID, n)
	}

	if binding.ServerID == d.serverID {
		if sess, ok := d.local.Lookup(binding.Handle); ok {
			payload, err := json.Marshal(pushFrame{
				Type:      "notification",
				Event:     n.Event,
				Message:   n.Message,
				Count:     1,
				Timestamp: n.Timestamp,
			})
			if err != nil {
				d.logger.Error("DISPATCH_MARSHAL_FAILED", "user_id", userID, "error", err)
				return notification.Dropped, err
			}
			if sess.Send(payload) {
				return notification.Delivered, nil
			}
		}
		// registry says live locally but the session is gone or backed
		// up; treat as no-longer-live and unbind this process's own
		// handle (remote eviction, if any, is the other process's
		// responsibility).
		if err := d.reg.Unbind(ctx, userID, binding.Handle); err != nil {
			d.logger.Warn("DISPATCH_UNBIND_FAILED", "user_id", userID, "error", err)
		}
	}

	return d.enqueueOrDrop(ctx, userID, n)
}

func (d *Dispatcher) enqueueOrDrop(ctx context.Context, userID string, n notification.Notification) (notification.Result, error) {
	if n.Message == "" {
		return notification.Dropped, nil
	}

	payload, err := json.Marshal(offlineEnvelope{
		UserID:    userID,
		Event:     n.Event,
		Message:   n.Message,
		Timestamp: n.Timestamp,
	})
	if err != nil {
		d.logger.Error("DISPATCH_MARSHAL_FAILED", "user_id", userID, "error", err)
		return notification.Dropped, err
	}

	enqueued, err := d.reg.EnqueueOffline(ctx, userID, payload)
	if err != nil {
		d.logger.Error("DISPATCH_ENQUEUE_FAILED", "user_id", userID, "error", err)
		return notification.Dropped, err
	}
	if !enqueued {
		// a live binding exists somewhere (Q1): either this one's local
		// push already handled it above, or it belongs to another
		// process and this call has nothing further to do.
		return notification.Dropped, nil
	}
	return notification.Queued, nil
}
