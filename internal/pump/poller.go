package pump

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/webitel/im-delivery-service/internal/persistence"
)

const (
	pollInterval  = 15 * time.Second
	leaderLockKey = "ws:feeder_b:leader"
	pollBatchSize = 200
)

// TaskEnqueuer is the subset of the task queue (Feeder C) the poller
// needs: handing off each pending row as a send_notification task.
type TaskEnqueuer interface {
	EnqueuePendingDBNotification(ctx context.Context, n persistence.PendingNotification) error
}

// DBPoller is Feeder B: every pollInterval it reads rows with
// status='pending' and enqueues a send task for each. Only one process
// in the fleet actually polls at a time, arbitrated by a short-lived
// Redis lock so every other process's ticker is a harmless no-op.
type DBPoller struct {
	store    persistence.Store
	enqueuer TaskEnqueuer
	rdb      redis.UniversalClient
	logger   *slog.Logger
}

func NewDBPoller(store persistence.Store, enqueuer TaskEnqueuer, rdb redis.UniversalClient, logger *slog.Logger) *DBPoller {
	return &DBPoller{store: store, enqueuer: enqueuer, rdb: rdb, logger: logger}
}

// Run ticks every pollInterval until ctx is cancelled.
func (p *DBPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *DBPoller) tick(ctx context.Context) {
	acquired, err := p.rdb.SetNX(ctx, leaderLockKey, "1", pollInterval-time.Second).Result()
	if err != nil {
		p.logger.Warn("FEEDER_B_LOCK_FAILED", "error", err)
		return
	}
	if !acquired {
		return // another process is the poller this cycle
	}

	rows, err := p.store.PendingNotifications(ctx, pollBatchSize)
	if err != nil {
		p.logger.Error("FEEDER_B_POLL_FAILED", "error", err)
		return
	}

	for _, row := range rows {
		if err := p.enqueuer.EnqueuePendingDBNotification(ctx, row); err != nil {
			p.logger.Error("FEEDER_B_ENQUEUE_FAILED", "notification_id", row.ID, "error", err)
		}
	}
}
