// Package pump runs the three feeders that bring notifications into the
// delivery core: a broker subscriber (Feeder A), a database poller
// (Feeder B), and an in-process task queue (Feeder C).
package pump

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/webitel/im-delivery-service/internal/domain/notification"
	"github.com/webitel/im-delivery-service/internal/domain/registry"
)

const resubscribeBackoff = 5 * time.Second

// brokerMessage is the external channel contract: any producer,
// in-process or external to the delivery core, publishes this shape to
// request delivery of a notification to a user.
type brokerMessage struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// BrokerFeeder is Feeder A: a long-lived subscription on the shared
// broker channel. Every message decodes to {userId, message} and is
// handed to Dispatcher.Deliver exactly as an external publisher would
// expect; only the process that actually owns the user's live binding
// ends up pushing to a socket.
type BrokerFeeder struct {
	rdb    redis.UniversalClient
	deliver Deliverer
	logger *slog.Logger
}

func NewBrokerFeeder(rdb redis.UniversalClient, deliver Deliverer, logger *slog.Logger) *BrokerFeeder {
	return &BrokerFeeder{rdb: rdb, deliver: deliver, logger: logger}
}

// Run subscribes and processes messages until ctx is cancelled,
// resubscribing on any transport error. It never returns while ctx is
// live, matching the always-on feeder shape every pump uses.
func (f *BrokerFeeder) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.subscribeOnce(ctx); err != nil {
			f.logger.Warn("BROKER_FEEDER_RESUBSCRIBE", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(resubscribeBackoff):
			}
		}
	}
}

func (f *BrokerFeeder) subscribeOnce(ctx context.Context) error {
	sub := f.rdb.Subscribe(ctx, registry.BrokerChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			f.handle(ctx, msg.Payload)
		}
	}
}

func (f *BrokerFeeder) handle(ctx context.Context, payload string) {
	var msg brokerMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		f.logger.Error("BROKER_DECODE_FAILED", "error", err)
		return
	}
	if msg.UserID == "" {
		return
	}

	n := notification.New(msg.UserID, "notification", msg.Message)
	if _, err := f.deliver.Deliver(ctx, msg.UserID, n); err != nil {
		f.logger.Warn("BROKER_DELIVER_FAILED", "user_id", msg.UserID, "error", err)
	}
}
