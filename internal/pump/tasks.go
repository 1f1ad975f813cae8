package pump

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/webitel/im-delivery-service/internal/consistent"
	"github.com/webitel/im-delivery-service/internal/domain/notification"
	"github.com/webitel/im-delivery-service/internal/persistence"
)

const (
	topicProcessPendingDB     = "process_pending_db_notifications"
	topicProcessQueued        = "process_queued_notifications"
	topicMarkRead             = "mark_notification_read"
	sendNotificationTaskShards = 8
)

// Deliverer is the subset of the Dispatcher Feeder C needs: handing a
// notification to a user through whatever delivery path applies.
type Deliverer interface {
	Deliver(ctx context.Context, userID string, n notification.Notification) (notification.Result, error)
}

// TaskQueue is Feeder C: an in-process task queue running four task
// kinds (process_pending_db_notifications, process_queued_notifications,
// send_notification, mark_notification_read) over watermill's in-memory
// gochannel transport. send_notification is additionally sharded across
// a fixed worker pool by a consistent-hash ring keyed on userID, so a
// single user's notifications are always handled by the same worker and
// never reordered relative to each other.
type TaskQueue struct {
	pubsub    *gochannel.GoChannel
	store     persistence.Store
	registry  ActiveUserLister
	deliver   Deliverer
	outbound  *OutboundFanout
	ring      *consistent.Ring
	shardTopics []string
	logger    *slog.Logger
}

// ActiveUserLister enumerates users with a live binding anywhere in the
// cluster, used by process_queued_notifications.
type ActiveUserLister interface {
	ActiveUsers(ctx context.Context) ([]string, error)
	DrainOffline(ctx context.Context, userID string) ([][]byte, error)
}

func NewTaskQueue(store persistence.Store, registry ActiveUserLister, deliver Deliverer, outbound *OutboundFanout, logger *slog.Logger) *TaskQueue {
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1024}, watermill.NewSlogLogger(logger))

	shardTopics := make([]string, sendNotificationTaskShards)
	for i := range shardTopics {
		shardTopics[i] = fmt.Sprintf("send_notification.%d", i)
	}

	return &TaskQueue{
		pubsub:      pubsub,
		store:       store,
		registry:    registry,
		deliver:     deliver,
		outbound:    outbound,
		ring:        consistent.New(shardTopics, 0),
		shardTopics: shardTopics,
		logger:      logger,
	}
}

// Run synchronously subscribes one consumer goroutine per topic (and
// one per send_notification shard), then returns. The queue keeps
// running until ctx is cancelled.
func (q *TaskQueue) Run(ctx context.Context) error {
	if err := q.consume(ctx, topicProcessPendingDB, q.handleProcessPendingDB); err != nil {
		return err
	}
	if err := q.consume(ctx, topicProcessQueued, q.handleProcessQueued); err != nil {
		return err
	}
	if err := q.consume(ctx, topicMarkRead, q.handleMarkRead); err != nil {
		return err
	}
	for _, topic := range q.shardTopics {
		if err := q.consume(ctx, topic, q.handleSendNotification); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		_ = q.pubsub.Close()
	}()
	return nil
}

func (q *TaskQueue) consume(ctx context.Context, topic string, handle func(context.Context, *message.Message) error) error {
	messages, err := q.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("pump: subscribe %s: %w", topic, err)
	}

	go func() {
		for msg := range messages {
			if err := handle(msg.Context(), msg); err != nil {
				q.logger.Error("TASK_HANDLER_FAILED", "topic", topic, "error", err)
				msg.Nack()
				continue
			}
			msg.Ack()
		}
	}()
	return nil
}

// EnqueuePendingDBNotification implements TaskEnqueuer for the poller
// (Feeder B).
func (q *TaskQueue) EnqueuePendingDBNotification(ctx context.Context, n persistence.PendingNotification) error {
	return q.publish(topicProcessPendingDB, n)
}

// EnqueueMarkRead schedules a mark_notification_read task, used by the
// HTTP/websocket read-receipt surface.
func (q *TaskQueue) EnqueueMarkRead(ctx context.Context, notificationID string) error {
	return q.publish(topicMarkRead, markReadTask{NotificationID: notificationID})
}

// EnqueueSendNotification schedules a single send_notification task
// directly onto this user's consistent-hash shard, used by the
// WebSocket send_notification client action.
func (q *TaskQueue) EnqueueSendNotification(ctx context.Context, n notification.Notification) error {
	shard := q.shardTopics[0]
	if n.UserID != "" {
		shard = q.ring.Get(n.UserID)
	}
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return q.pubsub.Publish(shard, message.NewMessage(watermill.NewUUID(), data))
}

// TriggerProcessQueued schedules one process_queued_notifications sweep.
// No component in this repository calls it; the sweep runs only when a
// caller invokes it.
func (q *TaskQueue) TriggerProcessQueued(ctx context.Context) error {
	return q.publish(topicProcessQueued, struct{}{})
}

func (q *TaskQueue) publish(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	return q.pubsub.Publish(topic, msg)
}

type markReadTask struct {
	NotificationID string `json:"notification_id"`
}

func (q *TaskQueue) handleProcessPendingDB(ctx context.Context, msg *message.Message) error {
	var row persistence.PendingNotification
	if err := json.Unmarshal(msg.Payload, &row); err != nil {
		return err
	}

	n := notification.New(row.UserID, row.Event, row.Body)
	n.ID = row.ID

	shard := q.shardTopics[0]
	if row.UserID != "" {
		shard = q.ring.Get(row.UserID)
	}

	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return q.pubsub.Publish(shard, message.NewMessage(watermill.NewUUID(), data))
}

func (q *TaskQueue) handleSendNotification(ctx context.Context, msg *message.Message) error {
	var n notification.Notification
	if err := json.Unmarshal(msg.Payload, &n); err != nil {
		return err
	}

	result, err := q.deliver.Deliver(ctx, n.UserID, n)
	if err != nil {
		q.logger.Warn("SEND_NOTIFICATION_FAILED", "user_id", n.UserID, "error", err)
	}

	if n.ID != "" && (result == notification.Delivered || result == notification.Queued) {
		if err := q.store.MarkSent(ctx, n.ID); err != nil {
			q.logger.Warn("MARK_SENT_FAILED", "notification_id", n.ID, "error", err)
		}
		if inv, ok := q.store.(invalidator); ok {
			inv.InvalidateUser(n.UserID)
		}
	}

	if q.outbound != nil {
		q.outbound.Publish(ctx, n)
	}
	return nil
}

func (q *TaskQueue) handleProcessQueued(ctx context.Context, _ *message.Message) error {
	users, err := q.registry.ActiveUsers(ctx)
	if err != nil {
		return err
	}

	for _, userID := range users {
		items, err := q.registry.DrainOffline(ctx, userID)
		if err != nil {
			q.logger.Warn("DRAIN_OFFLINE_FAILED", "user_id", userID, "error", err)
			continue
		}
		for _, payload := range items {
			var env struct {
				UserID    string `json:"user_id"`
				Event     string `json:"event"`
				Message   string `json:"message"`
				Timestamp int64  `json:"timestamp"`
			}
			if err := json.Unmarshal(payload, &env); err != nil {
				continue
			}
			n := notification.Notification{UserID: env.UserID, Event: env.Event, Message: env.Message, Timestamp: env.Timestamp}
			if _, err := q.deliver.Deliver(ctx, userID, n); err != nil {
				q.logger.Warn("REPLAY_OFFLINE_FAILED", "user_id", userID, "error", err)
			}
		}
	}
	return nil
}

func (q *TaskQueue) handleMarkRead(ctx context.Context, msg *message.Message) error {
	var task markReadTask
	if err := json.Unmarshal(msg.Payload, &task); err != nil {
		return err
	}
	return q.store.MarkRead(ctx, task.NotificationID)
}

// invalidator is implemented by *persistence.CachedStore. Checked with a
// type assertion so the task queue works against any Store, cached or
// not.
type invalidator interface {
	InvalidateUser(userID string)
}
