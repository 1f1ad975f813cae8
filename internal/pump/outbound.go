package pump

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/webitel/im-delivery-service/internal/domain/notification"
)

const (
	topicEmailQueue = "email_queue"
	topicSMSQueue   = "sms_queue"
	topicPushQueue  = "push_queue"
)

// OutboundFanout publishes every notification handled by a
// send_notification task, whatever its delivery result, onto the
// external email/sms/push transport queues named alongside the core.
// It is publish-only: the queues are consumed by collaborators outside
// this process, never by the core itself.
type OutboundFanout struct {
	publisher message.Publisher
	logger    *slog.Logger
}

// NewOutboundFanout builds a fanout bound to amqpURL. If amqpURL is
// empty, the fanout is a no-op, letting the core run without an AMQP
// broker configured.
func NewOutboundFanout(amqpURL string, logger *slog.Logger) (*OutboundFanout, error) {
	if amqpURL == "" {
		return &OutboundFanout{logger: logger}, nil
	}

	cfg := amqp.NewDurablePubSubConfig(amqpURL, nil)
	publisher, err := amqp.NewPublisher(cfg, watermill.NewSlogLogger(logger))
	if err != nil {
		return nil, err
	}
	return &OutboundFanout{publisher: publisher, logger: logger}, nil
}

// Publish fans a notification out to every transport queue.
// Failures are logged, never returned: outbound transport is
// best-effort and must never slow down the core delivery path.
func (f *OutboundFanout) Publish(ctx context.Context, n notification.Notification) {
	if f.publisher == nil {
		return
	}

	data, err := json.Marshal(n)
	if err != nil {
		f.logger.Error("OUTBOUND_MARSHAL_FAILED", "user_id", n.UserID, "error", err)
		return
	}

	for _, topic := range []string{topicEmailQueue, topicSMSQueue, topicPushQueue} {
		if err := f.publisher.Publish(topic, message.NewMessage(n.ID, data)); err != nil {
			f.logger.Warn("OUTBOUND_PUBLISH_FAILED", "topic", topic, "error", err)
		}
	}
}

func (f *OutboundFanout) Close() error {
	if f.publisher == nil {
		return nil
	}
	return f.publisher.Close()
}
