package pump

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/webitel/im-delivery-service/config"
	"github.com/webitel/im-delivery-service/internal/domain/registry"
	"github.com/webitel/im-delivery-service/internal/dispatcher"
	"github.com/webitel/im-delivery-service/internal/persistence"
)

// Module wires the three feeders and the outbound fanout into the
// application graph and starts them on application start.
var Module = fx.Module("pump",
	fx.Provide(
		func(cfg *config.Config, logger *slog.Logger) (*OutboundFanout, error) {
			return NewOutboundFanout(cfg.AMQP.URL, logger)
		},
		func(store persistence.Store, reg *registry.Registry, disp *dispatcher.Dispatcher, fanout *OutboundFanout, logger *slog.Logger) *TaskQueue {
			return NewTaskQueue(store, reg, disp, fanout, logger)
		},
		func(rdb redis.UniversalClient, disp *dispatcher.Dispatcher, logger *slog.Logger) *BrokerFeeder {
			return NewBrokerFeeder(rdb, disp, logger)
		},
		func(store persistence.Store, tasks *TaskQueue, rdb redis.UniversalClient, logger *slog.Logger) *DBPoller {
			return NewDBPoller(store, tasks, rdb, logger)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, broker *BrokerFeeder, poller *DBPoller, tasks *TaskQueue, fanout *OutboundFanout) {
		ctx, cancel := context.WithCancel(context.Background())

		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				if err := tasks.Run(ctx); err != nil {
					return err
				}
				go broker.Run(ctx)
				go poller.Run(ctx)
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return fanout.Close()
			},
		})
	}),
)
