package registry

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/webitel/im-delivery-service/config"
)

// Module wires the registry's Redis client and Registry value into the
// application graph.
var Module = fx.Module("registry",
	fx.Provide(
		func(cfg *config.Config, lc fx.Lifecycle) (redis.UniversalClient, error) {
			rdb, err := NewRedisClient(cfg.Redis)
			if err != nil {
				return nil, err
			}
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					return rdb.Close()
				},
			})
			return rdb, nil
		},
		func(rdb redis.UniversalClient, cfg *config.Config) *Registry {
			return New(rdb, cfg.ServerID)
		},
	),
)
