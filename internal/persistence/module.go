package persistence

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/im-delivery-service/config"
)

var Module = fx.Module("persistence",
	fx.Provide(
		func(cfg *config.Config, lc fx.Lifecycle, logger *slog.Logger) (*PostgresStore, error) {
			store, err := Open(cfg.DB, logger)
			if err != nil {
				return nil, err
			}
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					return store.Close()
				},
			})
			return store, nil
		},
		func(store *PostgresStore) Store { return NewCachedStore(store, 4096) },
	),
)
