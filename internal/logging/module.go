package logging

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
)

var Module = fx.Module("logging",
	fx.Provide(func(lc fx.Lifecycle) (*slog.Logger, error) {
		logger, shutdown, err := NewLogger()
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return shutdown(ctx)
			},
		})
		return logger, nil
	}),
)
