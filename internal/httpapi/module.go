package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"go.uber.org/fx"

	"github.com/webitel/im-delivery-service/config"
	"github.com/webitel/im-delivery-service/internal/persistence"
	"github.com/webitel/im-delivery-service/internal/pump"
	"github.com/webitel/im-delivery-service/internal/session"
)

var Module = fx.Module("httpapi",
	fx.Provide(func(sessions *session.Manager, tasks *pump.TaskQueue, store persistence.Store) http.Handler {
		return NewRouter(sessions, tasks, store)
	}),
	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, handler http.Handler, logger *slog.Logger) {
		srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler}

		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				ln, err := net.Listen("tcp", srv.Addr)
				if err != nil {
					return err
				}
				go func() {
					if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
						logger.Error("HTTP_SERVER_FAILED", "error", err)
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		})
	}),
)
