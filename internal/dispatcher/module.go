package dispatcher

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/im-delivery-service/config"
	"github.com/webitel/im-delivery-service/internal/domain/registry"
	"github.com/webitel/im-delivery-service/internal/session"
)

var Module = fx.Module("dispatcher",
	fx.Provide(func(reg *registry.Registry, mgr *session.Manager, cfg *config.Config, logger *slog.Logger) *Dispatcher {
		return New(reg, mgr, cfg.ServerID, logger)
	}),
)
