package session

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/im-delivery-service/config"
	"github.com/webitel/im-delivery-service/internal/domain/registry"
)

// Module wires the session Manager into the application graph. The
// SnapshotFunc dependency is provided by the persistence/cache package.
var Module = fx.Module("session",
	fx.Provide(func(cfg *config.Config, reg *registry.Registry, snapshot SnapshotFunc, logger *slog.Logger) *Manager {
		return NewManager(reg, cfg.ServerID, cfg.Heartbeat.IdleTimeout, snapshot, logger)
	}),
)
