package ops

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/webitel/im-delivery-service/config"
	"github.com/webitel/im-delivery-service/internal/domain/registry"
)

// registrySnapshot adapts the registry into a StatsSource. It fills only
// TotalActiveUsers (the fleet-wide active-user set) and Uptime;
// LocalLiveConnections and OfflineQueueDepth stay zero and ShardDepths
// stays empty.
type registrySnapshot struct {
	reg       *registry.Registry
	startedAt time.Time
}

func (r *registrySnapshot) Snapshot() Stats {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	users, err := r.reg.ActiveUsers(ctx)
	total := 0
	if err == nil {
		total = len(users)
	}

	return Stats{
		TotalActiveUsers: total,
		Uptime:           time.Since(r.startedAt),
	}
}

// Module wires the operator console behind ENABLE_TUI. When the flag is
// off, nothing in this module starts.
var Module = fx.Module("ops",
	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, reg *registry.Registry, logger *slog.Logger) {
		if !cfg.Runtime.EnableTUI {
			return
		}

		source := &registrySnapshot{reg: reg, startedAt: time.Now()}
		dash := NewDashboard(source, logger)

		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := dash.Run(); err != nil {
						logger.Error("OPS_DASHBOARD_FAILED", "error", err)
					}
				}()
				return nil
			},
			OnStop: func(context.Context) error {
				dash.Stop()
				return nil
			},
		})
	}),
)
