package cmd

import (
	"go.uber.org/fx"

	"github.com/webitel/im-delivery-service/config"
	"github.com/webitel/im-delivery-service/internal/dispatcher"
	"github.com/webitel/im-delivery-service/internal/domain/registry"
	"github.com/webitel/im-delivery-service/internal/httpapi"
	"github.com/webitel/im-delivery-service/internal/logging"
	"github.com/webitel/im-delivery-service/internal/ops"
	"github.com/webitel/im-delivery-service/internal/persistence"
	"github.com/webitel/im-delivery-service/internal/pump"
	"github.com/webitel/im-delivery-service/internal/session"
)

// NewApp assembles the full dependency graph: registry, session
// admission, dispatch, the three feeders, persistence, the HTTP/WS
// surface, logging, and the optional operator console.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(func() *config.Config { return cfg }),
		fx.Provide(func(store persistence.Store) session.SnapshotFunc {
			return store.CountSnapshot
		}),
		logging.Module,
		registry.Module,
		persistence.Module,
		session.Module,
		dispatcher.Module,
		pump.Module,
		httpapi.Module,
		ops.Module,
		fx.Invoke(func(mgr *session.Manager, tasks *pump.TaskQueue) {
			mgr.SetTaskEnqueuer(tasks)
		}),
	)
}
