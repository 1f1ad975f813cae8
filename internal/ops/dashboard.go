package ops

import (
	"fmt"
	"log/slog"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
)

const refreshInterval = time.Second

// Dashboard is a flag-gated (ENABLE_TUI) console rendering the figures
// an operator previously had no surface for: per-shard backlog, total
// live connections, and offline queue depth, across the fleet.
type Dashboard struct {
	source StatsSource
	logger *slog.Logger
	stopCh chan struct{}
}

func NewDashboard(source StatsSource, logger *slog.Logger) *Dashboard {
	return &Dashboard{source: source, logger: logger, stopCh: make(chan struct{})}
}

// Run initializes the terminal UI and renders Stats snapshots until
// Stop is called or the user presses q/Ctrl-C. It must run on a
// terminal-attached process; Start it only when ENABLE_TUI is set.
func (d *Dashboard) Run() error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("ops: init termui: %w", err)
	}
	defer ui.Close()

	summary := widgets.NewParagraph()
	summary.Title = "im-delivery-service"
	summary.SetRect(0, 0, 60, 7)

	shardGauge := widgets.NewBarChart()
	shardGauge.Title = "send_notification shard backlog"
	shardGauge.SetRect(0, 7, 60, 17)

	ui.Render(summary, shardGauge)

	events := ui.PollEvents()
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return nil
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			}
		case <-ticker.C:
			snap := d.source.Snapshot()
			summary.Text = fmt.Sprintf(
				"active users: %d\nlocal live connections: %d\noffline queue depth: %d\nuptime: %s",
				snap.TotalActiveUsers, snap.LocalLiveConnections, snap.OfflineQueueDepth, snap.Uptime.Truncate(time.Second),
			)

			labels := make([]string, len(snap.ShardDepths))
			values := make([]float64, len(snap.ShardDepths))
			for i, sd := range snap.ShardDepths {
				labels[i] = sd.Shard
				values[i] = float64(sd.Backlog)
			}
			shardGauge.Labels = labels
			shardGauge.Data = values

			ui.Render(summary, shardGauge)
		}
	}
}

// Stop ends the render loop. Safe to call once.
func (d *Dashboard) Stop() {
	close(d.stopCh)
}
