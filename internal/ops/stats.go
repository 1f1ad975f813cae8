// Package ops provides an optional operator console, rendering a live
// snapshot of registry and queue figures for anyone attached to the
// process's terminal.
package ops

import "time"

// Stats is the figure set the console renders. It is not served over
// HTTP.
type Stats struct {
	TotalActiveUsers     int
	LocalLiveConnections int
	OfflineQueueDepth    int
	Uptime               time.Duration
	ShardDepths          []ShardDepth
}

// ShardDepth is the per-send_notification-shard backlog, letting an
// operator spot a single hot shard.
type ShardDepth struct {
	Shard     string
	Backlog   int
}

// StatsSource produces a Stats snapshot on demand. Implemented by a
// small facade over the registry and task queue so neither package
// needs to depend on ops.
type StatsSource interface {
	Snapshot() Stats
}
