package app

import (
	"arius/internal/runtime/supervisor"
	"arius/internal/task/engine"
	"arius/pkg/logx"
)

// Stats is a point-in-time view of the running app.
type Stats struct {
	Engine     engine.Snapshot
	Goroutines supervisor.Counters
	// Panicked lists supervised goroutines that recovered from a panic.
	Panicked []string
}

func (a *App) Stats() Stats {
	st := Stats{Engine: a.engine.Snapshot()}
	if a.sup != nil {
		st.Goroutines = a.sup.Counters()
		st.Panicked = a.sup.Panics()
	}
	return st
}

func (s Stats) fields() []logx.Field {
	return []logx.Field{
		logx.Int("engine_workers", s.Engine.Workers),
		logx.Int("engine_queue", s.Engine.QueueLen),
		logx.Int("engine_inflight", s.Engine.InFlight),
		logx.Uint64("engine_dropped_queue_full", s.Engine.DroppedQueueFull),
		logx.Uint64("engine_dropped_stale", s.Engine.DroppedStale),
		logx.Int("engine_history", len(s.Engine.History)),
		logx.Int64("goroutines_active", s.Goroutines.Active),
		logx.Uint64("goroutines_started", s.Goroutines.Started),
		logx.Strings("panicked", s.Panicked),
	}
}
