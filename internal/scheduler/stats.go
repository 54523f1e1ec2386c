package scheduler

import (
	"sync"
	"sync/atomic"
	"time"
)

// SchedulerStats is the process-local introspection snapshot exposed by
// Scheduler.Stats, useful for a health/status endpoint.
type SchedulerStats struct {
	DispatchTickCount     int64
	LastHeartbeatTick     time.Time
	ChangeStreamConnected bool
}

// liveStats accumulates the counters dispatch, heartbeat, and the
// change-stream subscriber each update on their own goroutine.
type liveStats struct {
	dispatchTicks int64 // atomic

	mu             sync.Mutex
	lastHeartbeat  time.Time
	changeStreamUp bool
}

func newLiveStats() *liveStats {
	return &liveStats{}
}

func (s *liveStats) recordDispatchTick() {
	atomic.AddInt64(&s.dispatchTicks, 1)
}

func (s *liveStats) recordHeartbeatTick(at time.Time) {
	s.mu.Lock()
	s.lastHeartbeat = at
	s.mu.Unlock()
}

func (s *liveStats) setChangeStreamConnected(up bool) {
	s.mu.Lock()
	s.changeStreamUp = up
	s.mu.Unlock()
}

func (s *liveStats) snapshot() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStats{
		DispatchTickCount:     atomic.LoadInt64(&s.dispatchTicks),
		LastHeartbeatTick:     s.lastHeartbeat,
		ChangeStreamConnected: s.changeStreamUp,
	}
}
