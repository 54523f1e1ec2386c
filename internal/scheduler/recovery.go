package scheduler

import (
	"context"
	"time"

	"github.com/monque/monque/internal/common"
	"github.com/monque/monque/internal/interfaces"
)

// recoverer resets jobs whose owner has disappeared back to pending (C9).
// Staleness is defined purely by lockedAt + lockTimeout (spec §4.7's open
// question resolution) — lastHeartbeat is never consulted here, so a live
// job heartbeating normally but with a long lockTimeout can never be
// reclassified as stale by this predicate.
type recoverer struct {
	store       interfaces.JobStore
	lockTimeout time.Duration
	clock       Clock
	logger      *common.Logger
	events      *eventSink
}

// Sweep performs one recovery pass. It is called once at startup
// (spec §4.7) and may additionally be scheduled periodically by callers
// that want a tighter recovery window than lockTimeout alone provides.
func (r *recoverer) Sweep(ctx context.Context) (int64, error) {
	n, err := r.store.ReleaseStale(ctx, r.lockTimeout, r.clock.Now())
	if err != nil {
		r.logger.Warn().Err(err).Msg("stale recovery: sweep failed")
		return 0, err
	}
	if n > 0 {
		r.logger.Info().Int64("count", n).Msg("stale recovery: reset jobs to pending")
	}
	r.events.emit(Event{Kind: EventStaleRecovered, Count: int(n)})
	return n, nil
}

// runPeriodic repeats Sweep every interval until ctx is cancelled. Not
// required for correctness (spec §4.7) as long as lockTimeout comfortably
// exceeds the heartbeat interval; offered for deployments that want
// abandoned jobs reclaimed faster than the next instance restart.
func (r *recoverer) runPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = r.Sweep(ctx)
		}
	}
}
