package scheduler

import (
	"context"
	"time"

	"github.com/monque/monque/internal/common"
	"github.com/monque/monque/internal/interfaces"
)

// heartbeatPump refreshes lastHeartbeat for every job this instance owns
// (C8). One instance runs exactly one pump task; it starts when the
// dispatch loop starts and stops when shutdown begins.
type heartbeatPump struct {
	store      interfaces.JobStore
	instanceID string
	interval   time.Duration
	clock      Clock
	logger     *common.Logger
	events     *eventSink
	stats      *liveStats
}

func (h *heartbeatPump) run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("instanceId", h.instanceID).Msg("heartbeat pump: stopped")
			return
		case <-ticker.C:
			h.tick(ctx)
		}
	}
}

// tick runs under its own recovery boundary (spec §7): a transport error
// here must not kill the pump goroutine, only surface as job:error.
func (h *heartbeatPump) tick(ctx context.Context) {
	now := h.clock.Now()
	n, err := h.store.Heartbeat(ctx, h.instanceID, now)
	if err != nil {
		h.logger.Warn().Err(err).Msg("heartbeat pump: update failed")
		h.events.emit(Event{Kind: EventJobError, Err: err})
		return
	}
	if h.stats != nil {
		h.stats.recordHeartbeatTick(now)
	}
	if n > 0 {
		h.logger.Debug().Int64("count", n).Msg("heartbeat pump: refreshed")
	}
}
