package scheduler

import (
	"context"
	"time"

	"github.com/monque/monque/internal/common"
	"github.com/monque/monque/internal/interfaces"
)

// dispatcher fills available worker slots on each tick (C5). It never
// blocks on handler execution — concurrency is bounded only by the
// registry's governor — and it releases control between every claim so
// handlers and the change-stream subscriber can make progress.
type dispatcher struct {
	store             interfaces.JobStore
	registry          *Registry
	pipeline          *pipeline
	instanceID        string
	heartbeatInterval time.Duration
	pollInterval      time.Duration
	clock             Clock
	logger            *common.Logger
	events            *eventSink
	stats             *liveStats

	wake chan struct{} // change-stream wake-up, debounced by the subscriber
}

func newDispatcher(
	store interfaces.JobStore,
	registry *Registry,
	pl *pipeline,
	instanceID string,
	heartbeatInterval, pollInterval time.Duration,
	clock Clock,
	logger *common.Logger,
	events *eventSink,
) *dispatcher {
	return &dispatcher{
		store:             store,
		registry:          registry,
		pipeline:          pl,
		instanceID:        instanceID,
		heartbeatInterval: heartbeatInterval,
		pollInterval:      pollInterval,
		clock:             clock,
		logger:            logger,
		events:            events,
		stats:             newLiveStats(),
		wake:              make(chan struct{}, 1),
	}
}

// wakeUp requests an out-of-band tick, coalescing with any pending
// request (spec §4.9's "at most one poll per debounce burst").
func (d *dispatcher) wakeUp() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Str("instanceId", d.instanceID).Msg("dispatch loop: stopped")
			return
		case <-ticker.C:
			d.tick(ctx)
		case <-d.wake:
			d.tick(ctx)
		}
	}
}

// tick fills slots for every registered name. It runs under its own
// recovery boundary per name: one name's claim error is logged as
// job:error and does not prevent the remaining names from being tried
// (spec §7).
func (d *dispatcher) tick(ctx context.Context) {
	d.stats.recordDispatchTick()
	for _, name := range d.registry.Names() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.fillSlots(ctx, name)
	}
}

func (d *dispatcher) fillSlots(ctx context.Context, name string) {
	k := d.registry.Slots(name)
	for i := 0; i < k; i++ {
		select {
		case <-ctx.Done():
			// A claim already in flight still gets dispatched below; we
			// only stop issuing *new* claims once stopping begins.
			return
		default:
		}

		job, err := d.store.Claim(ctx, name, interfaces.ClaimOptions{
			InstanceID:        d.instanceID,
			HeartbeatInterval: d.heartbeatInterval,
			Now:               d.clock.Now(),
		})
		if err != nil {
			d.logger.Warn().Err(err).Str("name", name).Msg("dispatch loop: claim failed")
			d.events.emit(Event{Kind: EventJobError, Err: err})
			return
		}
		if job == nil {
			return // no more eligible work for this name right now
		}

		d.pipeline.Run(job)
	}
}
