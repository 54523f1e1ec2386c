package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/monque/monque/internal/common"
	"github.com/monque/monque/internal/errs"
	"github.com/monque/monque/internal/interfaces"
)

// changeStreamFailuresBeforeFallback is the number of consecutive
// subscribe failures after which the subscriber stops retrying and
// leaves dispatch to the poll-interval ticker alone, per spec §4.9.
const changeStreamFailuresBeforeFallback = 3

// changeStreamSubscriber wakes the dispatcher promptly on new or
// newly-eligible work instead of waiting for the next poll tick (C10).
// It is pure enhancement: a store that cannot support change streams, or
// one that drops the connection repeatedly, degrades to poll-only
// dispatch with no behavioral change beyond latency.
type changeStreamSubscriber struct {
	store    interfaces.JobStore
	wakeUp   func()
	debounce time.Duration
	logger   *common.Logger
	events   *eventSink
	stats    *liveStats
}

func (c *changeStreamSubscriber) setConnected(up bool) {
	if c.stats != nil {
		c.stats.setChangeStreamConnected(up)
	}
}

// run subscribes and re-subscribes with exponential backoff, debouncing
// bursts of events into single wakeUp calls, until ctx is cancelled or
// the failure budget is exhausted.
func (c *changeStreamSubscriber) run(ctx context.Context) {
	failures := 0

	for {
		if ctx.Err() != nil {
			return
		}

		watcher, err := c.store.Watch(ctx)
		if err != nil {
			if errors.Is(err, errs.ErrChangeStreamsUnavailable) {
				c.logger.Info().Msg("change stream: unavailable, falling back to polling")
				c.setConnected(false)
				c.events.emit(Event{Kind: EventChangeStreamDown, Reason: err.Error()})
				return
			}

			failures++
			c.logger.Warn().Err(err).Int("failures", failures).Msg("change stream: subscribe failed")
			c.events.emit(Event{Kind: EventChangeStreamError, Err: err})

			if failures >= changeStreamFailuresBeforeFallback {
				c.logger.Warn().Msg("change stream: failure budget exhausted, falling back to polling")
				c.setConnected(false)
				c.events.emit(Event{Kind: EventChangeStreamDown, Reason: "failure budget exhausted"})
				return
			}

			if !sleepCtx(ctx, reconnectBackoff(failures)) {
				return
			}
			continue
		}

		failures = 0
		c.setConnected(true)
		c.events.emit(Event{Kind: EventChangeStreamUp})
		if !c.drain(ctx, watcher) {
			c.setConnected(false)
			return
		}
		// drain returned because the watcher closed or errored; loop to
		// resubscribe.
		c.setConnected(false)
	}
}

// drain debounces incoming events into wakeUp calls until the watcher
// closes, errors, or ctx is cancelled. Returns false if the subscriber
// should stop entirely (ctx cancelled), true if it should resubscribe.
func (c *changeStreamSubscriber) drain(ctx context.Context, w interfaces.Watcher) bool {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.Close(closeCtx)
	}()

	var debounceTimer *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			c.events.emit(Event{Kind: EventChangeStreamClosed})
			return false

		case _, ok := <-w.Events():
			if !ok {
				return true
			}
			if debounceTimer == nil {
				debounceTimer = time.NewTimer(c.debounce)
				debounceC = debounceTimer.C
			} else {
				if !debounceTimer.Stop() {
					<-debounceTimer.C
				}
				debounceTimer.Reset(c.debounce)
			}

		case <-debounceC:
			debounceTimer = nil
			debounceC = nil
			c.wakeUp()

		case err, ok := <-w.Errors():
			if !ok {
				return true
			}
			c.logger.Warn().Err(err).Msg("change stream: stream error")
			c.events.emit(Event{Kind: EventChangeStreamError, Err: err})
			return true
		}
	}
}

// reconnectBackoff implements spec §4.9's reconnect delay exactly:
// 2^(attempt-1) * 1000ms, uncapped.
func reconnectBackoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt-1)) * time.Second
}

// sleepCtx sleeps for d or until ctx is cancelled, reporting which
// happened.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
