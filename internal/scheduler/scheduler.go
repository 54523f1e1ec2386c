// Package scheduler implements Monque's core execution engine: the
// claim-based dispatch loop, concurrency governor, retry/backoff
// resolver, heartbeat pump, stale-job recovery, and change-stream
// dispatch hinting described by the scheduler's design. The package is
// storage-agnostic: every component depends on interfaces.JobStore, not
// on a MongoDB driver.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/monque/monque/internal/common"
	"github.com/monque/monque/internal/cronutil"
	"github.com/monque/monque/internal/errs"
	"github.com/monque/monque/internal/interfaces"
	"github.com/monque/monque/internal/models"
)

// Options configures a Scheduler. Zero-value duration and count fields
// fall back to common.NewDefaultConfig()'s values. RecoverStaleJobs has
// no such fallback: its zero value, false, disables the startup sweep.
type Options struct {
	InstanceID          string
	PollInterval        time.Duration
	MaxRetries          int
	BaseRetryInterval   time.Duration
	MaxBackoffDelay     time.Duration
	ShutdownTimeout     time.Duration
	DefaultConcurrency  int
	LockTimeout         time.Duration
	HeartbeatInterval   time.Duration
	RecoverStaleJobs    bool
	ChangeStreamDebounce time.Duration

	Clock  Clock  // defaults to systemClock{}
	Logger *common.Logger
}

// FromConfig builds Options from a loaded common.Config.
func FromConfig(cfg *common.Config) Options {
	return Options{
		InstanceID:         cfg.Scheduler.SchedulerInstanceID,
		PollInterval:       cfg.Scheduler.PollInterval,
		MaxRetries:         cfg.Scheduler.MaxRetries,
		BaseRetryInterval:  cfg.Scheduler.BaseRetryInterval,
		MaxBackoffDelay:    cfg.Scheduler.MaxBackoffDelay,
		ShutdownTimeout:    cfg.Scheduler.ShutdownTimeout,
		DefaultConcurrency: cfg.Scheduler.DefaultConcurrency,
		LockTimeout:        cfg.Scheduler.LockTimeout,
		HeartbeatInterval:  cfg.Scheduler.HeartbeatInterval,
		RecoverStaleJobs:   cfg.Scheduler.RecoverStaleJobs,
		Logger:             common.NewLoggerFromConfig(cfg.Logging),
	}
}

func (o *Options) applyDefaults() {
	defaults := common.NewDefaultConfig()
	if o.InstanceID == "" {
		o.InstanceID = uuid.NewString()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.Scheduler.PollInterval
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaults.Scheduler.MaxRetries
	}
	if o.BaseRetryInterval <= 0 {
		o.BaseRetryInterval = defaults.Scheduler.BaseRetryInterval
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = defaults.Scheduler.ShutdownTimeout
	}
	if o.DefaultConcurrency <= 0 {
		o.DefaultConcurrency = defaults.Scheduler.DefaultConcurrency
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = defaults.Scheduler.LockTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaults.Scheduler.HeartbeatInterval
	}
	if o.ChangeStreamDebounce <= 0 {
		o.ChangeStreamDebounce = 100 * time.Millisecond
	}
	if o.Clock == nil {
		o.Clock = systemClock{}
	}
	if o.Logger == nil {
		o.Logger = common.NewDefaultLogger()
	}
}

// Scheduler is the top-level handle applications use to register
// handlers, enqueue jobs, and control the dispatch lifecycle.
type Scheduler struct {
	store   interfaces.JobStore
	opts    Options
	logger  *common.Logger
	clock   Clock
	events  *eventSink

	registry   *Registry
	resolver   *resolver
	pipeline   *pipeline
	dispatcher *dispatcher
	heartbeat  *heartbeatPump
	recover    *recoverer
	watcher    *changeStreamSubscriber
	stats      *liveStats

	mu          sync.Mutex
	initialized bool
	running     bool
	cancel      context.CancelFunc
	stopped     chan struct{}
	stopErr     error
}

// New constructs a Scheduler bound to store. Initialize must be called
// before Start.
func New(store interfaces.JobStore, opts Options) *Scheduler {
	opts.applyDefaults()

	registry := NewRegistry(opts.DefaultConcurrency)
	events := newEventSink()

	s := &Scheduler{
		store:    store,
		opts:     opts,
		logger:   opts.Logger,
		clock:    opts.Clock,
		events:   events,
		registry: registry,
		resolver: &resolver{
			maxRetries:        opts.MaxRetries,
			baseRetryInterval: opts.BaseRetryInterval,
			maxBackoffDelay:   opts.MaxBackoffDelay,
		},
		stats: newLiveStats(),
	}
	return s
}

// Initialize ensures the backing store's indexes exist. It must succeed
// before Start is called.
func (s *Scheduler) Initialize(ctx context.Context) error {
	if err := s.store.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("scheduler: initialize: %w", err)
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	return nil
}

// Register installs handler for name. See Registry.Register.
func (s *Scheduler) Register(name string, handler Handler, opts RegisterOptions) error {
	return s.registry.Register(name, handler, opts)
}

// On subscribes fn to every lifecycle event.
func (s *Scheduler) On(fn func(Event)) {
	s.events.On(fn)
}

// Events returns a channel of lifecycle events.
func (s *Scheduler) Events() <-chan Event {
	return s.events.Events()
}

// Now returns the scheduler's notion of the current time, honoring an
// injected Clock.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// readyChecker is an optional capability a JobStore implementation may
// satisfy (internal/storage/mongo.Store does) to let Healthy include a
// live backing-store check instead of only the dispatch loop's own
// running flag.
type readyChecker interface {
	Ready(ctx context.Context) error
}

// Healthy reports whether the scheduler is running and, if the backing
// store exposes a readiness check, whether that check currently passes.
func (s *Scheduler) Healthy(ctx context.Context) bool {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return false
	}
	if rc, ok := s.store.(readyChecker); ok {
		if err := rc.Ready(ctx); err != nil {
			return false
		}
	}
	return true
}

// Stats returns a snapshot of process-local introspection counters: how
// many dispatch ticks have run, when the heartbeat pump last completed a
// tick, and whether the change-stream subscriber currently holds a live
// connection.
func (s *Scheduler) Stats() SchedulerStats {
	return s.stats.snapshot()
}

// Enqueue persists a new immediate job. If opts.UniqueKey matches an
// existing pending or processing job, the existing job is returned
// instead of creating a duplicate (spec §4.1).
func (s *Scheduler) Enqueue(ctx context.Context, name string, data []byte, opts EnqueueOptions) (*models.Job, error) {
	now := s.clock.Now()
	runAt := now
	if !opts.RunAt.IsZero() {
		runAt = opts.RunAt
	}

	job := &models.Job{
		ID:        uuid.NewString(),
		Name:      name,
		Data:      data,
		Status:    models.StatusPending,
		NextRunAt: runAt,
		UniqueKey: opts.UniqueKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.store.Insert(ctx, job)
}

// Schedule persists a recurring job whose cron expression is validated
// immediately; an invalid expression returns *errs.InvalidCronError
// without touching the store.
func (s *Scheduler) Schedule(ctx context.Context, name, cronExpr string, data []byte, opts EnqueueOptions) (*models.Job, error) {
	now := s.clock.Now()
	first, err := cronutil.NextAfter(cronExpr, now)
	if err != nil {
		return nil, err
	}
	if !opts.RunAt.IsZero() && opts.RunAt.After(first) {
		first = opts.RunAt
	}

	job := &models.Job{
		ID:             uuid.NewString(),
		Name:           name,
		Data:           data,
		Status:         models.StatusPending,
		NextRunAt:      first,
		RepeatInterval: cronExpr,
		UniqueKey:      opts.UniqueKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return s.store.Insert(ctx, job)
}

// EnqueueOptions configures Enqueue and Schedule.
type EnqueueOptions struct {
	RunAt     time.Time // zero means "as soon as eligible"
	UniqueKey string
}

// Start wires the dispatch loop, heartbeat pump, stale recovery, and
// change-stream subscriber and begins processing. It returns
// *errs.NotInitializedError if Initialize was never called successfully,
// and is a no-op if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return &errs.NotInitializedError{}
	}
	if s.running {
		s.mu.Unlock()
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.stopped = make(chan struct{})
	s.mu.Unlock()

	s.pipeline = &pipeline{
		registry: s.registry,
		store:    s.store,
		resolver: s.resolver,
		events:   s.events,
		logger:   s.logger,
		clock:    s.clock,
		baseCtx:  context.Background(),
	}

	s.dispatcher = newDispatcher(
		s.store, s.registry, s.pipeline, s.opts.InstanceID,
		s.opts.HeartbeatInterval, s.opts.PollInterval, s.clock, s.logger, s.events,
	)
	s.dispatcher.stats = s.stats

	s.heartbeat = &heartbeatPump{
		store:      s.store,
		instanceID: s.opts.InstanceID,
		interval:   s.opts.HeartbeatInterval,
		clock:      s.clock,
		logger:     s.logger,
		events:     s.events,
		stats:      s.stats,
	}

	s.recover = &recoverer{
		store:       s.store,
		lockTimeout: s.opts.LockTimeout,
		clock:       s.clock,
		logger:      s.logger,
		events:      s.events,
	}

	if s.opts.RecoverStaleJobs {
		if _, err := s.recover.Sweep(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("scheduler: startup stale recovery failed, continuing")
		}
	}

	go s.dispatcher.run(runCtx)
	go s.heartbeat.run(runCtx)

	s.watcher = &changeStreamSubscriber{
		store:    s.store,
		wakeUp:   s.dispatcher.wakeUp,
		debounce: s.opts.ChangeStreamDebounce,
		logger:   s.logger,
		events:   s.events,
		stats:    s.stats,
	}
	go s.watcher.run(runCtx)

	s.logger.Info().Str("instanceId", s.opts.InstanceID).Msg("scheduler: started")
	return nil
}

// Stop flips the running flag, stops issuing new claims, and waits up to
// ShutdownTimeout for in-flight handlers to drain. It never cancels a
// running handler's context (spec's cancellation semantics); a handler
// still executing past the deadline is reported via a job:error event
// carrying *errs.ShutdownTimeoutError and Stop still returns.
//
// Stop is safe to call concurrently (spec §4.10/P7): only the first
// caller actually drains; every other caller, whether it arrives before
// or after the drain finishes, blocks on s.stopped and returns the same
// outcome the first caller observed.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		stopped := s.stopped
		s.mu.Unlock()
		if stopped == nil {
			// Stop was never paired with a Start.
			return nil
		}
		select {
		case <-stopped:
			s.mu.Lock()
			err := s.stopErr
			s.mu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	cancel := s.cancel
	s.running = false
	stopped := s.stopped
	s.mu.Unlock()

	cancel() // stops dispatch loop, heartbeat pump, change-stream subscriber

	err := s.drain(ctx)

	s.mu.Lock()
	s.stopErr = err
	s.mu.Unlock()
	close(stopped)

	return err
}

// drain waits up to ShutdownTimeout for every in-flight handler to
// finish. It is only ever called by the first concurrent Stop caller.
func (s *Scheduler) drain(ctx context.Context) error {
	deadline := time.NewTimer(s.opts.ShutdownTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(25 * time.Millisecond)
	defer poll.Stop()

	for {
		if s.registry.InFlightCount() == 0 {
			s.logger.Info().Msg("scheduler: stopped, all handlers drained")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			inFlight := s.registry.InFlightIDs()
			err := &errs.ShutdownTimeoutError{Deadline: s.opts.ShutdownTimeout, InFlight: inFlight}
			s.events.emit(Event{Kind: EventJobError, Err: err, Count: len(inFlight)})
			s.logger.Warn().Int("inFlight", len(inFlight)).Msg("scheduler: shutdown deadline exceeded")
			return err
		case <-poll.C:
		}
	}
}

// Close releases the backing store's connection. Call after Stop.
func (s *Scheduler) Close(ctx context.Context) error {
	return s.store.Close(ctx)
}
