package scheduler

import (
	"context"
	"time"

	"github.com/monque/monque/internal/common"
	"github.com/monque/monque/internal/interfaces"
	"github.com/monque/monque/internal/models"
)

// JobContext is what a Handler receives. It deliberately exposes only
// what a handler needs: the job's identity and payload, and a context
// for cancellation-aware I/O. Stopping the scheduler does not cancel
// this context (spec §5) — only process exit does.
type JobContext struct {
	context.Context
	Job *models.Job
}

// Data returns the job's opaque payload.
func (jc *JobContext) Data() []byte { return jc.Job.Data }

// pipeline runs one claimed job through to its lifecycle outcome (C6).
// Handler errors never escape it: they are always materialized into a
// job:fail event plus a resolver write.
type pipeline struct {
	registry *Registry
	store    interfaces.JobStore
	resolver *resolver
	events   *eventSink
	logger   *common.Logger
	clock    Clock
	// baseCtx is independent of the dispatch loop's lifecycle so that
	// Stop() never cancels an in-flight handler.
	baseCtx context.Context
}

// Run starts the execution pipeline for job in its own goroutine and
// returns immediately; the dispatch loop never awaits it (spec §4.3).
func (p *pipeline) Run(job *models.Job) {
	p.registry.Track(job.Name, job.ID)
	go p.execute(job)
}

func (p *pipeline) execute(job *models.Job) {
	defer p.registry.Untrack(job.Name, job.ID)

	p.events.emit(Event{Kind: EventJobStart, Job: job, JobID: job.ID})

	handler := p.registry.Handler(job.Name)
	if handler == nil {
		// The handler was unregistered between claim and dispatch. Treat
		// as a failure so the job doesn't sit silently claimed forever.
		p.fail(job, errUnregisteredHandler(job.Name))
		return
	}

	start := p.clock.Now()
	jc := &JobContext{Context: p.baseCtx, Job: job}

	err := runHandler(handler, jc)

	if err != nil {
		p.fail(job, err)
		return
	}

	p.complete(job, p.clock.Now().Sub(start))
}

// runHandler invokes handler, converting a panic into an error so a
// misbehaving handler cannot take the dispatch goroutine pool down with
// it. Process crashes are still handled by stale-job recovery on the
// next instance (spec §4.4).
func runHandler(h Handler, jc *JobContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{value: r}
		}
	}()
	return h(jc)
}

func (p *pipeline) complete(job *models.Job, elapsed time.Duration) {
	now := p.clock.Now()
	write, err := p.resolver.onSuccess(job, now)
	if err != nil {
		p.events.emit(Event{Kind: EventJobError, Err: err, Job: job, JobID: job.ID})
		return
	}
	if err := p.store.WriteCompletion(p.baseCtx, job.ID, write); err != nil {
		p.events.emit(Event{Kind: EventJobError, Err: err, Job: job, JobID: job.ID})
		return
	}
	p.events.emit(Event{Kind: EventJobComplete, Job: job, JobID: job.ID, Duration: elapsed})
}

func (p *pipeline) fail(job *models.Job, handlerErr error) {
	now := p.clock.Now()
	write := p.resolver.onFailure(job, handlerErr, now)
	if err := p.store.WriteFailure(p.baseCtx, job.ID, write); err != nil {
		p.events.emit(Event{Kind: EventJobError, Err: err, Job: job, JobID: job.ID})
		return
	}
	willRetry := !write.Permanent
	p.events.emit(Event{Kind: EventJobFail, Job: job, JobID: job.ID, Err: handlerErr, WillRetry: willRetry})
}

type panicError struct{ value any }

func (p panicError) Error() string {
	return "handler panicked: " + toString(p.value)
}

func toString(v any) string {
	if e, ok := v.(error); ok {
		return e.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown panic value"
}

type unregisteredHandlerError struct{ name string }

func (e unregisteredHandlerError) Error() string {
	return "no handler registered for job name " + e.name
}

func errUnregisteredHandler(name string) error {
	return unregisteredHandlerError{name: name}
}
