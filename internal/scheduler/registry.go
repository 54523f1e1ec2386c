package scheduler

import (
	"sync"

	"github.com/monque/monque/internal/errs"
)

// Handler processes one occurrence of a job. It returns an error to
// signal failure; any other return is treated as success. Handlers may
// block, suspend on I/O, or respond to ctx cancellation — the pipeline
// never inspects their internals.
type Handler func(ctx *JobContext) error

// RegisterOptions configures a single Register call.
type RegisterOptions struct {
	// Concurrency overrides the scheduler's DefaultConcurrency for this
	// job name. Zero means "use the default".
	Concurrency int

	// Replace allows re-registering a name that already has a handler,
	// overwriting the previous entry instead of returning
	// WorkerRegistrationError.
	Replace bool
}

// registryEntry holds one job name's handler, its concurrency limit, and
// its set of currently in-flight job IDs. The governor's slot check and
// Track must be atomic with respect to each other (spec §5), so every
// access goes through the registry's mutex rather than the entry's own.
type registryEntry struct {
	handler     Handler
	concurrency int
	inFlight    map[string]struct{}
}

// Registry is the process-local worker registry and concurrency
// governor (C4). It is safe for concurrent use.
type Registry struct {
	mu                 sync.Mutex
	entries            map[string]*registryEntry
	defaultConcurrency int
}

// NewRegistry creates an empty registry with the given fallback
// concurrency for names registered without an explicit limit.
func NewRegistry(defaultConcurrency int) *Registry {
	if defaultConcurrency <= 0 {
		defaultConcurrency = 1
	}
	return &Registry{
		entries:            make(map[string]*registryEntry),
		defaultConcurrency: defaultConcurrency,
	}
}

// Register installs a handler for name. Without RegisterOptions.Replace,
// registering an already-registered name returns
// *errs.WorkerRegistrationError.
func (r *Registry) Register(name string, handler Handler, opts RegisterOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists && !opts.Replace {
		return &errs.WorkerRegistrationError{Name: name}
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = r.defaultConcurrency
	}

	r.entries[name] = &registryEntry{
		handler:     handler,
		concurrency: concurrency,
		inFlight:    make(map[string]struct{}),
	}
	return nil
}

// Names returns every registered job name, in no particular order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	return names
}

// Handler returns the handler registered for name, or nil if none.
func (r *Registry) Handler(name string) Handler {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return nil
	}
	return e.handler
}

// Slots returns concurrency - |in-flight| for name, floored at 0. An
// unregistered name has zero slots.
func (r *Registry) Slots(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return 0
	}
	n := e.concurrency - len(e.inFlight)
	if n < 0 {
		return 0
	}
	return n
}

// Track records id as in-flight for name. Called by the execution
// pipeline before invoking the handler.
func (r *Registry) Track(name, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return
	}
	e.inFlight[id] = struct{}{}
}

// Untrack removes id from name's in-flight set. Called by the execution
// pipeline after the handler returns, regardless of outcome.
func (r *Registry) Untrack(name, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return
	}
	delete(e.inFlight, id)
}

// InFlightCount returns the total number of in-flight jobs across every
// registered name. Used by the shutdown controller to decide whether the
// drain is complete.
func (r *Registry) InFlightCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for _, e := range r.entries {
		total += len(e.inFlight)
	}
	return total
}

// InFlightIDs returns every in-flight job ID across all names, for
// reporting in a ShutdownTimeoutError.
func (r *Registry) InFlightIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0)
	for _, e := range r.entries {
		for id := range e.inFlight {
			ids = append(ids, id)
		}
	}
	return ids
}
