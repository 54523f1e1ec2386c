package scheduler

import (
	"sync"
	"time"

	"github.com/monque/monque/internal/models"
)

// EventKind identifies the shape of an Event's payload fields.
type EventKind string

// Event kinds, per spec §6's event subscription list.
const (
	EventJobStart           EventKind = "job:start"
	EventJobComplete        EventKind = "job:complete"
	EventJobFail            EventKind = "job:fail"
	EventJobError           EventKind = "job:error"
	EventJobCancelled       EventKind = "job:cancelled"
	EventJobRetried         EventKind = "job:retried"
	EventJobDeleted         EventKind = "job:deleted"
	EventStaleRecovered     EventKind = "stale:recovered"
	EventChangeStreamUp     EventKind = "changestream:connected"
	EventChangeStreamDown   EventKind = "changestream:fallback"
	EventChangeStreamClosed EventKind = "changestream:closed"
	EventChangeStreamError  EventKind = "changestream:error"
)

// Event is a single lifecycle notification. Only the fields relevant to
// Kind are populated; the rest are zero values.
type Event struct {
	Kind EventKind
	At   time.Time

	Job      *models.Job
	JobID    string
	Duration time.Duration
	Err      error
	WillRetry bool

	PreviousStatus models.Status
	Count          int
	Reason         string
}

// eventSink fans Event values out to subscribers. A slow subscriber must
// never stall job processing, so every dispatch happens on its own
// goroutine per listener — fire-and-forget, per the design notes.
type eventSink struct {
	mu        sync.RWMutex
	callbacks []func(Event)
	ch        chan Event
}

func newEventSink() *eventSink {
	return &eventSink{
		// Buffered so On-less consumers reading Events() don't need to
		// race the emitter; a consumer that never drains it simply stops
		// receiving new events once full, it does not block emission.
		ch: make(chan Event, 256),
	}
}

// On registers a callback invoked for every emitted event, regardless of
// kind. Callbacks are invoked concurrently with each other and with the
// pipeline that emitted the event.
func (s *eventSink) On(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// Events returns a channel of every emitted event. Reads should keep up;
// a full buffer causes emit to drop rather than block.
func (s *eventSink) Events() <-chan Event {
	return s.ch
}

func (s *eventSink) emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	select {
	case s.ch <- e:
	default:
		// Buffer full: drop for the channel consumer. Callback
		// subscribers still get it below.
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fn := range s.callbacks {
		go fn(e)
	}
}
