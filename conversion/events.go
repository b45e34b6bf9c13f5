package conversion

import (
	"context"
	"time"

	client "github.com/hsn0918/fileconv"
)

// EventKind names a lifecycle point of a conversion.
type EventKind string

const (
	EventSubmitted     EventKind = "submitted"
	EventUploaded      EventKind = "uploaded"
	EventStatusChanged EventKind = "status_changed"
	EventPollFailed    EventKind = "poll_failed"
	EventProgress      EventKind = "progress"
	EventCompleted     EventKind = "completed"
	EventFailed        EventKind = "failed"
)

// Event describes one lifecycle point. Fields that do not apply to the kind are zero.
type Event struct {
	Kind   EventKind
	Time   time.Time
	Family Family
	JobID  string
	Input  string

	Status         client.JobStatus // status_changed, progress
	PreviousStatus client.JobStatus // status_changed
	Elapsed        time.Duration    // Accumulated poll wait

	Output     string // completed
	InputSize  int64
	OutputSize int64         // completed
	Duration   time.Duration // completed, failed: wall time since the conversion started

	Stage      Stage // failed
	Err        error // failed, poll_failed
	CleanupErr error // failed: the abandoned job could not be deleted
}

// Observer consumes conversion events. Observers are called synchronously from
// the converting goroutine and must not block.
type Observer interface {
	Observe(ctx context.Context, event Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, event Event)

func (f ObserverFunc) Observe(ctx context.Context, event Event) {
	f(ctx, event)
}

type multiObserver []Observer

func (m multiObserver) Observe(ctx context.Context, event Event) {
	for _, o := range m {
		o.Observe(ctx, event)
	}
}

// MultiObserver fans events out to every non-nil observer in order.
func MultiObserver(observers ...Observer) Observer {
	var m multiObserver
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}
