// Package events defines the typed lifecycle events Airlock emits and the
// Sink interface external notifiers implement (spec §4.8). Delivery is
// at-least-once and best-effort: the core never blocks on a sink and never
// treats a sink failure as a state-machine failure.
package events

import "time"

// Kind names an event type.
type Kind string

const (
	KindSubmitted       Kind = "submitted"
	KindReviewSubmitted Kind = "review_submitted"
	KindReturned        Kind = "returned"
	KindResubmitted     Kind = "resubmitted"
	KindRejected        Kind = "rejected"
	KindWithdrawn       Kind = "withdrawn"
	KindApproved        Kind = "approved"
	KindReleased        Kind = "released"
	KindUploadFailed    Kind = "upload_failed"
)

// Event is the common envelope for every lifecycle event.
type Event struct {
	Kind      Kind
	RequestID string
	Workspace string
	Author    string
	Actor     string
	Turn      int
	Timestamp time.Time
	// Extra carries event-specific detail, e.g. {"relpath": ..., "error":
	// ...} for upload_failed.
	Extra map[string]any
}

// Sink receives events. Implementations must not block the caller for
// long; Deliver is called synchronously from within the operation that
// produced the event's underlying state change, after that change has
// committed.
type Sink interface {
	Deliver(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

// Deliver implements Sink.
func (f SinkFunc) Deliver(e Event) { f(e) }

// NopSink discards every event; useful as a default when no notifier is
// configured.
var NopSink Sink = SinkFunc(func(Event) {})

// Multi fans an event out to every sink in order, isolating each from the
// others' panics or errors — a Sink that wants to report a delivery
// failure does so to its own logs, not by propagating to Multi's caller.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			deliverSafely(s, e)
		}
	})
}

func deliverSafely(s Sink, e Event) {
	defer func() { _ = recover() }()
	s.Deliver(e)
}
