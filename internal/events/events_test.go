package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSinkFunc_Deliver(t *testing.T) {
	var got Event
	s := SinkFunc(func(e Event) { got = e })
	s.Deliver(Event{Kind: KindApproved, RequestID: "req1"})
	assert.Equal(t, KindApproved, got.Kind)
	assert.Equal(t, "req1", got.RequestID)
}

func TestNopSink_DoesNothing(t *testing.T) {
	assert.NotPanics(t, func() {
		NopSink.Deliver(Event{Kind: KindReleased})
	})
}

func TestMulti_FansOutToAllSinks(t *testing.T) {
	var a, b int
	s1 := SinkFunc(func(Event) { a++ })
	s2 := SinkFunc(func(Event) { b++ })

	multi := Multi(s1, s2)
	multi.Deliver(Event{Kind: KindSubmitted})

	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

func TestMulti_IsolatesPanickingSink(t *testing.T) {
	var delivered bool
	panicky := SinkFunc(func(Event) { panic("boom") })
	ok := SinkFunc(func(Event) { delivered = true })

	multi := Multi(panicky, ok)
	assert.NotPanics(t, func() {
		multi.Deliver(Event{Kind: KindRejected})
	})
	assert.True(t, delivered)
}
