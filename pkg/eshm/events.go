package eshm

import (
	"time"

	"github.com/Workiva/go-datastructures/queue"
)

// maxBufferedEvents bounds the in-process transition history; the oldest
// entries are dropped once the bound is reached.
const maxBufferedEvents = 64

// StateEvent records one lifecycle transition of a handle.
type StateEvent struct {
	From State
	To   State
	At   time.Time
}

// eventLog is a bounded queue of state transitions, drained by Events.
type eventLog struct {
	q *queue.Queue
}

func newEventLog() *eventLog {
	return &eventLog{q: queue.New(maxBufferedEvents)}
}

func (e *eventLog) record(from, to State) {
	if e.q.Len() >= maxBufferedEvents {
		_, _ = e.q.Get(1)
	}
	if err := e.q.Put(StateEvent{From: from, To: to, At: time.Now()}); err != nil {
		log.Debugf("event log closed: %v", err)
	}
}

func (e *eventLog) drain() []StateEvent {
	n := e.q.Len()
	if n == 0 {
		return nil
	}
	items, err := e.q.Poll(n, time.Millisecond)
	if err != nil {
		return nil
	}
	out := make([]StateEvent, 0, len(items))
	for _, it := range items {
		if ev, ok := it.(StateEvent); ok {
			out = append(out, ev)
		}
	}
	return out
}

// Events drains and returns the buffered state transitions of the handle,
// oldest first. The monitor and destroy paths append to this log; callers
// poll it for observability.
func (h *Handle) Events() []StateEvent {
	if h == nil {
		return nil
	}
	return h.events.drain()
}
