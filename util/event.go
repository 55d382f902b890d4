package util

import "sync"

// Event is a one-shot barrier. Set releases every waiter, past and future.
type Event struct {
	once sync.Once
	done chan struct{}
}

func NewEvent() *Event {
	return &Event{done: make(chan struct{})}
}

// Set marks the event, waking any Wait callers. It reports whether the
// event was already set.
func (e *Event) Set() bool {
	previous := true
	e.once.Do(func() {
		previous = false
		close(e.done)
	})
	return previous
}

// Wait blocks until the event is set.
func (e *Event) Wait() {
	<-e.done
}
