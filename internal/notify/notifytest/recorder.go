// Package notifytest provides a Publisher that records events for assertions.
package notifytest

import (
	"context"
	"sync"

	"mortuary/internal/notify"
)

type Recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *Recorder) Publish(_ context.Context, e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

// OfType returns published events of type t in publish order.
func (r *Recorder) OfType(t notify.EventType) []notify.Event {
	var out []notify.Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
