package runtime

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const defaultEventBuffer = 64

// eventFilter is nil for subscribers that want every event.
type eventFilter map[EventType]bool

type eventBus struct {
	mu      sync.RWMutex
	subs    map[chan Event]eventFilter
	dropped atomic.Uint64
}

// SubscribeEvents returns a buffered channel receiving events of the given
// types, or of every type when none are named. Release it with
// UnsubscribeEvents; never close it directly.
func (r *Runtime) SubscribeEvents(types ...EventType) chan Event {
	var filter eventFilter
	if len(types) > 0 {
		filter = make(eventFilter, len(types))
		for _, t := range types {
			filter[t] = true
		}
	}
	ch := make(chan Event, defaultEventBuffer)
	r.bus.mu.Lock()
	r.bus.subs[ch] = filter
	r.bus.mu.Unlock()
	return ch
}

// UnsubscribeEvents removes the subscriber and closes its channel. Calling it
// twice is harmless.
func (r *Runtime) UnsubscribeEvents(ch chan Event) {
	r.bus.mu.Lock()
	defer r.bus.mu.Unlock()
	if _, ok := r.bus.subs[ch]; ok {
		delete(r.bus.subs, ch)
		close(ch)
	}
}

// DroppedEvents counts deliveries skipped because a subscriber was full.
func (r *Runtime) DroppedEvents() uint64 {
	return r.bus.dropped.Load()
}

// publishEvent never blocks the negotiation.
func (r *Runtime) publishEvent(evt Event) {
	r.bus.mu.RLock()
	defer r.bus.mu.RUnlock()
	for ch, filter := range r.bus.subs {
		if filter != nil && !filter[evt.Type] {
			continue
		}
		select {
		case ch <- evt:
		default:
			if r.bus.dropped.Add(1) == 1 {
				r.logger.Debug("Event subscriber is full, dropping events",
					zap.String("type", string(evt.Type)))
			}
		}
	}
}
