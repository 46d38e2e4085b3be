// ABOUTME: Per-task event broker: bounded multi-consumer fan-out with replay for late subscribers.
// ABOUTME: Publishing never blocks; a consumer that cannot keep up misses events and can re-subscribe.

package engine

import "sync"

// subscriberBuffer bounds each consumer's channel. A full buffer drops the
// event for that consumer rather than stalling the pipeline.
const subscriberBuffer = 64

// broker fans one task's events out to zero or more subscribers. All events
// are retained for replay; the stream for one task is small and bounded by
// the graph's termination guarantee.
type broker struct {
	mu      sync.Mutex
	history []Event
	subs    map[chan Event]struct{}
	closed  bool
}

func newBroker() *broker {
	return &broker{subs: make(map[chan Event]struct{})}
}

// publish appends the event to history and offers it to every subscriber
// without blocking. A terminal event closes the stream.
func (b *broker) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	ev.Seq = len(b.history) + 1
	b.history = append(b.history, ev)

	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Slow consumer: drop rather than block execution.
		}
	}

	if ev.Terminal() {
		b.closed = true
		for ch := range b.subs {
			close(ch)
		}
		b.subs = make(map[chan Event]struct{})
	}
}

// subscribe returns a channel that first replays every event so far, then
// tails live events in completion order. The channel is closed after the
// terminal event. The cancel func detaches the consumer; calling it after
// close is safe.
func (b *broker) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer+len(b.history))
	for _, ev := range b.history {
		ch <- ev
	}
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	b.subs[ch] = struct{}{}
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// events returns a copy of the history so far.
func (b *broker) events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.history...)
}
