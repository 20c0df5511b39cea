package events

import (
	"sync"

	"github.com/jthatch/proxy-verify/internal/probe"
)

// Type identifies a progress event.
type Type string

const (
	ProbeStarted  Type = "probeStarted"
	ProbeResolved Type = "probeResolved"
	RunCompleted  Type = "runCompleted"
)

// Summary is the final accounting published with RunCompleted.
type Summary struct {
	Total         int
	Completed     int
	Success       int
	Failure       int
	BodyMatches   int
	MeanLatencyMs int64
	Verified      []string
}

// Event is one progress notification. Presentation layers subscribe to the
// bus; they never influence scheduling.
type Event struct {
	Type      Type
	Proxy     string         // ProbeStarted, ProbeResolved
	Outcome   *probe.Outcome // ProbeResolved
	Completed int
	Total     int
	Summary   *Summary // RunCompleted
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// that falls behind its buffer misses events rather than stalling the run.
type Bus struct {
	mu     sync.Mutex
	subs   []chan Event
	closed bool
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscriber with the given channel buffer.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers the event to every subscriber that has buffer room.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
