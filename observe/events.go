package observe

import (
	"sync"
	"time"
)

// EventType classifies host events.
type EventType string

const (
	EventBoot   EventType = "boot"
	EventLoad   EventType = "load"
	EventCall   EventType = "call"
	EventError  EventType = "error"
	EventFault  EventType = "fault"
	EventClose  EventType = "close"
	EventReboot EventType = "reboot"
)

// DefaultEventLimit is the number of events kept when none is configured.
const DefaultEventLimit = 256

// Event is one entry of the event log.
type Event struct {
	Seq      uint64        `json:"seq" cbor:"1,keyasint"`
	Time     time.Time     `json:"time" cbor:"2,keyasint"`
	Type     EventType     `json:"type" cbor:"3,keyasint"`
	Module   string        `json:"module,omitempty" cbor:"4,keyasint,omitempty"`
	Function string        `json:"function,omitempty" cbor:"5,keyasint,omitempty"`
	Duration time.Duration `json:"duration,omitempty" cbor:"6,keyasint,omitempty"`
	Error    string        `json:"error,omitempty" cbor:"7,keyasint,omitempty"`
}

// Events is a bounded in-memory event log. Subscribers receive events
// published after they subscribe; a subscriber that falls behind misses
// events rather than blocking the publisher.
type Events struct {
	mu     sync.Mutex
	limit  int
	ring   []Event
	next   int
	seq    uint64
	subs   map[int]chan Event
	subSeq int
	now    func() time.Time
}

// NewEvents keeps at most limit events. A limit of zero or less selects
// DefaultEventLimit.
func NewEvents(limit int) *Events {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	return &Events{
		limit: limit,
		ring:  make([]Event, 0, min(limit, 64)),
		subs:  make(map[int]chan Event),
		now:   time.Now,
	}
}

// Publish stamps e with a sequence number and time, stores it and fans it
// out to subscribers.
func (l *Events) Publish(e Event) Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	e.Seq = l.seq
	if e.Time.IsZero() {
		e.Time = l.now()
	}
	if len(l.ring) < l.limit {
		l.ring = append(l.ring, e)
	} else {
		l.ring[l.next] = e
	}
	l.next = (l.next + 1) % l.limit

	for _, ch := range l.subs {
		select {
		case ch <- e:
		default:
		}
	}
	return e
}

// Recent returns up to n of the newest events, oldest first. n <= 0
// returns every stored event.
func (l *Events) Recent(n int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	size := len(l.ring)
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Event, 0, n)
	start := l.next - n
	for i := 0; i < n; i++ {
		out = append(out, l.ring[((start+i)%l.limit+l.limit)%l.limit])
	}
	return out
}

// Len returns the number of stored events.
func (l *Events) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ring)
}

// Subscribe returns a channel of new events with the given buffer and a
// function that ends the subscription and closes the channel.
func (l *Events) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	l.mu.Lock()
	l.subSeq++
	id := l.subSeq
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}
