// Package realtime holds the last-location cache and the in-process
// fan-out of location updates to live subscribers.
package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Event is one message pushed to live subscribers: either a location
// update or a keepalive ping.
type Event struct {
	Name string      `json:"event"`
	Data interface{} `json:"data"`
}

const subscriberBuffer = 64

// Subscriber is a live stream handle. Consume Events() until it is
// closed; the channel closes when the subscriber is unsubscribed or
// evicted after falling behind.
type Subscriber struct {
	id uint64
	ch chan Event
}

// Events returns the subscriber's receive channel.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Broadcaster fans events out to all live subscribers. The registry is
// owned entirely by the broadcaster; subscribe, unsubscribe and
// broadcast interleave safely. A subscriber whose buffer is full is
// evicted rather than allowed to stall delivery to the rest.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscriber
	nextID atomic.Uint64

	heartbeatEvery time.Duration
	done           chan struct{}
	stopOnce       sync.Once
	now            func() time.Time
}

// NewBroadcaster creates a broadcaster that emits a ping event every
// heartbeatEvery so proxies do not close idle long-lived connections.
func NewBroadcaster(heartbeatEvery time.Duration) *Broadcaster {
	return &Broadcaster{
		subs:           make(map[uint64]*Subscriber),
		heartbeatEvery: heartbeatEvery,
		done:           make(chan struct{}),
		now:            time.Now,
	}
}

// Subscribe registers a new live subscriber.
func (b *Broadcaster) Subscribe() *Subscriber {
	sub := &Subscriber{
		id: b.nextID.Add(1),
		ch: make(chan Event, subscriberBuffer),
	}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub.id)
}

func (b *Broadcaster) removeLocked(id uint64) {
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Broadcast delivers the event to every live subscriber. Delivery to one
// subscriber never blocks or fails delivery to the others; a subscriber
// that cannot keep up is dropped.
func (b *Broadcaster) Broadcast(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			log.WithField("subscriber", id).Debug("dropping slow stream subscriber")
			b.removeLocked(id)
		}
	}
}

// Connections returns the number of live subscribers.
func (b *Broadcaster) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Start launches the heartbeat loop.
func (b *Broadcaster) Start() {
	go func() {
		ticker := time.NewTicker(b.heartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.Broadcast(Event{Name: "ping", Data: b.now().UTC().Format(time.RFC3339)})
			case <-b.done:
				return
			}
		}
	}()
}

// Stop halts the heartbeat loop and closes all subscriber channels.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
	b.mu.Lock()
	defer b.mu.Unlock()
	for id := range b.subs {
		b.removeLocked(id)
	}
}
