package events

import (
	"sync"
	"time"

	"github.com/cuemby/hutch/pkg/metrics"
)

// Event is one message destined for the subscribers of a session
type Event struct {
	SessionID string
	Payload   any
	Timestamp time.Time
}

// Subscriber is a channel that receives events. One WebSocket
// connection owns one Subscriber, possibly across many sessions.
type Subscriber chan *Event

// NewSubscriber returns a subscriber with room for a burst of events
func NewSubscriber() Subscriber {
	return make(Subscriber, 50)
}

// Broker routes session events to their subscribers
type Broker struct {
	mu       sync.RWMutex
	sessions map[string]map[Subscriber]bool
	eventCh  chan *Event
	stopCh   chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		sessions: make(map[string]map[Subscriber]bool),
		eventCh:  make(chan *Event, 100), // Buffer up to 100 events
		stopCh:   make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe adds sub to the given session's subscriber set
func (b *Broker) Subscribe(sub Subscriber, sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.sessions[sessionID]
	if !ok {
		set = make(map[Subscriber]bool)
		b.sessions[sessionID] = set
	}
	set[sub] = true
}

// Unsubscribe removes sub from one session's subscriber set
func (b *Broker) Unsubscribe(sub Subscriber, sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeLocked(sub, sessionID)
}

// Drop removes sub from every session and closes it. Called when the
// owning connection goes away.
func (b *Broker) Drop(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sessionID := range b.sessions {
		b.removeLocked(sub, sessionID)
	}
	close(sub)
}

func (b *Broker) removeLocked(sub Subscriber, sessionID string) {
	set, ok := b.sessions[sessionID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.sessions, sessionID)
	}
}

// Publish queues an event for distribution
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.sessions[event.SessionID] {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
			metrics.EventsDroppedTotal.Inc()
		}
	}
}

// SubscriberCount returns the number of distinct subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[Subscriber]bool)
	for _, set := range b.sessions {
		for sub := range set {
			seen[sub] = true
		}
	}
	return len(seen)
}

// SessionSubscribers returns the subscriber count for one session
func (b *Broker) SessionSubscribers(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.sessions[sessionID])
}
