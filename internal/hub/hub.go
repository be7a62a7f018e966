// ABOUTME: Broadcast hub for front-end event subscribers
// ABOUTME: Owns the subscriber registry and fans events out with per-subscriber isolation
package hub

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// subscriberBuffer bounds how far a slow consumer may lag before it is
// dropped from the registry.
const subscriberBuffer = 16

// Subscriber is a live delivery channel. Receive from C, watch Done
// for forced removal, and call Unsubscribe on the hub when finished.
type Subscriber struct {
	ID   string
	C    chan any
	done chan struct{}
	once sync.Once
}

// Done is closed when the subscriber has been removed from the hub,
// either explicitly or because it stalled.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) markDone() {
	s.once.Do(func() { close(s.done) })
}

// Hub maintains the set of live subscribers and delivers every
// broadcast to each of them. Registry mutations are serialized;
// delivery happens against a snapshot outside the lock so a slow
// subscriber cannot stall registration or other broadcasts. Per
// subscriber, sends are FIFO; no ordering holds across subscribers.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]*Subscriber
	closed bool
	logger *zap.Logger
}

// New creates an empty hub.
func New(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]*Subscriber),
		logger: logger,
	}
}

// Subscribe registers a new delivery channel and returns its handle.
// A subscription on a closed hub is returned already done.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID:   uuid.New().String(),
		C:    make(chan any, subscriberBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.markDone()
		return sub
	}
	h.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscriber. It is idempotent: removing an
// unknown or already-removed handle is a no-op.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.ID]; !ok {
		return
	}
	delete(h.subs, sub.ID)
	sub.markDone()
}

// Broadcast delivers msg to every current subscriber. Delivery is
// best-effort per subscriber: one whose buffer is full or that is
// already done gets dropped from the registry without affecting the
// rest or the caller.
func (h *Hub) Broadcast(msg any) {
	h.mu.Lock()
	snapshot := make([]*Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		snapshot = append(snapshot, sub)
	}
	h.mu.Unlock()

	for _, sub := range snapshot {
		select {
		case <-sub.done:
			continue
		case sub.C <- msg:
		default:
			h.logger.Debug("dropping stalled subscriber", zap.String("id", sub.ID))
			h.Unsubscribe(sub)
		}
	}
}

// Len reports the current subscriber count.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close drops all subscribers and rejects future subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.markDone()
	}
}
