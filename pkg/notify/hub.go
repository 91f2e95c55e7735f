// Package notify fans out record sync events to in-process subscribers.
//
// The sync engine publishes a [models.SyncEvent] every time a record reaches
// synced. Delivery is best effort: each subscriber owns a buffered channel and
// a subscriber whose buffer is full misses the event. Publishing never blocks
// and never fails.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/torusai/agentdata/pkg/models"
)

const defaultBufferSize = 100

// Filter selects events by owner. Empty fields match everything.
type Filter struct {
	AgentID string
	UserID  string
}

func (f Filter) matches(e models.SyncEvent) bool {
	if f.AgentID != "" && f.AgentID != e.AgentID {
		return false
	}
	if f.UserID != "" && f.UserID != e.UserID {
		return false
	}
	return true
}

// Subscription represents an active subscription.
type Subscription struct {
	id      int
	filter  Filter
	ch      chan models.SyncEvent
	dropped atomic.Int64
}

// Events returns the channel to receive events on. It is closed by Unsubscribe.
func (s *Subscription) Events() <-chan models.SyncEvent {
	return s.ch
}

// Dropped returns how many events this subscriber missed because its buffer was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Hub is an in-process pub/sub hub for sync events.
type Hub struct {
	mu         sync.RWMutex
	subs       map[int]*Subscription
	nextID     int
	bufferSize int
	onDrop     func()
	published  atomic.Int64
}

// Option configures a Hub.
type Option func(*Hub)

// WithBufferSize sets the per-subscriber channel buffer.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// WithDropHook registers a callback invoked for every dropped delivery.
func WithDropHook(fn func()) Option {
	return func(h *Hub) {
		h.onDrop = fn
	}
}

// NewHub creates a new Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subs:       make(map[int]*Subscription),
		bufferSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe creates a subscription for events matching filter.
func (h *Hub) Subscribe(filter Filter) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:     h.nextID,
		filter: filter,
		ch:     make(chan models.SyncEvent, h.bufferSize),
	}
	h.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.id]; ok {
		delete(h.subs, sub.id)
		close(sub.ch)
	}
}

// Publish delivers event to every matching subscriber without blocking.
func (h *Hub) Publish(event models.SyncEvent) {
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.filter.matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
			if h.onDrop != nil {
				h.onDrop()
			}
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Published returns the number of events published so far.
func (h *Hub) Published() int64 {
	return h.published.Load()
}

// Close unsubscribes everyone.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}
