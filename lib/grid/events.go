package grid

import (
	"sync"
)

// EventBus keeps the listeners of one membership view and delivers events to them.
// Events are delivered synchronously on the goroutine calling the Fire method,
// handlers must therefore not block.
//
// Thread-safety: All methods are thread-safe. Handlers may unsubscribe from
// within a handler.
type EventBus struct {
	mu      sync.Mutex
	nextID  uint64
	joined  map[uint64]MemberHandler
	leaving map[uint64]MemberHandler
	left    map[uint64]MemberHandler
	arrived map[uint64]PartitionHandler
}

// NewEventBus creates an event bus without listeners.
func NewEventBus() *EventBus {
	return &EventBus{
		joined:  make(map[uint64]MemberHandler),
		leaving: make(map[uint64]MemberHandler),
		left:    make(map[uint64]MemberHandler),
		arrived: make(map[uint64]PartitionHandler),
	}
}

// --------------------------------------------------------------------------
// Subscriptions
// --------------------------------------------------------------------------

func (b *EventBus) OnMemberJoined(handler MemberHandler) func() {
	return subscribe(b, b.joined, handler)
}

func (b *EventBus) OnMemberLeaving(handler MemberHandler) func() {
	return subscribe(b, b.leaving, handler)
}

func (b *EventBus) OnMemberLeft(handler MemberHandler) func() {
	return subscribe(b, b.left, handler)
}

func (b *EventBus) OnPartitionArrived(handler PartitionHandler) func() {
	return subscribe(b, b.arrived, handler)
}

// subscribe adds a handler to one of the listener maps and returns the matching unsubscribe function.
func subscribe[H any](b *EventBus, listeners map[uint64]H, handler H) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	listeners[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(listeners, id)
		})
	}
}

// --------------------------------------------------------------------------
// Delivery
// --------------------------------------------------------------------------

func (b *EventBus) FireMemberJoined(memberID uint64) {
	for _, h := range snapshot(b, b.joined) {
		h(memberID)
	}
}

func (b *EventBus) FireMemberLeaving(memberID uint64) {
	for _, h := range snapshot(b, b.leaving) {
		h(memberID)
	}
}

func (b *EventBus) FireMemberLeft(memberID uint64) {
	for _, h := range snapshot(b, b.left) {
		h(memberID)
	}
}

func (b *EventBus) FirePartitionArrived(partitionID PartitionID, partitionCount uint32) {
	for _, h := range snapshot(b, b.arrived) {
		h(partitionID, partitionCount)
	}
}

// snapshot copies the handlers so they run without holding the bus lock.
func snapshot[H any](b *EventBus, listeners map[uint64]H) []H {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]H, 0, len(listeners))
	for _, h := range listeners {
		out = append(out, h)
	}
	return out
}
