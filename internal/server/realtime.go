package server

import (
	"context"
	"sync"

	"github.com/quayside/daybook/internal/tasklist"
)

const realtimeEventHeartbeat = "heartbeat"

// RealtimeMessage pairs one task change event with the owner whose open
// streams should carry it.
type RealtimeMessage struct {
	OwnerID string
	Event   tasklist.Event
}

// RealtimeDispatcher fans change events out to the owning subject's
// subscribers. Publishing never blocks: a subscriber that stops draining
// its buffer drops messages instead of stalling the write path.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream for the owner's events. The subscription
// ends when ctx is cancelled or the returned cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, ownerID string) (<-chan RealtimeMessage, func()) {
	if ownerID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(ownerID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(ownerID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the message to every subscriber of its owner.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.OwnerID == "" || message.Event.Kind == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.OwnerID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(ownerID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[ownerID]; !ok {
		d.subscribers[ownerID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[ownerID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(ownerID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[ownerID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, ownerID)
		}
	}
	d.mu.Unlock()
}
