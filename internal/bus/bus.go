// Package bus fans "something changed" signals out to interested readers.
//
// A publish carries no payload: receivers re-fetch whatever state they show.
// Delivery is best-effort and at-most-once, and nothing is kept for
// subscribers that arrive later. Handlers always run on the dispatcher, never
// on the publishing goroutine.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

type Topic string

const (
	BoxesChanged  Topic = "boxesChanged"
	ItemsChanged  Topic = "itemsChanged"
	PhotosChanged Topic = "photosChanged"
)

// Topics lists every topic in a stable order.
var Topics = []Topic{BoxesChanged, ItemsChanged, PhotosChanged}

// Valid reports whether t is one of the known topics.
func (t Topic) Valid() bool {
	switch t {
	case BoxesChanged, ItemsChanged, PhotosChanged:
		return true
	}
	return false
}

type Handler func(Topic)

// Dispatcher runs handlers on the UI-affinity context. *loop.Loop satisfies it.
type Dispatcher interface {
	Post(fn func()) bool
}

// Handle identifies one subscription. The zero Handle is never issued.
type Handle struct {
	topic Topic
	id    uint64
}

type subscriber struct {
	id      uint64
	handler Handler
	active  atomic.Bool
}

type Bus struct {
	mu         sync.Mutex
	nextID     uint64
	subs       map[Topic][]*subscriber
	dispatcher Dispatcher
	logger     *slog.Logger
}

func New(dispatcher Dispatcher, logger *slog.Logger) *Bus {
	return &Bus{
		subs:       make(map[Topic][]*subscriber),
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Subscribe registers handler for every future publish to topic.
func (b *Bus) Subscribe(topic Topic, handler Handler) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscriber{id: b.nextID, handler: handler}
	sub.active.Store(true)
	b.subs[topic] = append(b.subs[topic], sub)
	return Handle{topic: topic, id: sub.id}
}

// Unsubscribe removes a subscription. Unknown or already removed handles are
// ignored. A handler removed while a publish is being delivered is not invoked
// for the deliveries still pending.
func (b *Bus) Unsubscribe(h Handle) {
	if b == nil || h.id == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[h.topic]
	for i, sub := range subs {
		if sub.id != h.id {
			continue
		}
		sub.active.Store(false)
		// Copy so a publish holding the old slice is unaffected.
		next := make([]*subscriber, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(b.subs, h.topic)
		} else {
			b.subs[h.topic] = next
		}
		return
	}
}

// Publish schedules every current subscriber of topic on the dispatcher.
func (b *Bus) Publish(topic Topic) {
	b.mu.Lock()
	subs := b.subs[topic]
	b.mu.Unlock()

	b.logger.Debug("publish", "topic", topic, "subscribers", len(subs))
	for _, sub := range subs {
		sub := sub
		if !b.dispatcher.Post(func() {
			if sub.active.Load() {
				sub.handler(topic)
			}
		}) {
			b.logger.Warn("dropped notification, dispatcher stopped", "topic", topic)
			return
		}
	}
}

// SubscriberCount returns the number of live subscriptions for topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}
