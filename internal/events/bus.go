// Package events is an in-process publish/subscribe bus with typed topics.
package events

import (
	"sort"
	"sync"
)

// Topic names a stream of events carrying values of type T.
type Topic[T any] struct {
	name string
}

// NewTopic declares a topic. Topics with the same name share subscribers, so
// names must be unique per payload type.
func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{name: name}
}

// Name returns the topic identifier.
func (t Topic[T]) Name() string {
	return t.name
}

type handler struct {
	id uint64
	fn func(any)
}

// Bus fans events out to subscribers synchronously, in subscription order.
type Bus struct {
	mu     sync.RWMutex
	next   uint64
	topics map[string]map[uint64]handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[string]map[uint64]handler)}
}

// Subscribe registers fn for topic and returns the function that removes it.
// The returned function is safe to call more than once.
func Subscribe[T any](b *Bus, topic Topic[T], fn func(T)) func() {
	if b == nil || fn == nil {
		return func() {}
	}

	b.mu.Lock()
	b.next++
	id := b.next
	subs, ok := b.topics[topic.name]
	if !ok {
		subs = make(map[uint64]handler)
		b.topics[topic.name] = subs
	}
	subs[id] = handler{id: id, fn: func(v any) {
		if event, ok := v.(T); ok {
			fn(event)
		}
	}}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if subs, ok := b.topics[topic.name]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(b.topics, topic.name)
				}
			}
		})
	}
}

// Publish delivers event to every current subscriber of topic and returns how
// many handlers ran. Handlers run on the publisher's goroutine.
func Publish[T any](b *Bus, topic Topic[T], event T) int {
	if b == nil {
		return 0
	}

	b.mu.RLock()
	subs := b.topics[topic.name]
	handlers := make([]handler, 0, len(subs))
	for _, h := range subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	sort.Slice(handlers, func(i, j int) bool { return handlers[i].id < handlers[j].id })
	for _, h := range handlers {
		h.fn(event)
	}
	return len(handlers)
}

// Subscribers reports how many handlers are attached to the named topic.
func (b *Bus) Subscribers(name string) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[name])
}
