// Package events is an in-process notification bus for committed writes.
//
// Events are published after the enclosing transaction commits, never
// before, so a subscriber observing an event can immediately re-read and
// see the new state. Handlers run synchronously on the committing
// goroutine and must not block.
package events

import (
	"sync"

	"github.com/roach88/replica/internal/record"
)

// Kind distinguishes the write that produced an event.
type Kind string

const (
	Created Kind = "created"
	Updated Kind = "updated"
	Deleted Kind = "deleted"
)

// Event describes one committed write to one record.
type Event struct {
	Model string
	Kind  Kind
	// Key is the record's primary key after the write.
	Key record.KeyPath
	// OldKey is set on updates that changed the primary key.
	OldKey record.KeyPath
	// Record is the post-write record, nil for deletes.
	Record record.Record
}

// Token identifies a subscription for removal.
type Token struct {
	model string
	id    uint64
}

// Handler receives committed events for one model.
type Handler func(ev Event)

// Bus fans committed events out to per-model subscribers.
type Bus struct {
	mu   sync.Mutex
	next uint64
	subs map[string]map[uint64]Handler
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[uint64]Handler)}
}

// Subscribe registers fn for all events on model.
func (b *Bus) Subscribe(model string, fn Handler) Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	if b.subs[model] == nil {
		b.subs[model] = make(map[uint64]Handler)
	}
	b.subs[model][b.next] = fn
	return Token{model: model, id: b.next}
}

// Unsubscribe removes a subscription. Unknown tokens are ignored.
func (b *Bus) Unsubscribe(t Token) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m := b.subs[t.model]; m != nil {
		delete(m, t.id)
	}
}

// Publish delivers ev to every subscriber of its model. Handlers are
// invoked outside the bus lock, so a handler may subscribe or
// unsubscribe without deadlocking.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.subs[ev.Model]))
	for _, fn := range b.subs[ev.Model] {
		handlers = append(handlers, fn)
	}
	b.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}
