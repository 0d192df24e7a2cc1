package events

import (
	"testing"

	"github.com/roach88/replica/internal/record"
)

func TestBus_PublishReachesModelSubscribers(t *testing.T) {
	bus := NewBus()

	var users, posts []Event
	bus.Subscribe("user", func(ev Event) { users = append(users, ev) })
	bus.Subscribe("post", func(ev Event) { posts = append(posts, ev) })

	bus.Publish(Event{Model: "user", Kind: Created,
		Key: record.KeyPath{record.String("u-1")}})

	if len(users) != 1 {
		t.Fatalf("user handler calls = %d, want 1", len(users))
	}
	if len(posts) != 0 {
		t.Errorf("post handler must not see user events")
	}
	if users[0].Kind != Created {
		t.Errorf("kind = %v", users[0].Kind)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	calls := 0
	tok := bus.Subscribe("user", func(Event) { calls++ })
	bus.Publish(Event{Model: "user", Kind: Updated})
	bus.Unsubscribe(tok)
	bus.Publish(Event{Model: "user", Kind: Updated})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestBus_HandlerMaySubscribeDuringDispatch(t *testing.T) {
	bus := NewBus()

	lateCalls := 0
	bus.Subscribe("user", func(Event) {
		bus.Subscribe("user", func(Event) { lateCalls++ })
	})

	bus.Publish(Event{Model: "user"})
	if lateCalls != 0 {
		t.Errorf("handler added mid-dispatch must not see the current event")
	}
	bus.Publish(Event{Model: "user"})
	if lateCalls != 1 {
		t.Errorf("lateCalls = %d, want 1", lateCalls)
	}
}
