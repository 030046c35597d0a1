package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: "schedule.task.starting"})

	for i, ch := range []<-chan Event{a, c} {
		select {
		case ev := <-ch:
			if ev.Type != "schedule.task.starting" {
				t.Fatalf("sub %d: type = %q", i, ev.Type)
			}
			if ev.Time.IsZero() {
				t.Fatalf("sub %d: expected publish to stamp time", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("sub %d: no event delivered", i)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "one"})
	b.Publish(Event{Type: "two"}) // must not block

	if got := (<-ch).Type; got != "one" {
		t.Fatalf("first event = %q, want one", got)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event %q", ev.Type)
	default:
	}
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	b.Publish(Event{Type: "late"})
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after unsubscribe")
	}
}

func TestDiscardPublisher(t *testing.T) {
	t.Parallel()
	Discard.Publish(Event{Type: "ignored"})
}
