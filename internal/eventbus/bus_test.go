package eventbus

import "testing"

func TestSubscribeFiltersKinds(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(4, "task.reaped")
	defer unsub()

	b.Publish(Event{Kind: "task.created"})
	b.Publish(Event{Kind: "task.reaped", Data: 7})

	select {
	case e := <-ch:
		if e.Kind != "task.reaped" || e.Data != 7 {
			t.Fatalf("unexpected event %+v", e)
		}
		if e.Time.IsZero() {
			t.Fatal("publish should stamp time")
		}
	default:
		t.Fatal("expected one event")
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected extra event %+v", e)
	default:
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	b.Publish(Event{Kind: "a"})
	b.Publish(Event{Kind: "b"})
	if got := b.Dropped(); got != 1 {
		t.Fatalf("Dropped = %d, want 1", got)
	}
	unsub()
	unsub()
	b.Publish(Event{Kind: "c"})
}
