package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestPublishSubscribeRoundTrip(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	sent := Event{Type: "request.submitted", Data: map[string]string{"id": "req-1"}}
	b.Publish(sent)

	select {
	case got := <-ch:
		if got.Type != sent.Type {
			t.Fatalf("Type = %q, want %q", got.Type, sent.Type)
		}
		data, ok := got.Data.(map[string]string)
		if !ok || data["id"] != "req-1" {
			t.Fatalf("Data = %#v, want id=req-1", got.Data)
		}
		if got.Time.IsZero() {
			t.Fatal("Time not filled for zero-time event")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishKeepsExplicitTime(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	stamp := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	b.Publish(Event{Type: "tick", Time: stamp})

	got := <-ch
	if !got.Time.Equal(stamp) {
		t.Fatalf("Time = %v, want %v", got.Time, stamp)
	}
}

func TestSubscribeDefaultBuffer(t *testing.T) {
	t.Parallel()

	for _, buffer := range []int{0, -3} {
		b := New().(*fanout)
		ch, unsub := b.Subscribe(buffer)

		// Default buffer is 8: the ninth unreceived publish must drop.
		for i := 0; i < 9; i++ {
			b.Publish(Event{Type: "tick"})
		}
		if got := b.Dropped(); got != 1 {
			t.Fatalf("Subscribe(%d): Dropped() = %d, want 1", buffer, got)
		}
		if got := len(ch); got != 8 {
			t.Fatalf("Subscribe(%d): buffered = %d, want 8", buffer, got)
		}
		unsub()
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	b := New().(*fanout)
	ch, unsub := b.Subscribe(1)

	if got := b.Subscribers(); got != 1 {
		t.Fatalf("Subscribers() = %d, want 1", got)
	}

	unsub()
	unsub() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	if got := b.Subscribers(); got != 0 {
		t.Fatalf("Subscribers() = %d, want 0", got)
	}

	// Publishing with no subscribers is a no-op, not a drop.
	b.Publish(Event{Type: "tick"})
	if got := b.Dropped(); got != 0 {
		t.Fatalf("Dropped() = %d, want 0", got)
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()

	b := New().(*fanout)
	ch, unsub := b.Subscribe(2)
	defer unsub()

	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: "tick"})
	}
	if got := b.Dropped(); got != 3 {
		t.Fatalf("Dropped() = %d, want 3", got)
	}

	// The buffered events are still intact.
	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		default:
			t.Fatalf("event %d missing from buffer", i)
		}
	}
}

func TestSendOnClosedChannelCountsAsDrop(t *testing.T) {
	t.Parallel()

	// A subscriber that unsubscribes between the Publish snapshot and the
	// send closes its channel under the publisher. send must absorb that.
	b := New().(*fanout)
	ch := make(chan Event, 1)
	close(ch)

	b.send(ch, Event{Type: "tick"})
	if got := b.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}
}

func TestFanoutDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	b := New().(*fanout)
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	if got := b.Subscribers(); got != 2 {
		t.Fatalf("Subscribers() = %d, want 2", got)
	}

	b.Publish(Event{Type: "request.completed"})
	for name, ch := range map[string]<-chan Event{"a": a, "c": c} {
		select {
		case got := <-ch:
			if got.Type != "request.completed" {
				t.Fatalf("subscriber %s: Type = %q", name, got.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s: no event", name)
		}
	}
}

func TestConcurrentPublish(t *testing.T) {
	t.Parallel()

	const (
		publishers = 4
		perPub     = 100
	)

	b := New().(*fanout)
	ch, unsub := b.Subscribe(publishers * perPub)
	defer unsub()

	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perPub; j++ {
				b.Publish(Event{Type: "tick"})
			}
		}()
	}
	wg.Wait()

	if got := b.Dropped(); got != 0 {
		t.Fatalf("Dropped() = %d, want 0", got)
	}
	if got := len(ch); got != publishers*perPub {
		t.Fatalf("delivered = %d, want %d", got, publishers*perPub)
	}
}
