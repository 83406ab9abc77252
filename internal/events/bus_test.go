package events

import (
	"testing"
	"time"
)

func TestNilBusPublish(t *testing.T) {
	var b *Bus
	// Must not panic.
	b.Publish(Event{Source: SourceLoop, Kind: KindSessionStart})
}

func TestNilBusSubscriberCount(t *testing.T) {
	var b *Bus
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() on nil bus = %d, want 0", got)
	}
}

func TestPublishSingleSubscriber(t *testing.T) {
	b := New()
	ch := b.Subscribe(8)
	defer b.Unsubscribe(ch)

	want := Event{
		Source: SourceTools,
		Kind:   KindToolCall,
		Data:   map[string]any{"execution_id": "x_abc"},
	}
	b.Publish(want)

	select {
	case got := <-ch:
		if got.Source != want.Source || got.Kind != want.Kind {
			t.Errorf("got event %v, want %v", got, want)
		}
		if got.Timestamp.IsZero() {
			t.Error("Publish should stamp a zero Timestamp")
		}
		id, ok := got.Data["execution_id"].(string)
		if !ok || id != "x_abc" {
			t.Errorf("got execution_id %v, want %q", got.Data["execution_id"], "x_abc")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	// Second publish must not block even though nobody is draining.
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Source: SourceLoop, Kind: KindPhaseStart})
		b.Publish(Event{Source: SourceLoop, Kind: KindPhaseDone})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestUnsubscribeTwice(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	b.Unsubscribe(ch)
	// Must not panic.
	b.Unsubscribe(ch)

	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", got)
	}
}
