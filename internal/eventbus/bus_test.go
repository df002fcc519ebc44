package eventbus

import (
	"testing"
	"time"

	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New()
	ch := b.Subscribe(moonmodels.EventToolStarted)

	b.Publish(moonmodels.Event{Type: moonmodels.EventToolStarted})

	select {
	case e := <-ch:
		if e.Type != moonmodels.EventToolStarted {
			t.Errorf("got type %v, want %v", e.Type, moonmodels.EventToolStarted)
		}
		if e.Sequence == 0 {
			t.Error("expected a non-zero sequence number")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishIgnoresOtherTopics(t *testing.T) {
	b := New()
	ch := b.Subscribe(moonmodels.EventApprovalRequested)

	b.Publish(moonmodels.Event{Type: moonmodels.EventToolStarted})

	select {
	case e := <-ch:
		t.Fatalf("did not expect an event on this topic, got %v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishSequenceIsMonotonic(t *testing.T) {
	b := New()
	ch := b.Subscribe(moonmodels.EventToolFinished)

	b.Publish(moonmodels.Event{Type: moonmodels.EventToolFinished})
	b.Publish(moonmodels.Event{Type: moonmodels.EventToolFinished})

	first := <-ch
	second := <-ch
	if second.Sequence <= first.Sequence {
		t.Errorf("expected increasing sequence, got %d then %d", first.Sequence, second.Sequence)
	}
}

func TestPublishDropsWhenSubscriberBufferFull(t *testing.T) {
	b := New()
	_ = b.Subscribe(moonmodels.EventToolStarted)

	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(moonmodels.Event{Type: moonmodels.EventToolStarted})
	}
	// Should not deadlock or panic even once the subscriber's channel fills up.
}

func TestMultipleSubscribersEachReceive(t *testing.T) {
	b := New()
	chA := b.Subscribe(moonmodels.EventApprovalResolved)
	chB := b.Subscribe(moonmodels.EventApprovalResolved)

	b.Publish(moonmodels.Event{Type: moonmodels.EventApprovalResolved})

	for _, ch := range []<-chan moonmodels.Event{chA, chB} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event on a subscriber")
		}
	}
}
