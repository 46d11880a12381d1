package notify

import (
	"testing"
	"time"
)

func TestPublishReachesSubscribers(t *testing.T) {
	n := New(false)
	a := n.Subscribe()
	b := n.Subscribe()

	n.Publish(SwitchEvent{AppType: "claude", ProviderID: "p2", Source: SourceFailover})

	for _, ch := range []<-chan SwitchEvent{a, b} {
		select {
		case ev := <-ch:
			if ev.ProviderID != "p2" || ev.Source != SourceFailover {
				t.Errorf("event = %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber never received the event")
		}
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	n := New(false)
	n.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			n.Publish(SwitchEvent{AppType: "codex", ProviderID: "p1", Source: SourceManual})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}
