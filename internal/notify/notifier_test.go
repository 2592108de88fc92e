package notify

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNotifier_PublishNoSubscribers(t *testing.T) {
	n := NewNotifier(10)
	// must neither panic nor block
	n.Publish(Event{Type: TableCreated, TableID: 1})
}

func TestNotifier_SubscribeReceivesEvent(t *testing.T) {
	n := NewNotifier(10)
	sub := n.Subscribe("sub-1", nil)

	n.Publish(Event{Type: PartitioningAdded, TableID: 4, PartitionIDs: []int64{7, 8}})

	select {
	case ev := <-sub.Ch:
		if ev.Type != PartitioningAdded || ev.TableID != 4 {
			t.Errorf("unexpected event: %+v", ev)
		}
		if ev.Timestamp == 0 {
			t.Error("expected timestamp to be set")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event within timeout")
	}
}

func TestNotifier_TableFilter(t *testing.T) {
	n := NewNotifier(10)
	sub := n.Subscribe("filtered", []int64{1, 2})

	n.Publish(Event{Type: TableDropped, TableID: 3})
	n.Publish(Event{Type: TableDropped, TableID: 2})

	select {
	case ev := <-sub.Ch:
		if ev.TableID != 2 {
			t.Fatalf("received event for table %d, want 2", ev.TableID)
		}
	case <-time.After(time.Second):
		t.Fatal("matching event not delivered")
	}
	select {
	case ev := <-sub.Ch:
		t.Fatalf("received unexpected event: %+v", ev)
	default:
	}
}

func TestNotifier_FullBufferDrops(t *testing.T) {
	n := NewNotifier(1)
	sub := n.Subscribe("slow", nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			n.Publish(Event{Type: PlacementAdded, TableID: int64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if len(sub.Ch) != 1 {
		t.Errorf("expected 1 buffered event, got %d", len(sub.Ch))
	}
}

func TestNotifier_Unsubscribe(t *testing.T) {
	n := NewNotifier(10)
	sub := n.SubscribeAutoID()
	if !strings.HasPrefix(sub.ID, "sub_") {
		t.Errorf("unexpected generated id %q", sub.ID)
	}
	if n.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n.SubscriberCount())
	}

	n.Unsubscribe(sub.ID)
	if _, ok := <-sub.Ch; ok {
		t.Error("expected channel to be closed")
	}
	if n.SubscriberCount() != 0 {
		t.Errorf("expected no subscribers, got %d", n.SubscriberCount())
	}
	// second unsubscribe is a no-op
	n.Unsubscribe(sub.ID)
}

func TestNotifier_AutoIDsAreUnique(t *testing.T) {
	n := NewNotifier(1)
	a := n.SubscribeAutoID()
	b := n.SubscribeAutoID()
	if a.ID == b.ID {
		t.Fatalf("duplicate subscriber id %q", a.ID)
	}
}

func TestNotifier_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	n := NewNotifier(4)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		sub := n.SubscribeAutoID()
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				n.Publish(Event{Type: TieringChanged, TableID: int64(j)})
			}
		}()
		go func(id string) {
			defer wg.Done()
			n.Unsubscribe(id)
		}(sub.ID)
	}
	wg.Wait()
}

func TestEventTypeString(t *testing.T) {
	if PlacementDropped.String() != "placement_dropped" {
		t.Errorf("unexpected name %q", PlacementDropped.String())
	}
	if EventType(99).String() != "unknown" {
		t.Error("expected unknown for out of range type")
	}
}
