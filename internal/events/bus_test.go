package events

import (
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	got := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		bus.Subscribe(func(e Event) {
			got <- e.Status.IsRecording
			wg.Done()
		}, EventStatusChanged)
	}

	bus.Publish(StatusEvent(RecordingStatus{IsRecording: true, ActiveTaskID: "t1"}))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscribers did not receive event")
	}
	for i := 0; i < 2; i++ {
		if !<-got {
			t.Error("expected isRecording=true")
		}
	}
}

func TestSubscriberOrdering(t *testing.T) {
	bus := NewBus(128)
	defer bus.Close()

	ch, cancel := bus.SubscribeChan(128, EventStatusChanged)
	defer cancel()

	for i := 0; i < 50; i++ {
		e := StatusEvent(RecordingStatus{IsRecording: i%2 == 0})
		e.Message = strconv.Itoa(i)
		bus.Publish(e)
	}

	timeout := time.After(2 * time.Second)
	for want := 0; want < 50; want++ {
		select {
		case e := <-ch:
			if e.Message != strconv.Itoa(want) {
				t.Fatalf("got event %s, want %d", e.Message, want)
			}
		case <-timeout:
			t.Fatalf("received %d of 50 events", want)
		}
	}
}

func TestSlowSubscriberKeepsNewest(t *testing.T) {
	bus := NewBus(2)
	defer bus.Close()

	release := make(chan struct{})
	received := make(chan Event, 16)
	bus.Subscribe(func(e Event) {
		<-release
		received <- e
	})

	for i := 0; i < 10; i++ {
		e := NewEvent(EventTaskChanged, SourceStore)
		e.Message = string(rune('0' + i))
		bus.Publish(e)
	}
	close(release)

	var lastMsg string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-received:
			lastMsg = e.Message
			if lastMsg == "9" {
				return
			}
		case <-timeout:
			t.Fatalf("newest event never delivered, last seen %q", lastMsg)
		}
	}
}

func TestFilterByType(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	ch, cancel := bus.SubscribeChan(8, EventShortcutsChanged)
	defer cancel()

	bus.Publish(StatusEvent(RecordingStatus{}))
	bus.Publish(NewEvent(EventShortcutsChanged, SourceShortcuts))

	select {
	case e := <-ch:
		if e.Type != EventShortcutsChanged {
			t.Errorf("got %s, want %s", e.Type, EventShortcutsChanged)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	ch, cancel := bus.SubscribeChan(8)
	cancel()
	cancel()

	bus.Publish(StatusEvent(RecordingStatus{}))
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after cancel")
	}
}

func TestHistory(t *testing.T) {
	bus := NewBus(3)
	defer bus.Close()

	for i := 0; i < 5; i++ {
		e := NewEvent(EventTaskChanged, SourceStore)
		e.TaskID = string(rune('a' + i))
		bus.Publish(e)
	}

	h := bus.History(10)
	if len(h) != 3 {
		t.Fatalf("history len = %d, want 3", len(h))
	}
	want := []string{"c", "d", "e"}
	for i, e := range h {
		if e.TaskID != want[i] {
			t.Errorf("history[%d] = %s, want %s", i, e.TaskID, want[i])
		}
	}

	if got := bus.History(1); len(got) != 1 || got[0].TaskID != "e" {
		t.Errorf("History(1) = %+v", got)
	}
}

func TestPublishAfterClose(t *testing.T) {
	bus := NewBus(4)
	bus.Close()
	bus.Publish(StatusEvent(RecordingStatus{}))
	if len(bus.History(0)) != 0 {
		t.Error("closed bus should not record events")
	}
}
