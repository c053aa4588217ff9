package events

import (
	"fmt"
	"testing"
	"time"

	"appforge/internal/graph"
)

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)

	event := TaskEvent{
		Type:         EventTypeTaskStarted,
		GenerationID: "gen-1",
		TaskID:       "task-1",
		Kind:         graph.KindBackend,
		State:        graph.StateRunning,
		Timestamp:    time.Now(),
	}

	bus.Publish(TopicTask, event)

	select {
	case received := <-ch:
		if received.Generation() != "gen-1" {
			t.Errorf("expected generation 'gen-1', got '%s'", received.Generation())
		}
		if received.EventType() != EventTypeTaskStarted {
			t.Errorf("expected event type '%s', got '%s'", EventTypeTaskStarted, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestMultipleSubscribers verifies multiple subscribers receive the same event.
func TestMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	event := TaskEvent{
		Type:         EventTypeTaskSucceeded,
		GenerationID: "gen-2",
		TaskID:       "task-2",
		State:        graph.StateSucceeded,
		Timestamp:    time.Now(),
	}

	bus.Publish(TopicTask, event)

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.Generation() != "gen-2" {
				t.Errorf("subscriber %d: expected generation 'gen-2', got '%s'", i+1, received.Generation())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestNonBlockingSend verifies that publishing doesn't block when channels are full.
func TestNonBlockingSend(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	// Subscribe with buffer size 1
	ch := bus.Subscribe(TopicTask, 1)

	// Publish 10 events - should not deadlock
	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TopicTask, TaskEvent{
				Type:         EventTypeTaskStarted,
				GenerationID: "gen-3",
				TaskID:       fmt.Sprintf("task-%d", i),
				Timestamp:    time.Now(),
			})
		}
		done <- true
	}()

	// Publisher should complete immediately (non-blocking)
	select {
	case <-done:
		// Success - publisher didn't block
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	// Verify we received at least one event (buffer size 1)
	select {
	case received := <-ch:
		if received == nil {
			t.Error("received nil event")
		}
	default:
		t.Error("expected at least one event in buffer")
	}
}

// TestCloseSignalsSubscribers verifies that closing the bus closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewBus()

	ch := bus.Subscribe(TopicTask, 10)

	bus.Close()

	// Channel should be closed (range loop should exit immediately)
	received := 0
	for range ch {
		received++
	}

	if received != 0 {
		t.Errorf("expected 0 events after close, got %d", received)
	}
}

// TestPublishAfterClose verifies publishing after close doesn't panic.
func TestPublishAfterClose(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicTask, 10)

	bus.Close()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publishing after close caused panic: %v", r)
		}
	}()

	bus.Publish(TopicTask, TaskEvent{
		Type:         EventTypeTaskStarted,
		GenerationID: "gen-4",
		TaskID:       "task-1",
		Timestamp:    time.Now(),
	})

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after bus was closed")
		}
	default:
		// Expected - channel closed, no data
	}
}

// TestMultipleTopics verifies topic isolation.
func TestMultipleTopics(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	genCh := bus.Subscribe(TopicGeneration, 10)

	bus.Publish(TopicTask, TaskEvent{
		Type:         EventTypeTaskStarted,
		GenerationID: "gen-5",
		TaskID:       "task-1",
		Timestamp:    time.Now(),
	})
	bus.Publish(TopicGeneration, GenerationEvent{
		Type:         EventTypeGenerationFinished,
		GenerationID: "gen-5",
		Outcome:      graph.OutcomeCompleted,
		Timestamp:    time.Now(),
	})

	select {
	case received := <-taskCh:
		if received.EventType() != EventTypeTaskStarted {
			t.Errorf("task channel: expected task event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("task channel: timeout waiting for event")
	}

	select {
	case received := <-genCh:
		if received.EventType() != EventTypeGenerationFinished {
			t.Errorf("generation channel: expected generation event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("generation channel: timeout waiting for event")
	}

	// Task channel should NOT have the generation event
	select {
	case <-taskCh:
		t.Error("task channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}

	// Generation channel should NOT have the task event
	select {
	case <-genCh:
		t.Error("generation channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

// TestSubscribeAll verifies that SubscribeAll receives events from all topics.
func TestSubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	allCh := bus.SubscribeAll(20)

	bus.Publish(TopicTask, TaskEvent{
		Type:         EventTypeTaskStarted,
		GenerationID: "gen-6",
		TaskID:       "task-1",
		Timestamp:    time.Now(),
	})
	bus.Publish(TopicGeneration, GenerationEvent{
		Type:         EventTypeGenerationFinished,
		GenerationID: "gen-6",
		Outcome:      graph.OutcomePartial,
		Timestamp:    time.Now(),
	})

	receivedTypes := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case received := <-allCh:
			receivedTypes[received.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}

	if !receivedTypes[EventTypeTaskStarted] {
		t.Error("SubscribeAll did not receive task event")
	}
	if !receivedTypes[EventTypeGenerationFinished] {
		t.Error("SubscribeAll did not receive generation event")
	}

	select {
	case <-allCh:
		t.Error("received unexpected third event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no more events
	}
}
