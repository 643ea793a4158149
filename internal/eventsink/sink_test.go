package eventsink

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

func TestSink_DeliversToSubscriber(t *testing.T) {
	s := New(0)
	var mu sync.Mutex
	var got []convo.Event

	s.Subscribe("client-1", func(e convo.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	})

	s.Publish(convo.Event{Type: convo.EventTurnIndicator, TurnIndicator: &convo.TurnIndicatorPayload{AgentID: "a"}})
	s.Publish(convo.Event{Type: convo.EventAgentMessage, AgentMessage: &convo.AgentMessagePayload{AgentID: "a"}})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, time.Millisecond, "expected both events to be drained")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, convo.EventTurnIndicator, got[0].Type)
	require.Equal(t, convo.EventAgentMessage, got[1].Type)
	require.Less(t, got[0].Sequence, got[1].Sequence)
}

func TestSink_PublishDoesNotBlockOnASlowSubscriber(t *testing.T) {
	s := New(0)
	blocked := make(chan struct{})
	entered := make(chan struct{}, 1)

	s.Subscribe("slow", func(e convo.Event) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-blocked
	})

	published := make(chan struct{})
	go func() {
		s.Publish(convo.Event{Type: convo.EventLifecycle, Lifecycle: &convo.LifecyclePayload{Kind: convo.LifecycleStarted}})
		close(published)
	}()

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a subscriber whose handler never returned")
	}

	<-entered
	close(blocked)
}

func TestSink_DropOldestOnOverflow(t *testing.T) {
	s := New(2)
	var mu sync.Mutex
	var got []string
	blocked := make(chan struct{})
	entered := make(chan struct{}, 1)

	s.Subscribe("client-1", func(e convo.Event) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-blocked
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Thought.Chunk)
	})

	// The first published event is picked up by client-1's drain
	// goroutine and blocks there; publishing three more while it's
	// blocked exercises the overflow path deterministically against a
	// queue of depth 2.
	s.Publish(convo.Event{Type: convo.EventThought, Thought: &convo.ThoughtPayload{Chunk: "1"}})
	<-entered

	s.Publish(convo.Event{Type: convo.EventThought, Thought: &convo.ThoughtPayload{Chunk: "2"}})
	s.Publish(convo.Event{Type: convo.EventThought, Thought: &convo.ThoughtPayload{Chunk: "3"}})
	s.Publish(convo.Event{Type: convo.EventThought, Thought: &convo.ThoughtPayload{Chunk: "4"}})

	close(blocked)

	require.Eventually(t, func() bool {
		return s.DroppedCount("client-1") > 0
	}, time.Second, time.Millisecond, "expected at least one dropped event under overflow")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, time.Millisecond, "expected the surviving events to be drained")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"1", "3", "4"}, got, "the oldest queued event (2) should be the one dropped")
	require.Equal(t, uint64(1), s.DroppedCount("client-1"))
}

func TestSink_UnsubscribeStopsDelivery(t *testing.T) {
	s := New(0)
	var mu sync.Mutex
	count := 0
	s.Subscribe("client-1", func(e convo.Event) {
		mu.Lock()
		defer mu.Unlock()
		count++
	})
	s.Unsubscribe("client-1")
	s.Publish(convo.Event{Type: convo.EventLifecycle, Lifecycle: &convo.LifecyclePayload{Kind: convo.LifecycleStarted}})

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 0, count)
}

func TestSink_PanickingHandlerDoesNotAffectOthers(t *testing.T) {
	s := New(0)
	var mu sync.Mutex
	otherReceived := false

	s.Subscribe("bad", func(e convo.Event) { panic("boom") })
	s.Subscribe("good", func(e convo.Event) {
		mu.Lock()
		defer mu.Unlock()
		otherReceived = true
	})

	s.Publish(convo.Event{Type: convo.EventLifecycle, Lifecycle: &convo.LifecyclePayload{Kind: convo.LifecycleStarted}})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return otherReceived
	}, time.Second, time.Millisecond, "expected the healthy subscriber to still receive the event")
}

func TestSink_ResubscribeStopsThePreviousDrainGoroutine(t *testing.T) {
	s := New(0)
	var mu sync.Mutex
	firstCount, secondCount := 0, 0

	s.Subscribe("client-1", func(e convo.Event) {
		mu.Lock()
		defer mu.Unlock()
		firstCount++
	})
	s.Subscribe("client-1", func(e convo.Event) {
		mu.Lock()
		defer mu.Unlock()
		secondCount++
	})

	s.Publish(convo.Event{Type: convo.EventLifecycle, Lifecycle: &convo.LifecyclePayload{Kind: convo.LifecycleStarted}})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return secondCount == 1
	}, time.Second, time.Millisecond, "expected the replacement handler to receive the event")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 0, firstCount, "the replaced handler must not still be running")
}
