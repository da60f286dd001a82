package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvWithTimeout(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case data, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return data
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	m := NewManager()
	defer m.Close()

	ch1, cancel1 := m.Subscribe(TaskChannel("t1"))
	defer cancel1()
	ch2, cancel2 := m.Subscribe(TaskChannel("t1"))
	defer cancel2()

	m.Broadcast(TaskChannel("t1"), []byte(`{"type":"think"}`))

	assert.JSONEq(t, `{"type":"think"}`, string(recvWithTimeout(t, ch1)))
	assert.JSONEq(t, `{"type":"think"}`, string(recvWithTimeout(t, ch2)))
}

func TestBroadcastIsScopedToChannel(t *testing.T) {
	m := NewManager()
	defer m.Close()

	other, cancel := m.Subscribe(TaskChannel("t2"))
	defer cancel()

	m.Broadcast(TaskChannel("t1"), []byte(`{}`))

	select {
	case <-other:
		t.Fatal("subscriber received event from a different channel")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	m := NewManager()
	defer m.Close()

	ch, cancel := m.Subscribe(TaskChannel("t1"))
	defer cancel()

	// Overfill the buffer without draining. Broadcast must return promptly.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			m.Broadcast(TaskChannel("t1"), []byte(`{}`))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}

	// The buffer still holds the first subscriberBuffer events.
	assert.Len(t, ch, subscriberBuffer)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	m := NewManager()
	defer m.Close()

	ch, cancel := m.Subscribe(TaskChannel("t1"))
	require.Equal(t, 1, m.SubscriberCount(TaskChannel("t1")))

	cancel()
	assert.Equal(t, 0, m.SubscriberCount(TaskChannel("t1")))

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestBroadcastDuringUnsubscribeIsSafe(t *testing.T) {
	m := NewManager()
	defer m.Close()

	// Publishers keep broadcasting while subscribers churn in and out. A
	// send racing an unsubscribe close would panic the publisher goroutine.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				m.Broadcast(TaskChannel("t1"), []byte(`{}`))
			}
		}
	}()

	for i := 0; i < 200; i++ {
		ch, cancel := m.Subscribe(TaskChannel("t1"))
		// Drain a little so some sends land before the close.
		select {
		case <-ch:
		default:
		}
		cancel()
	}
	close(stop)
	wg.Wait()
}

func TestCloseShutsDownAllSubscribers(t *testing.T) {
	m := NewManager()

	ch1, _ := m.Subscribe(TaskChannel("t1"))
	ch2, _ := m.Subscribe(TaskChannel("t2"))

	m.Close()

	_, ok := <-ch1
	assert.False(t, ok)
	_, ok = <-ch2
	assert.False(t, ok)

	// Subscribing after close yields an already-closed channel.
	ch3, cancel := m.Subscribe(TaskChannel("t3"))
	defer cancel()
	_, ok = <-ch3
	assert.False(t, ok)
}

func TestPublisherStampsTypeAndTimestamp(t *testing.T) {
	m := NewManager()
	defer m.Close()
	pub := NewEventPublisher(m)

	ch, cancel := m.Subscribe(TaskChannel("t1"))
	defer cancel()

	pub.PublishThink("t1", ThinkPayload{Iteration: 2, Content: "checking files"})

	var got ThinkPayload
	require.NoError(t, json.Unmarshal(recvWithTimeout(t, ch), &got))
	assert.Equal(t, EventTypeThink, got.Type)
	assert.Equal(t, "t1", got.TaskID)
	assert.Equal(t, 2, got.Iteration)
	assert.Equal(t, "checking files", got.Content)

	ts, err := time.Parse(time.RFC3339Nano, got.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)
}

func TestPublisherResponseCarriesStopReason(t *testing.T) {
	m := NewManager()
	defer m.Close()
	pub := NewEventPublisher(m)

	ch, cancel := m.Subscribe(TaskChannel("t1"))
	defer cancel()

	pub.PublishResponse("t1", ResponsePayload{Iteration: 3, Content: "done", StopReason: "no_actions"})

	var got ResponsePayload
	require.NoError(t, json.Unmarshal(recvWithTimeout(t, ch), &got))
	assert.Equal(t, EventTypeResponse, got.Type)
	assert.Equal(t, "no_actions", got.StopReason)
}

func TestNilPublisherIsSafe(t *testing.T) {
	var pub *EventPublisher
	pub.PublishThink("t1", ThinkPayload{Content: "ignored"})

	pub = NewEventPublisher(nil)
	pub.PublishError("t1", ErrorPayload{Message: "ignored"})
}
