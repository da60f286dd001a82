package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBuffer bounds each subscriber's channel. When the buffer is full
// the event is dropped for that subscriber; the engine never blocks on a
// slow consumer.
const subscriberBuffer = 64

// subscriber is one registered consumer of a channel.
type subscriber struct {
	id string
	ch chan []byte
}

// Manager fans published events out to per-channel subscribers. One instance
// per process; the API layer subscribes SSE clients, the engine publishes
// through an EventPublisher wrapping this.
type Manager struct {
	mu       sync.RWMutex
	channels map[string][]*subscriber
	closed   bool
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{channels: map[string][]*subscriber{}}
}

// Subscribe registers a consumer for a channel. The returned channel receives
// marshaled payloads until cancel is called or the manager closes; it is
// closed by the manager, never by the consumer.
func (m *Manager) Subscribe(channel string) (<-chan []byte, func()) {
	sub := &subscriber{id: uuid.New().String(), ch: make(chan []byte, subscriberBuffer)}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	m.channels[channel] = append(m.channels[channel], sub)
	m.mu.Unlock()

	cancel := func() { m.unsubscribe(channel, sub.id) }
	return sub.ch, cancel
}

// Broadcast delivers an event to every subscriber of a channel. Full
// subscriber buffers drop the event for that subscriber only. Sends stay
// under the read lock: unsubscribe and Close close channels under the write
// lock, so a send can never race a close.
func (m *Manager) Broadcast(channel string, event []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.channels[channel] {
		select {
		case sub.ch <- event:
		default:
			slog.Warn("Dropping event for slow subscriber",
				"channel", channel, "subscriber_id", sub.id)
		}
	}
}

// SubscriberCount returns the number of subscribers for a channel.
func (m *Manager) SubscriberCount(channel string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels[channel])
}

// Close shuts down the manager and closes every subscriber channel.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for _, subs := range m.channels {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	m.channels = map[string][]*subscriber{}
}

func (m *Manager) unsubscribe(channel, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	subs := m.channels[channel]
	for i, sub := range subs {
		if sub.id == id {
			m.channels[channel] = append(subs[:i], subs[i+1:]...)
			close(sub.ch)
			break
		}
	}
	if len(m.channels[channel]) == 0 {
		delete(m.channels, channel)
	}
}
