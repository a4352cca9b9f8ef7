package notifications

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	TopicMarket = "market"

	subscriberBuffer = 32
)

type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

type subscription struct {
	ch chan Event
}

type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[uuid.UUID]subscription
	now         func() time.Time
}

// NewHub создает хаб для SSE-подписок по темам.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[uuid.UUID]subscription),
		now:         time.Now,
	}
}

// Subscribe подписывает клиента на тему и возвращает его id, канал и функцию отписки.
func (h *Hub) Subscribe(topic string) (uuid.UUID, <-chan Event, func()) {
	id := uuid.New()
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	topicSubs, ok := h.subscribers[topic]
	if !ok {
		topicSubs = make(map[uuid.UUID]subscription)
		h.subscribers[topic] = topicSubs
	}
	topicSubs[id] = subscription{ch: ch}

	var once sync.Once
	return id, ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()

			if subs, exists := h.subscribers[topic]; exists {
				delete(subs, id)
				if len(subs) == 0 {
					delete(h.subscribers, topic)
				}
			}
			close(ch)
		})
	}
}

// Publish отправляет событие всем подписчикам темы; медленные подписчики пропускают событие.
func (h *Hub) Publish(topic string, event Event) {
	event.ID = uuid.NewString()
	event.Timestamp = h.now().UTC()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers[topic] {
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// Subscribers возвращает число подписчиков темы.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subscribers[topic])
}
