package realtime

import (
	"log/slog"
	"sync"

	v1 "nightline/contracts/v1"
)

// EventsTopic is the well-known name of the global notification topic.
const EventsTopic = "/events"

// ChatTopic returns the conversation topic name for a conversation hex.
func ChatTopic(conversationHex string) string {
	return "/chat/" + conversationHex
}

// Hub owns every live topic on this instance and provides stable topic
// handles. Cross-instance delivery is not the hub's job — that is the
// delivery queue's (see internal/queue).
type Hub struct {
	log *slog.Logger

	mu     sync.RWMutex
	topics map[string]*Topic
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{log: log, topics: make(map[string]*Topic)}
}

// Topic returns the stable handle for name, creating it on first use.
func (h *Hub) Topic(name string) *Topic {
	h.mu.RLock()
	if t, ok := h.topics[name]; ok {
		h.mu.RUnlock()
		return t
	}
	h.mu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[name]; ok {
		return t
	}
	t := newTopic(h.log, name)
	h.topics[name] = t
	return t
}

// Publish delivers payload to every subscriber of topic on this instance.
func (h *Hub) Publish(topic string, env v1.Envelope) int {
	return h.Topic(topic).Publish(env)
}

// TopicCount reports how many distinct topics are currently live — used
// by the metrics endpoint.
func (h *Hub) TopicCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics)
}
