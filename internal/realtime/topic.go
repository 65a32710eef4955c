package realtime

import (
	"log/slog"
	"sync"

	v1 "nightline/contracts/v1"
)

// Topic is a publish/subscribe fanout primitive over one logical topic
// name — "/events" or "/chat/{hex}". Every connected participant of a
// conversation subscribes to its topic on open.
//
// Concurrency guarantees:
//   - Subscribe/Unsubscribe are safe under a concurrent Publish.
//   - Publish never blocks: a saturated subscriber is dropped, not waited
//     on, so one slow client cannot stall fan-out to the rest.
type Topic struct {
	log  *slog.Logger
	Name string

	mu      sync.RWMutex
	members map[*Client]struct{}
}

func newTopic(log *slog.Logger, name string) *Topic {
	return &Topic{log: log, Name: name, members: make(map[*Client]struct{})}
}

// Subscribe adds a client to the topic's membership.
func (t *Topic) Subscribe(c *Client) {
	if t == nil || c == nil {
		return
	}
	t.mu.Lock()
	t.members[c] = struct{}{}
	t.mu.Unlock()
	t.log.Info("topic.subscribe", "topic", t.Name, "session_id", c.SessionID)
}

// Unsubscribe removes a client from the topic's membership.
func (t *Topic) Unsubscribe(c *Client) {
	if t == nil || c == nil {
		return
	}
	t.mu.Lock()
	delete(t.members, c)
	t.mu.Unlock()
	t.log.Info("topic.unsubscribe", "topic", t.Name, "session_id", c.SessionID)
}

// Publish fans an envelope out to every subscriber connected to this
// instance. Non-blocking: a subscriber whose send queue is full, or that
// is already shutting down, is skipped rather than awaited.
func (t *Topic) Publish(env v1.Envelope) int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	delivered := 0
	for m := range t.members {
		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- env:
			delivered++
		default:
			// Drop rather than block the whole topic's fan-out.
		}
	}
	return delivered
}

// Size reports the current subscriber count.
func (t *Topic) Size() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}
