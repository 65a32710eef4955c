package realtime

import (
	"sync"

	v1 "nightline/contracts/v1"
)

// Client represents one connected websocket session: either the global
// /events notification socket or a per-conversation /chat/{hex} socket.
//
// Design notes:
//   - Send is intentionally NOT closed by the server to avoid panics from
//     concurrent broadcasters racing a close.
//   - done signals goroutines to stop; Close is idempotent.
type Client struct {
	SessionID      string
	UserHex        string
	ConversationHex string // empty for the /events socket
	Send           chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(userHex, sessionID, conversationHex string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &Client{
		SessionID:       sessionID,
		UserHex:         userHex,
		ConversationHex: conversationHex,
		Send:            make(chan v1.Envelope, sendQueueSize),
		done:            make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent). It does NOT
// close Send, keeping concurrent broadcast sends safe.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
