package realtime

import "time"

// Security/performance limits for the realtime transport.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max message text length (runes).
	maxMessageChars = 4000
)

const (
	// Heartbeat interval and pong timeout used by the gateway.
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second

	// Outbound buffered frames per connection before a slow subscriber
	// starts getting its publishes dropped rather than blocking fan-out.
	defaultSendQueueSize = 32
)
