package queue

import "time"

const (
	// StreamName is the Redis stream every instance produces to and
	// consumes from.
	StreamName = "nightline:delivery"

	// GroupName is the shared consumer group name; every running
	// instance joins it under its own consumer name so a job delivered
	// to one instance is not redelivered to another unless reclaimed.
	GroupName = "nightline:workers"

	// MaxAttempts bounds how many delivery attempts a stale (unacked)
	// entry gets before it is dropped with a logged warning.
	MaxAttempts = 3

	// ClaimBackoff is the minimum idle time before a pending entry is
	// eligible for reclaim by another consumer.
	ClaimBackoff = 1000 * time.Millisecond

	// ReclaimInterval is how often the worker sweeps for stale entries.
	ReclaimInterval = 2 * time.Second
)
