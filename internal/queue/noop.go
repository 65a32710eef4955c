package queue

import (
	"context"

	"nightline/internal/realtime"
)

// NoopQueue satisfies realtime.Producer without a broker: it is used
// when no redis connection is configured (single-instance dev mode).
// Same-instance delivery already happened via the channel hub's
// publish before the dispatcher ever reaches the producer, so dropping
// the cross-instance hand-off here costs nothing but multi-instance
// reach.
type NoopQueue struct{}

// Enqueue always succeeds without doing anything.
func (NoopQueue) Enqueue(context.Context, realtime.DeliveryJob) error { return nil }
