// Package queue is the durable delivery layer: it accepts
// DeliveryJob values produced by the dispatcher and guarantees at least
// one delivery attempt per addressed recipient, even across a restart
// or a handoff between instances, by riding Redis Streams consumer
// groups.
package queue
