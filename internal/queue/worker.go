package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"nightline/internal/realtime"

	"github.com/redis/go-redis/v9"
)

// Registry is the narrow read surface the worker needs from the
// connection registry: look up the active connection handles for
// a recipient on this instance. Implemented by *realtime.Registry.
type Registry interface {
	Get(userHex string) []*realtime.Client
}

// Worker is the per-instance stream consumer: it reads delivery jobs off
// the shared Redis stream under the instance's own consumer name, and
// for every recipient with an active connection *on this instance*,
// pushes the already-published payload. A recipient connected nowhere
// is not a failure — the message already lives in the repository for
// later retrieval via the history page endpoint.
type Worker struct {
	client       *redis.Client
	log          *slog.Logger
	registry     Registry
	consumerName string
}

// NewWorker constructs a Worker bound to consumerName, which must be
// unique per running instance (e.g. hostname + pid) so stream entries
// delivered to one instance are not redelivered to another unless
// reclaimed after a crash.
func NewWorker(client *redis.Client, log *slog.Logger, registry Registry, consumerName string) *Worker {
	return &Worker{client: client, log: log, registry: registry, consumerName: consumerName}
}

// Run blocks, consuming jobs until ctx is cancelled. Exhausting a job's
// retries logs and drops it — no poison-pill loop.
func (w *Worker) Run(ctx context.Context) error {
	reclaim := time.NewTicker(ReclaimInterval)
	defer reclaim.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reclaim.C:
			w.reclaimStale(ctx)
		default:
		}

		res, err := w.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    GroupName,
			Consumer: w.consumerName,
			Streams:  []string{StreamName, ">"},
			Count:    32,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			w.log.Error("queue.worker.read_failed", "consumer", w.consumerName, "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				w.deliver(ctx, msg)
			}
		}
	}
}

func (w *Worker) deliver(ctx context.Context, msg redis.XMessage) {
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		w.log.Error("queue.worker.bad_payload_shape", "id", msg.ID)
		w.ack(ctx, msg.ID)
		return
	}

	var job realtime.DeliveryJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		w.log.Error("queue.worker.unmarshal_failed", "id", msg.ID, "err", err)
		w.ack(ctx, msg.ID)
		return
	}

	delivered := 0
	for _, userHex := range job.To {
		for _, client := range w.registry.Get(userHex) {
			select {
			case client.Send <- job.Data:
				delivered++
			default:
				w.log.Info("queue.worker.send_dropped", "user", userHex, "session_id", client.SessionID)
				workerDeliveries.WithLabelValues("dropped").Inc()
			}
		}
	}
	if delivered > 0 {
		workerDeliveries.WithLabelValues("delivered").Add(float64(delivered))
	} else {
		workerDeliveries.WithLabelValues("no_local_recipient").Inc()
	}
	w.log.Info("queue.worker.delivered", "id", msg.ID, "conversation", job.Conversation, "kind", job.Kind, "recipients", len(job.To), "sent", delivered)
	w.ack(ctx, msg.ID)
}

func (w *Worker) ack(ctx context.Context, id string) {
	if err := w.client.XAck(ctx, StreamName, GroupName, id).Err(); err != nil {
		w.log.Error("queue.worker.ack_failed", "id", id, "err", err)
	}
}

// reclaimStale scans the consumer group's pending-entries list for jobs
// idle longer than ClaimBackoff and either reclaims them for this
// consumer to retry, or drops them with a logged warning once
// MaxAttempts delivery attempts have been made.
func (w *Worker) reclaimStale(ctx context.Context) {
	pending, err := w.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: StreamName,
		Group:  GroupName,
		Idle:   ClaimBackoff,
		Start:  "-",
		End:    "+",
		Count:  64,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			w.log.Error("queue.worker.xpending_failed", "err", err)
		}
		return
	}

	for _, p := range pending {
		if p.RetryCount >= MaxAttempts {
			w.log.Error("queue.worker.retries_exhausted", "id", p.ID, "retries", p.RetryCount)
			workerDeliveries.WithLabelValues("retries_exhausted").Inc()
			w.ack(ctx, p.ID)
			continue
		}

		claimed, err := w.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   StreamName,
			Group:    GroupName,
			Consumer: w.consumerName,
			MinIdle:  ClaimBackoff,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			w.log.Error("queue.worker.xclaim_failed", "id", p.ID, "err", err)
			continue
		}
		for _, msg := range claimed {
			w.deliver(ctx, msg)
		}
	}
}
