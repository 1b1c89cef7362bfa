// Package queue is the durable ingestion queue between the gateway and
// the fan-out workers, built on redis streams with consumer groups.
// Accepting a job and persisting its message are deliberately separate
// steps: the producer returns as soon as redis acknowledged the XADD.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"market-chat/domain"
	"market-chat/errors"
	"market-chat/observability"
)

// Producer enqueues ChatJobs. Safe for concurrent use by many
// gateway connections.
type Producer struct {
	rdb        *redis.Client
	partitions int
	log        *slog.Logger
	stats      *observability.Manager
}

func NewProducer(rdb *redis.Client, partitions int, log *slog.Logger, stats *observability.Manager) *Producer {
	if partitions < 1 {
		partitions = 1
	}
	return &Producer{rdb: rdb, partitions: partitions, log: log, stats: stats}
}

// Enqueue durably accepts one job. A job without participants is
// malformed and rejected here, before it can ever reach a worker.
func (p *Producer) Enqueue(ctx context.Context, job domain.ChatJob) error {
	if len(job.ParticipantIDs) == 0 {
		return errors.ErrJobMalformed
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	stream := StreamName(Partition(job.ChatID, p.partitions))
	if err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"job": payload},
	}).Err(); err != nil {
		return err
	}

	p.stats.JobEnqueued()
	p.log.Debug("Job accepted", "job_id", job.ID, "chat_id", job.ChatID, "stream", stream)
	return nil
}
