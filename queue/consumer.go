package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"market-chat/contract"
	"market-chat/domain"
	"market-chat/observability"
)

// Ensure *Consumer implements the contract.Worker interface at compile time.
var _ contract.Worker = (*Consumer)(nil)

// Handler processes one job. Returning an error leaves the stream
// entry pending so it gets redelivered; returning nil acknowledges it.
type Handler func(ctx context.Context, job domain.ChatJob) error

// Consumer drains one partition stream under a consumer group.
// Redeliveries are claimed back after minIdle, and a job that has been
// delivered maxAttempts times moves to the dead-letter stream instead
// of blocking the partition forever.
type Consumer struct {
	rdb         *redis.Client
	stream      string
	group       string
	consumer    string
	handler     Handler
	maxAttempts int64
	minIdle     time.Duration
	block       time.Duration
	log         *slog.Logger
	stats       *observability.Manager
}

func NewConsumer(
	rdb *redis.Client,
	partition int,
	group, consumer string,
	handler Handler,
	maxAttempts int64,
	minIdle time.Duration,
	log *slog.Logger,
	stats *observability.Manager,
) *Consumer {
	return &Consumer{
		rdb:         rdb,
		stream:      StreamName(partition),
		group:       group,
		consumer:    consumer,
		handler:     handler,
		maxAttempts: maxAttempts,
		minIdle:     minIdle,
		block:       5 * time.Second,
		log:         log,
		stats:       stats,
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}
	c.log.Info("Consuming ingestion queue", "stream", c.stream, "group", c.group)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := c.claimStale(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn("Failed to claim stale jobs", "stream", c.stream, "err", err)
		}

		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, ">"},
			Count:    16,
			Block:    c.block,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading %s: %w", c.stream, err)
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				c.process(ctx, entry)
			}
		}
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating group %s on %s: %w", c.group, c.stream, err)
	}
	return nil
}

// claimStale re-fetches entries another delivery attempt left pending
// longer than minIdle. The idle window doubles as the retry backoff.
func (c *Consumer) claimStale(ctx context.Context) error {
	entries, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  c.minIdle,
		Start:    "0",
		Count:    16,
	}).Result()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		c.stats.JobRetried()
		c.process(ctx, entry)
	}
	return nil
}

func (c *Consumer) process(ctx context.Context, entry redis.XMessage) {
	job, err := decodeJob(entry)
	if err != nil || len(job.ParticipantIDs) == 0 {
		// Malformed payloads can never succeed; park them for inspection.
		c.log.Error("Malformed chat job", "stream", c.stream, "entry", entry.ID, "err", err)
		c.deadLetter(ctx, entry, "malformed")
		return
	}

	if err := c.handler(ctx, job); err != nil {
		if ctx.Err() != nil {
			return
		}
		attempts := c.deliveryCount(ctx, entry.ID)
		c.log.Warn("Job processing failed",
			"stream", c.stream, "job_id", job.ID, "attempts", attempts, "err", err)
		if attempts >= c.maxAttempts {
			c.deadLetter(ctx, entry, err.Error())
		}
		// Otherwise leave the entry pending; claimStale retries it.
		return
	}

	if err := c.rdb.XAck(ctx, c.stream, c.group, entry.ID).Err(); err != nil {
		c.log.Warn("Failed to ack job", "stream", c.stream, "entry", entry.ID, "err", err)
	}
}

func (c *Consumer) deliveryCount(ctx context.Context, entryID string) int64 {
	pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Start:  entryID,
		End:    entryID,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 1
	}
	return pending[0].RetryCount
}

// deadLetter moves the entry to the dead-letter stream and acknowledges
// it, so the partition keeps flowing while the job stays inspectable.
func (c *Consumer) deadLetter(ctx context.Context, entry redis.XMessage, reason string) {
	values := map[string]any{
		"origin": c.stream,
		"entry":  entry.ID,
		"reason": reason,
	}
	if raw, ok := entry.Values["job"]; ok {
		values["job"] = raw
	}
	if err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStream,
		Values: values,
	}).Err(); err != nil {
		c.log.Error("Failed to dead-letter job", "stream", c.stream, "entry", entry.ID, "err", err)
		return
	}
	if err := c.rdb.XAck(ctx, c.stream, c.group, entry.ID).Err(); err != nil {
		c.log.Warn("Failed to ack dead-lettered job", "entry", entry.ID, "err", err)
	}
	c.stats.JobDeadLettered()
}

func decodeJob(entry redis.XMessage) (domain.ChatJob, error) {
	raw, ok := entry.Values["job"]
	if !ok {
		return domain.ChatJob{}, fmt.Errorf("entry %s has no job field", entry.ID)
	}
	text, ok := raw.(string)
	if !ok {
		return domain.ChatJob{}, fmt.Errorf("entry %s job field is not a string", entry.ID)
	}
	var job domain.ChatJob
	if err := json.Unmarshal([]byte(text), &job); err != nil {
		return domain.ChatJob{}, err
	}
	return job, nil
}
