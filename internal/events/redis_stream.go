package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStreamPublisher publishes envelopes to a Redis stream named after the
// event topic.
type RedisStreamPublisher struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisStreamPublisher creates a stream publisher.
func NewRedisStreamPublisher(rdb *redis.Client) *RedisStreamPublisher {
	return &RedisStreamPublisher{
		rdb: rdb,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (p *RedisStreamPublisher) PublishSync(ctx context.Context, meta Metadata, aggregateID string, data any,
	parentEventID, traceID string, timeout time.Duration) (Envelope, error) {
	env, err := NewEnvelope(meta, aggregateID, data, parentEventID, traceID, p.now())
	if err != nil {
		return Envelope{}, err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: meta.Topic,
		Values: map[string]interface{}{
			"event_id":   env.EventID,
			"event_type": env.EventType,
			"envelope":   string(raw),
		},
	}).Err()
	if err != nil {
		return Envelope{}, fmt.Errorf("publish %s to %s: %w", env.EventID, meta.Topic, err)
	}
	return env, nil
}

// StreamConsumer reads a Redis stream through a consumer group. Messages are
// acked only after the handler succeeds; failed ones stay pending and are
// reclaimed once idle for MinIdle.
type StreamConsumer struct {
	rdb      *redis.Client
	stream   string
	group    string
	consumer string
	handler  Handler

	Count   int64
	Block   time.Duration
	MinIdle time.Duration
}

// NewStreamConsumer creates a consumer-group reader for stream.
func NewStreamConsumer(rdb *redis.Client, stream, group, consumer string, handler Handler) *StreamConsumer {
	return &StreamConsumer{
		rdb:      rdb,
		stream:   stream,
		group:    group,
		consumer: consumer,
		handler:  handler,
		Count:    32,
		Block:    2 * time.Second,
		MinIdle:  30 * time.Second,
	}
}

// Run consumes until ctx is cancelled.
func (c *StreamConsumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}
	slog.Info("stream consumer started", "stream", c.stream, "group", c.group, "consumer", c.consumer)

	for ctx.Err() == nil {
		if _, err := c.reclaim(ctx); err != nil && ctx.Err() == nil {
			slog.Error("stream reclaim failed", "stream", c.stream, "err", err)
		}
		if _, err := c.poll(ctx); err != nil && ctx.Err() == nil {
			slog.Error("stream read failed", "stream", c.stream, "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
	return nil
}

func (c *StreamConsumer) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", c.group, c.stream, err)
	}
	return nil
}

// poll reads new messages and returns how many were acked.
func (c *StreamConsumer) poll(ctx context.Context) (int, error) {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.Count,
		Block:    c.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, s := range streams {
		for _, msg := range s.Messages {
			if c.handle(ctx, msg) {
				acked++
			}
		}
	}
	return acked, nil
}

// reclaim takes over messages left pending by failed or dead consumers.
func (c *StreamConsumer) reclaim(ctx context.Context) (int, error) {
	msgs, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  c.MinIdle,
		Start:    "0-0",
		Count:    c.Count,
	}).Result()
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, msg := range msgs {
		if c.handle(ctx, msg) {
			acked++
		}
	}
	return acked, nil
}

func (c *StreamConsumer) handle(ctx context.Context, msg redis.XMessage) bool {
	raw, _ := msg.Values["envelope"].(string)

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// Undecodable messages would be redelivered forever.
		slog.Error("dropping malformed stream message", "stream", c.stream, "id", msg.ID, "err", err)
		c.ack(ctx, msg.ID)
		return false
	}

	if err := c.handler(ctx, env); err != nil {
		slog.Warn("event handler failed, leaving pending",
			"stream", c.stream, "id", msg.ID, "event_id", env.EventID, "err", err)
		return false
	}
	return c.ack(ctx, msg.ID)
}

func (c *StreamConsumer) ack(ctx context.Context, id string) bool {
	if err := c.rdb.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		slog.Error("stream ack failed", "stream", c.stream, "id", id, "err", err)
		return false
	}
	return true
}
