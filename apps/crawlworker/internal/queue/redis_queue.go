package queue

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ragforge/crawlmesh/pkg/observability"
	"github.com/ragforge/crawlmesh/pkg/redis"
)

// RedisQueue is a JobQueue backed by Redis Streams, grounded on
// pkg/redis.StreamsClient (consumer-group read/ack, not a bare list) --
// the same pattern the teacher uses in pkg/queue/queue.go for its
// webhook-events stream, generalized here to crawl jobs.
type RedisQueue struct {
	client        *redis.StreamsClient
	stream        string
	consumerGroup string
	consumerName  string
	logger        observability.Logger
}

// NewRedisQueue builds a RedisQueue and ensures its consumer group exists.
func NewRedisQueue(ctx context.Context, cfg *redis.StreamsConfig, stream, consumerGroup string, logger observability.Logger) (*RedisQueue, error) {
	client, err := redis.NewStreamsClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("new streams client: %w", err)
	}

	if err := client.CreateConsumerGroupMkStream(ctx, stream, consumerGroup, "0"); err != nil {
		// Tolerate "already exists" the same way pkg/queue/queue.go does.
		logger.Warn("consumer group create returned an error, continuing", map[string]interface{}{
			"stream": stream, "group": consumerGroup, "error": err.Error(),
		})
	}

	return &RedisQueue{
		client:        client,
		stream:        stream,
		consumerGroup: consumerGroup,
		consumerName:  fmt.Sprintf("crawlworker-%d", time.Now().UnixNano()),
		logger:        logger.WithPrefix("redis-queue"),
	}, nil
}

// Enqueue writes a job onto the stream, keyed so re-enqueuing the same
// job ID is a cheap no-op check for callers (the stream itself does not
// dedupe; CrawlFeeder is responsible for checking job_id existence before
// calling Enqueue, per spec §6).
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string, payload []byte) error {
	_, err := q.client.AddToStream(ctx, q.stream, map[string]interface{}{
		"job_id":  jobID,
		"payload": string(payload),
	})
	return err
}

func (q *RedisQueue) Receive(ctx context.Context, maxMessages int, waitTime time.Duration) ([]Message, error) {
	streamsXs, err := q.client.ReadFromConsumerGroup(ctx, q.consumerGroup, q.consumerName,
		[]string{q.stream}, int64(maxMessages), waitTime, false)
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var out []Message
	for _, stream := range streamsXs {
		for _, xm := range stream.Messages {
			payload, _ := xm.Values["payload"].(string)
			jobID, _ := xm.Values["job_id"].(string)
			out = append(out, Message{
				JobID:         jobID,
				Payload:       []byte(payload),
				ReceiptHandle: xm.ID,
			})
		}
	}
	return out, nil
}

func (q *RedisQueue) Ack(ctx context.Context, msg Message) error {
	return q.client.AckMessages(ctx, q.stream, q.consumerGroup, msg.ReceiptHandle)
}

// Requeue acks the original delivery then re-adds the payload at once.
// The delay argument is not applied: the stream has no per-entry
// visibility delay, and the re-added entry is available to the next
// Receive.
func (q *RedisQueue) Requeue(ctx context.Context, msg Message, delay time.Duration) error {
	if err := q.Ack(ctx, msg); err != nil {
		return err
	}
	return q.Enqueue(ctx, msg.JobID, msg.Payload)
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	info, err := q.client.GetStreamInfo(ctx, q.stream)
	if err != nil {
		return 0, err
	}
	return info.Length, nil
}
