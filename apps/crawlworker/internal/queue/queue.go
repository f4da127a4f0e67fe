// Package queue defines the job-queue contract crawlworker's feeder and
// runner depend on, plus a Redis-backed implementation. An alternate SQS
// implementation lives in sqs_queue.go, grounded on the teacher's own split
// between a Redis Streams default (pkg/queue/queue.go) and a literal
// aws-sdk-go-v2/sqs dependency.
package queue

import (
	"context"
	"time"
)

// Message is one dequeued unit of work. ReceiptHandle must be passed back
// to Ack or Requeue; backends that don't have a native receipt handle (e.g.
// a plain Redis list) use the job ID itself.
type Message struct {
	JobID         string
	Payload       []byte
	ReceiptHandle string
}

// JobQueue is the contract CrawlFeeder enqueues onto and CrawlTaskRunner
// consumes from. Enqueue must be idempotent on JobID: enqueuing the same
// job ID twice must not create two deliveries, per spec §6's job-queue
// contract (idempotent enqueue, at-least-once delivery).
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string, payload []byte) error
	Receive(ctx context.Context, maxMessages int, waitTime time.Duration) ([]Message, error)
	Ack(ctx context.Context, msg Message) error
	// Requeue puts the message back for redelivery, used for both
	// capacity-denied requeues and retryable failures. SQSQueue delays
	// redelivery by delay; RedisQueue re-adds the message at once.
	Requeue(ctx context.Context, msg Message, delay time.Duration) error
	Depth(ctx context.Context) (int64, error)
}
