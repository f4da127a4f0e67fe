package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/ragforge/crawlmesh/pkg/observability"
)

// maxSQSDelaySeconds is SQS's own ceiling on a single message's delivery
// delay (15 minutes); CrawlTaskRunner's MaxBackoff defaults well under
// this, but a misconfigured value must still be clamped rather than
// rejected by the API.
const maxSQSDelaySeconds = 900

// SQSAPI is the subset of *sqs.Client this package calls, grounded on
// pkg/queue/sqs.go's own SQSAPI seam so a test can inject a fake without
// a real AWS round trip.
type SQSAPI interface {
	SendMessage(ctx context.Context, input *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, input *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, input *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// sqsJobEnvelope is the wire shape written into a message body: jobID is
// carried alongside payload so Enqueue's idempotency key (MessageGroupId
// for a FIFO queue, MessageDeduplicationId for dedup) survives the round
// trip even though SQS doesn't expose it back on Receive.
type sqsJobEnvelope struct {
	JobID   string `json:"job_id"`
	Payload []byte `json:"payload"`
}

// SQSQueue is the alternate JobQueue backend for deployments that run
// against AWS SQS instead of Redis Streams, selected by
// config.QueueConfig.Backend == "sqs".
type SQSQueue struct {
	client   SQSAPI
	queueURL string
	fifo     bool
	logger   observability.Logger
}

// NewSQSQueue builds an SQSQueue against queueURL, loading AWS credentials
// and region the standard SDK way (env vars, shared config, IAM role).
func NewSQSQueue(ctx context.Context, region, queueURL string, logger observability.Logger) (*SQSQueue, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSQSQueueWithAPI(sqs.NewFromConfig(cfg), queueURL, logger), nil
}

// NewSQSQueueWithAPI allows injecting a fake SQSAPI for testing.
func NewSQSQueueWithAPI(api SQSAPI, queueURL string, logger observability.Logger) *SQSQueue {
	fifo := len(queueURL) > 5 && queueURL[len(queueURL)-5:] == ".fifo"
	return &SQSQueue{client: api, queueURL: queueURL, fifo: fifo, logger: logger.WithPrefix("sqs-queue")}
}

// Enqueue sends jobID+payload as a single message. Idempotency is
// satisfied via MessageDeduplicationId (standard queues ignore this
// field; FIFO queues use it to drop a duplicate send within their
// 5-minute dedup window) -- the caller is still expected to check job_id
// existence before calling Enqueue for the general case, per spec §6,
// same as RedisQueue.
func (q *SQSQueue) Enqueue(ctx context.Context, jobID string, payload []byte) error {
	body, err := json.Marshal(sqsJobEnvelope{JobID: jobID, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	}
	if q.fifo {
		input.MessageDeduplicationId = aws.String(jobID)
		input.MessageGroupId = aws.String("crawl-jobs")
	}

	_, err = q.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, maxMessages int, waitTime time.Duration) ([]Message, error) {
	if maxMessages > 10 {
		maxMessages = 10 // SQS's own per-call ceiling
	}

	resp, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(waitTime.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive message: %w", err)
	}

	out := make([]Message, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		if msg.Body == nil || msg.ReceiptHandle == nil {
			continue
		}
		var env sqsJobEnvelope
		if err := json.Unmarshal([]byte(*msg.Body), &env); err != nil {
			q.logger.Warn("dropping undecodable sqs message", map[string]interface{}{"error": err.Error()})
			continue
		}
		out = append(out, Message{
			JobID:         env.JobID,
			Payload:       env.Payload,
			ReceiptHandle: *msg.ReceiptHandle,
		})
	}
	return out, nil
}

func (q *SQSQueue) Ack(ctx context.Context, msg Message) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(msg.ReceiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete message: %w", err)
	}
	return nil
}

// Requeue acks the current delivery and re-sends the payload with
// DelaySeconds set, clamped to SQS's 900-second ceiling.
func (q *SQSQueue) Requeue(ctx context.Context, msg Message, delay time.Duration) error {
	if err := q.Ack(ctx, msg); err != nil {
		return err
	}

	delaySeconds := int32(delay.Seconds())
	if delaySeconds > maxSQSDelaySeconds {
		delaySeconds = maxSQSDelaySeconds
	}
	if delaySeconds < 0 {
		delaySeconds = 0
	}

	body, err := json.Marshal(sqsJobEnvelope{JobID: msg.JobID, Payload: msg.Payload})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:     aws.String(q.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delaySeconds,
	}
	if q.fifo {
		// FIFO queues don't support per-message DelaySeconds; the delay is
		// approximated by the caller's own poll cadence instead.
		input.DelaySeconds = 0
		input.MessageDeduplicationId = aws.String(fmt.Sprintf("%s:%d", msg.JobID, time.Now().UnixNano()))
		input.MessageGroupId = aws.String("crawl-jobs")
	}

	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("sqs requeue send: %w", err)
	}
	return nil
}

func (q *SQSQueue) Depth(ctx context.Context) (int64, error) {
	resp, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, fmt.Errorf("sqs get queue attributes: %w", err)
	}

	raw, ok := resp.Attributes[string(sqstypes.QueueAttributeNameApproximateNumberOfMessages)]
	if !ok {
		return 0, nil
	}
	depth, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse queue depth: %w", err)
	}
	return depth, nil
}
