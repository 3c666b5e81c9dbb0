// Package pubsub carries job messages over Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-ingestor/internal/ingest"
	"github.com/JakeFAU/realtime-news-ingestor/internal/metrics"
	gcppublisher "github.com/JakeFAU/realtime-news-ingestor/internal/publisher/pubsub"
	"github.com/JakeFAU/realtime-news-ingestor/internal/telemetry"
)

// MessageIDAttribute carries the producer-assigned message ID.
const MessageIDAttribute = "message_id"

// JobQueue publishes job messages to a topic.
type JobQueue struct {
	publisher *pubsub.Publisher
}

// NewJobQueue wraps a topic publisher.
func NewJobQueue(publisher *pubsub.Publisher) *JobQueue {
	return &JobQueue{publisher: publisher}
}

// Enqueue publishes msg.Body with its ID as an attribute.
func (q *JobQueue) Enqueue(ctx context.Context, msg ingest.Message) error {
	if q.publisher == nil {
		return errors.New("pubsub job publisher is not configured")
	}
	if _, err := gcppublisher.PublishRaw(ctx, q.publisher, msg.Body, map[string]string{MessageIDAttribute: msg.ID}); err != nil {
		return fmt.Errorf("enqueue job %s: %w", msg.ID, err)
	}
	return nil
}

// BatchHandler processes one batch and reports the failed messages.
type BatchHandler interface {
	HandleBatch(ctx context.Context, msgs []ingest.Message) ingest.BatchResponse
}

// Receiver is the subset of *pubsub.Subscriber used by Consumer.
type Receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Consumer acknowledges messages the handler processed and nacks the rest so
// the subscription redelivers them (or dead-letters them per its policy).
type Consumer struct {
	receiver Receiver
	handler  BatchHandler
	logger   *zap.Logger
}

// NewConsumer constructs a Consumer.
func NewConsumer(receiver Receiver, handler BatchHandler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{receiver: receiver, handler: handler, logger: logger}
}

// Run blocks receiving until ctx ends.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.receiver.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		d := delivery{
			msg:  toMessage(m),
			ack:  m.Ack,
			nack: m.Nack,
		}
		c.handle(telemetry.Extract(ctx, m.Attributes), d)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receive: %w", err)
	}
	return nil
}

type delivery struct {
	msg  ingest.Message
	ack  func()
	nack func()
}

func (c *Consumer) handle(ctx context.Context, d delivery) {
	resp := c.handler.HandleBatch(ctx, []ingest.Message{d.msg})
	if len(resp.BatchItemFailures) > 0 {
		metrics.ObserveQueueMessage("nacked")
		c.logger.Warn("job failed, nacking", zap.String("message_id", d.msg.ID), zap.Int("attempt", d.msg.Attempt))
		d.nack()
		return
	}
	d.ack()
}

func toMessage(m *pubsub.Message) ingest.Message {
	id := m.Attributes[MessageIDAttribute]
	if id == "" {
		id = m.ID
	}
	attempt := 1
	if m.DeliveryAttempt != nil {
		attempt = *m.DeliveryAttempt
	}
	return ingest.Message{ID: id, Body: m.Data, Attempt: attempt}
}
