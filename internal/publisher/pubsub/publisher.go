// Package pubsub publishes run notifications to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/JakeFAU/realtime-news-ingestor/internal/telemetry"
)

// Publisher wraps a Pub/Sub topic publisher.
type Publisher struct {
	publisher *pubsub.Publisher
	attrs     map[string]string
}

// New creates a Publisher. attrs are added to every message.
func New(publisher *pubsub.Publisher, attrs map[string]string) *Publisher {
	return &Publisher{publisher: publisher, attrs: attrs}
}

// Publish marshals payload to JSON, attaches trace context and waits for the server ID.
func (p *Publisher) Publish(ctx context.Context, payload any) (string, error) {
	if p.publisher == nil {
		return "", errors.New("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return PublishRaw(ctx, p.publisher, data, p.attrs)
}

// PublishRaw sends data with the given attributes plus the caller's trace context.
func PublishRaw(ctx context.Context, publisher *pubsub.Publisher, data []byte, attrs map[string]string) (string, error) {
	msg := &pubsub.Message{Data: data, Attributes: make(map[string]string, len(attrs)+2)}
	for k, v := range attrs {
		msg.Attributes[k] = v
	}
	telemetry.Inject(ctx, msg.Attributes)

	id, err := publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}
