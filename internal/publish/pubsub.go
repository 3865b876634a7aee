// Package publish pushes monitoring events to downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/bnowain/FB-Monitor/internal/logging"
)

// PubSub publishes JSON events to Google Cloud Pub/Sub topics.
type PubSub struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewPubSub creates a Pub/Sub client authenticated via Application
// Default Credentials.
func NewPubSub(ctx context.Context, projectID string) (*PubSub, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return &PubSub{client: client, topics: make(map[string]*pubsub.Topic)}, nil
}

func (p *PubSub) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}

// Publish marshals the payload to JSON, sends it, and waits for the
// server-assigned message ID.
func (p *PubSub) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}
	result := p.topic(topic).Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	logging.L.Debug("event published",
		zap.String("topic", topic),
		zap.String("message_id", id))
	return id, nil
}

// Close flushes pending messages and releases the client.
func (p *PubSub) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.mu.Unlock()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close pubsub client: %w", err)
	}
	return nil
}
