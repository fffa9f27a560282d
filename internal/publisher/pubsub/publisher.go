// Package pubsub publishes job lifecycle events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	gpubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// Publisher implements scraper.Publisher on top of a Pub/Sub client.
// Topic handles are cached per topic name.
type Publisher struct {
	client *gpubsub.Client
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*gpubsub.Topic
}

// New connects to Pub/Sub for the given project.
func New(ctx context.Context, projectID string, logger *zap.Logger) (*Publisher, error) {
	if projectID == "" {
		return nil, fmt.Errorf("pubsub project id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := gpubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{
		client: client,
		logger: logger,
		topics: make(map[string]*gpubsub.Topic),
	}, nil
}

// Publish marshals the payload as JSON and publishes it, returning the
// server-assigned message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal event payload: %w", err)
	}
	res := p.topic(topic).Publish(ctx, &gpubsub.Message{Data: data})
	id, err := res.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.logger.Debug("event published",
		zap.String("topic", topic),
		zap.String("message_id", id))
	return id, nil
}

func (p *Publisher) topic(name string) *gpubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}

// Close flushes pending messages and releases the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.mu.Unlock()
	return p.client.Close()
}
