// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
)

// Publisher fans events out to one Pub/Sub topic per event type. Topic IDs
// are derived from the event topic by replacing dots with dashes and adding
// the configured prefix, e.g. "leadgen-workflow-completed".
type Publisher struct {
	client *pubsub.Client
	prefix string

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// New creates a Publisher on top of a Pub/Sub client.
func New(client *pubsub.Client, topicPrefix string) *Publisher {
	return &Publisher{
		client:     client,
		prefix:     topicPrefix,
		publishers: make(map[string]*pubsub.Publisher),
	}
}

// TopicID maps an event topic to a Pub/Sub topic ID.
func (p *Publisher) TopicID(topic string) string {
	id := strings.ReplaceAll(topic, ".", "-")
	if p.prefix == "" {
		return id
	}
	return p.prefix + "-" + id
}

// Publish marshals the payload to JSON and publishes it to the topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", fmt.Errorf("pubsub client is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: map[string]string{"event_type": topic}}
	if ev, ok := payload.(leadgen.Event); ok && ev.OrganizationID != "" {
		msg.Attributes["organization_id"] = ev.OrganizationID
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	result := p.publisherFor(topic).Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

func (p *Publisher) publisherFor(topic string) *pubsub.Publisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	pub, ok := p.publishers[topic]
	if !ok {
		pub = p.client.Publisher(p.TopicID(topic))
		p.publishers[topic] = pub
	}
	return pub
}

// Stop flushes and stops every topic publisher.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for topic, pub := range p.publishers {
		pub.Stop()
		delete(p.publishers, topic)
	}
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
