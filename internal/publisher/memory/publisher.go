// Package memory is the publisher used when Pub/Sub is disabled. It applies
// the same JSON encoding and attributes as the Pub/Sub publisher, so a payload
// that cannot be published in production fails here too.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
)

// Message is one recorded publish.
type Message struct {
	ID         string
	Topic      string
	Payload    any
	Data       []byte
	Attributes map[string]string
}

// Publisher keeps published events in memory.
type Publisher struct {
	logger *zap.Logger

	mu       sync.RWMutex
	messages []Message
}

// New returns a Publisher. Each publish is logged at debug level when logger
// is set.
func New(logger ...*zap.Logger) *Publisher {
	p := &Publisher{logger: zap.NewNop()}
	if len(logger) > 0 && logger[0] != nil {
		p.logger = logger[0]
	}
	return p
}

// Publish encodes payload and records it.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	attrs := map[string]string{"event_type": topic}
	if ev, ok := payload.(leadgen.Event); ok && ev.OrganizationID != "" {
		attrs["organization_id"] = ev.OrganizationID
	}

	p.mu.Lock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Payload: payload, Data: data, Attributes: attrs})
	p.mu.Unlock()

	p.logger.Debug("event published", zap.String("topic", topic), zap.String("message_id", id), zap.Int("bytes", len(data)))
	return id, nil
}

// Messages returns every recorded publish, oldest first.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Message(nil), p.messages...)
}

// Topic returns the payloads recorded for one topic, oldest first.
func (p *Publisher) Topic(topic string) []any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []any
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}
