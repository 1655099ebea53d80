// Package memory keeps run notifications in process for dry runs and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/progress-crawler/internal/harvest"
)

// Publisher encodes payloads the way the Pub/Sub publisher does and keeps
// the encoded messages, so a dry run shows exactly what would be sent.
type Publisher struct {
	logger *zap.Logger

	mu       sync.RWMutex
	messages []Message
}

var _ harvest.Publisher = (*Publisher)(nil)

// Message is one encoded publish.
type Message struct {
	ID         string
	Topic      string
	Data       []byte
	Attributes map[string]string
}

// New returns a memory Publisher. A nil logger discards the dry-run log.
func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger}
}

// Publish marshals payload to JSON and records it under topic.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	attrs := map[string]string{"content_type": "application/json"}
	if n, ok := payload.(harvest.RunNotification); ok {
		attrs["run_id"] = n.RunID
	}

	p.mu.Lock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Data: data, Attributes: attrs})
	p.mu.Unlock()

	p.logger.Info("run notification kept in memory",
		zap.String("topic", topic),
		zap.String("message_id", id),
		zap.ByteString("data", data),
	)
	return id, nil
}

// Messages returns copies of the recorded messages.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	for i, m := range p.messages {
		attrs := make(map[string]string, len(m.Attributes))
		for k, v := range m.Attributes {
			attrs[k] = v
		}
		m.Data = append([]byte(nil), m.Data...)
		m.Attributes = attrs
		out[i] = m
	}
	return out
}

// Notifications decodes the recorded run notifications published to topic.
func (p *Publisher) Notifications(topic string) ([]harvest.RunNotification, error) {
	var out []harvest.RunNotification
	for _, m := range p.Messages() {
		if m.Topic != topic || m.Attributes["run_id"] == "" {
			continue
		}
		var n harvest.RunNotification
		if err := json.Unmarshal(m.Data, &n); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", m.ID, err)
		}
		out = append(out, n)
	}
	return out, nil
}
