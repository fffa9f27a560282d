// Package memory provides an in-memory publisher for mock mode and tests.
package memory

import (
	"context"
	"strconv"
	"sync"
)

// Message is one recorded publish call.
type Message struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher implements scraper.Publisher by recording messages in memory.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	seq      int
}

// New creates an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the payload and returns a synthetic message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := "mem-" + strconv.Itoa(p.seq)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Messages returns all recorded messages for topic, in publish order.
func (p *Publisher) Messages(topic string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Message
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
