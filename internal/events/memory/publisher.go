// Package memory contains in-memory pub/sub implementations for tests.
package memory

import (
	"context"
	"sync"

	"github.com/newslens/newslens/internal/pipeline"
)

// Publisher stores published events for inspection and optionally forwards
// them to a linked Subscriber.
type Publisher struct {
	mu     sync.RWMutex
	events []pipeline.JobUpdateEvent
	subs   []chan pipeline.JobUpdateEvent
}

// NewPublisher returns a memory Publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish records the event and fans it out to any live subscriptions.
func (p *Publisher) Publish(_ context.Context, event pipeline.JobUpdateEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	for _, ch := range p.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Events returns the recorded publishes.
func (p *Publisher) Events() []pipeline.JobUpdateEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]pipeline.JobUpdateEvent, len(p.events))
	copy(out, p.events)
	return out
}

// EventsFor returns recorded events for one job.
func (p *Publisher) EventsFor(jobID string) []pipeline.JobUpdateEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []pipeline.JobUpdateEvent
	for _, e := range p.events {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out
}

// Subscribe implements pipeline.Subscriber over the same in-process channel.
// Only events published after the subscription exist on the channel; there
// is no replay, matching the wire transport.
func (p *Publisher) Subscribe(_ context.Context) (<-chan pipeline.JobUpdateEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan pipeline.JobUpdateEvent, 64)
	p.subs = append(p.subs, ch)
	return ch, nil
}
