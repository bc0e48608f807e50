// Package memory provides queue implementations for local development and
// tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/newslens/newslens/internal/pipeline"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan pipeline.JobDescriptor
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan pipeline.JobDescriptor, capacity),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, job pipeline.JobDescriptor) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- job:
		return nil
	}
}

// Requeue redelivers the descriptor after the delay.
func (q *Queue) Requeue(_ context.Context, job pipeline.JobDescriptor, delay time.Duration) error {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return errors.New("queue closed")
	}
	time.AfterFunc(delay, func() {
		q.closeMu.Lock()
		defer q.closeMu.Unlock()
		if q.closed {
			return
		}
		select {
		case q.ch <- job:
		default:
		}
	})
	return nil
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (pipeline.JobDescriptor, error) {
	select {
	case <-ctx.Done():
		return pipeline.JobDescriptor{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return pipeline.JobDescriptor{}, errors.New("queue closed")
		}
		return job, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
