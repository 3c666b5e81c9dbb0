// Package memory provides a bounded in-process job queue with retry and dead-lettering.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/realtime-news-ingestor/internal/ingest"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = ingest.ErrQueueClosed

// DefaultMaxAttempts bounds deliveries before a message is dead-lettered.
const DefaultMaxAttempts = 3

// Queue is a bounded channel of messages with context-aware operations.
type Queue struct {
	ch          chan ingest.Message
	done        chan struct{}
	closeOnce   sync.Once
	maxAttempts int

	mu         sync.Mutex
	retries    []ingest.Message
	deadLetter []ingest.Message
	wake       chan struct{}
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity, maxAttempts int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Queue{
		ch:          make(chan ingest.Message, capacity),
		done:        make(chan struct{}),
		wake:        make(chan struct{}, 1),
		maxAttempts: maxAttempts,
	}
}

// Enqueue pushes a message or returns when the context ends. The first
// delivery is attempt 1.
func (q *Queue) Enqueue(ctx context.Context, msg ingest.Message) error {
	if msg.Attempt == 0 {
		msg.Attempt = 1
	}
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.ch <- msg:
		return nil
	}
}

// DequeueBatch blocks for one message, then drains up to max-1 more that are
// already waiting. Overflowed retries are served before the channel.
func (q *Queue) DequeueBatch(ctx context.Context, maxItems int) ([]ingest.Message, error) {
	if maxItems <= 0 {
		maxItems = 1
	}
	for {
		select {
		case <-q.done:
			return nil, ErrClosed
		default:
		}
		batch := q.takeRetries(maxItems)
		if len(batch) > 0 {
			return q.drain(batch, maxItems), nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.done:
			return nil, ErrClosed
		case <-q.wake:
		case msg := <-q.ch:
			return q.drain([]ingest.Message{msg}, maxItems), nil
		}
	}
}

func (q *Queue) drain(batch []ingest.Message, maxItems int) []ingest.Message {
	for len(batch) < maxItems {
		select {
		case msg := <-q.ch:
			batch = append(batch, msg)
		default:
			return batch
		}
	}
	return batch
}

func (q *Queue) takeRetries(maxItems int) []ingest.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := min(len(q.retries), maxItems)
	if n == 0 {
		return nil
	}
	batch := append([]ingest.Message(nil), q.retries[:n]...)
	q.retries = q.retries[n:]
	return batch
}

// Retry redelivers a failed message with its attempt count bumped, or moves
// it to the dead-letter list once maxAttempts deliveries have failed. It
// reports whether the message was dead-lettered. Retry never blocks; when the
// channel is full the message goes to an overflow list DequeueBatch drains first.
func (q *Queue) Retry(_ context.Context, msg ingest.Message) (bool, error) {
	if msg.Attempt >= q.maxAttempts {
		q.mu.Lock()
		q.deadLetter = append(q.deadLetter, msg)
		q.mu.Unlock()
		return true, nil
	}
	msg.Attempt++
	select {
	case <-q.done:
		return false, ErrClosed
	default:
	}
	select {
	case q.ch <- msg:
		return false, nil
	default:
	}
	q.mu.Lock()
	q.retries = append(q.retries, msg)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return false, nil
}

// DeadLetters returns a copy of the dead-lettered messages.
func (q *Queue) DeadLetters() []ingest.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]ingest.Message(nil), q.deadLetter...)
}

// Len reports the number of queued messages, overflowed retries included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ch) + len(q.retries)
}

// Close stops the queue. Pending and blocked operations return ErrClosed.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
