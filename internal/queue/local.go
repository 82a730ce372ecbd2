package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/iago/treasury-bizcase-back/internal/domain"
)

// LocalQueue is the in-process scheduler used when Redis is not configured.
type LocalQueue struct {
	ch          chan domain.QueueMessage
	maxAttempts int
	logger      *log.Logger
	now         func() time.Time
	closed      chan struct{}
	closeOnce   sync.Once

	dlqMu sync.Mutex
	dlq   []domain.QueueMessage
}

func NewLocalQueue(bufferSize, maxAttempts int, logger *log.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &LocalQueue{
		ch:          make(chan domain.QueueMessage, bufferSize),
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         time.Now,
		closed:      make(chan struct{}),
		dlq:         make([]domain.QueueMessage, 0),
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	if delay := message.NotBefore.Sub(q.now()); delay > 0 {
		go q.deliverLater(q.closed, message, delay)
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- message:
		return nil
	}
}

func (q *LocalQueue) Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message := <-q.ch:
			err := handler(ctx, message)
			if err == nil {
				continue
			}

			message.Attempt++
			if message.Attempt >= q.maxAttempts {
				q.dlqMu.Lock()
				q.dlq = append(q.dlq, message)
				q.dlqMu.Unlock()
				if q.logger != nil {
					q.logger.Printf("local queue moved message to DLQ job_id=%s err=%v", message.JobID, err)
				}
				continue
			}

			go q.deliverLater(ctx.Done(), message, time.Duration(message.Attempt)*500*time.Millisecond)
		}
	}
}

// deliverLater holds a message back until delay passes or done closes.
func (q *LocalQueue) deliverLater(done <-chan struct{}, message domain.QueueMessage, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-done:
		return
	case <-timer.C:
		select {
		case q.ch <- message:
		case <-done:
		}
	}
}

// Close drops messages still waiting for their NotBefore time.
func (q *LocalQueue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

func (q *LocalQueue) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}
