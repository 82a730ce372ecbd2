package queue

import (
	"context"

	"github.com/iago/treasury-bizcase-back/internal/domain"
)

// Producer schedules a job for background execution. A message whose
// NotBefore lies in the future is held back until then.
type Producer interface {
	Enqueue(ctx context.Context, message domain.QueueMessage) error
}

// Consumer receives scheduled jobs and executes handlers.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error
}
