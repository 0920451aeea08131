package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/urbix/internal/models"
)

// QueueManager manages the persistent job queue
type QueueManager interface {
	Enqueue(ctx context.Context, msg models.QueueMessage) error
	// EnqueueWithDelay makes the message visible only after delay
	EnqueueWithDelay(ctx context.Context, msg models.QueueMessage, delay time.Duration) error
	// Receive claims the next visible message. The returned func acknowledges it.
	Receive(ctx context.Context) (*models.QueueMessage, func() error, error)
	Len(ctx context.Context) (int, error)
	Close() error
}
