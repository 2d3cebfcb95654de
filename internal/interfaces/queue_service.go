package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/reportree/internal/models"
)

// QueueManager manages the persistent message queue
type QueueManager interface {
	Enqueue(ctx context.Context, msg models.QueueMessage) error
	// Receive returns the next visible message and a func that deletes it.
	// Returns models.ErrNoMessage when nothing is ready.
	Receive(ctx context.Context) (*models.QueueMessage, func() error, error)
	Extend(ctx context.Context, messageID string, duration time.Duration) error
	Close() error
}
