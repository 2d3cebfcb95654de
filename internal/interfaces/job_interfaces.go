package interfaces

import (
	"context"

	"github.com/ternarybob/reportree/internal/models"
)

// JobWorker processes queue messages of one type.
// The job processor owns task status; the worker only returns the value to store.
type JobWorker interface {
	// Execute processes a single message and returns its result.
	Execute(ctx context.Context, msg *models.QueueMessage) (interface{}, error)

	// GetWorkerType returns the message type this worker handles.
	GetWorkerType() string

	// Validate checks the message is compatible with this worker.
	Validate(msg *models.QueueMessage) error
}

// SchedulerService runs periodic maintenance tasks
type SchedulerService interface {
	Start() error
	Stop() error
	IsRunning() bool
}
