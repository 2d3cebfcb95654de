package models

import (
	"encoding/json"
)

// QueueMessage is the structure stored in the queue.
// Keep it simple - just enough to route the job.
type QueueMessage struct {
	JobID   string          `json:"job_id"`  // Async handle, references tasks.handle
	Type    string          `json:"type"`    // Job type for worker routing
	Payload json.RawMessage `json:"payload"` // Job-specific data (passed through)
}
