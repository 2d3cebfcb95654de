package models

import (
	"time"
)

// TaskRecord is the live execution state behind an async handle.
// One task exists per enqueued unit of work (a bundle of report trees).
type TaskRecord struct {
	Handle     string       `json:"handle" badgerhold:"key"`
	Type       string       `json:"type"`
	ReportID   string       `json:"report_id"` // Persistent id of the enqueued root unit
	Status     ReportStatus `json:"status" badgerhold:"index"`
	Result     []byte       `json:"result,omitempty"` // JSON encoded return value of the worker
	Error      string       `json:"error,omitempty"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}
