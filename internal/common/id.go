package common

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewReportID generates a report record ID with the "rpt_" prefix
func NewReportID() string {
	return "rpt_" + uuid.New().String()
}

// NewResultKey generates the key a report's results are published under.
// Keys are uuid v4 strings so they stay unique across the whole tree.
func NewResultKey() string {
	return uuid.New().String()
}

// NewTaskHandle generates a lexically sortable async handle for queued work
func NewTaskHandle() string {
	return ulid.Make().String()
}
