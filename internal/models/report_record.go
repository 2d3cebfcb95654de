// -----------------------------------------------------------------------
// Report Record - durable twin of an in-memory report
// -----------------------------------------------------------------------

package models

import (
	"time"
)

// ReportRecord is the persistent record of a single report in a report tree.
// Every report owns exactly one record, created before the report is ever queued.
// Pollers read Status; clients resolve payloads using QueueHandle and ResultKey.
type ReportRecord struct {
	ID          string       `json:"id" badgerhold:"key"`
	OwnerID     string       `json:"owner_id,omitempty" badgerhold:"index"`
	Status      ReportStatus `json:"status" badgerhold:"index"`
	Name        string       `json:"name"`
	Kind        string       `json:"kind"`
	ShownToUser bool         `json:"shown_to_user"` // Plumbing leaves are not surfaced
	QueueHandle string       `json:"queue_handle,omitempty" badgerhold:"index"`
	ResultKey   string       `json:"result_key,omitempty"`
	Parameters  string       `json:"parameters"` // JSON description of how the report was configured
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// HasQueueHandle returns true once the report has been dispatched
func (r *ReportRecord) HasQueueHandle() bool {
	return r.QueueHandle != ""
}

// ReportListOptions filters ListReports results
type ReportListOptions struct {
	OwnerID   string
	ShownOnly bool
	// DispatchedOnly keeps records that carry a queue handle
	DispatchedOnly bool
	Statuses  []ReportStatus
	Limit     int
}
