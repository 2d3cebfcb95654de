// -----------------------------------------------------------------------
// Report Status - lifecycle shared by report records and queue tasks
// -----------------------------------------------------------------------

package models

// ReportStatus is the lifecycle state of a report record or a queue task.
// Status only moves forward: PENDING -> STARTED -> {SUCCESS | FAILURE}.
type ReportStatus string

const (
	ReportStatusPending ReportStatus = "PENDING"
	ReportStatusStarted ReportStatus = "STARTED"
	ReportStatusSuccess ReportStatus = "SUCCESS"
	ReportStatusFailure ReportStatus = "FAILURE"
)

// IsValid reports whether s is one of the known statuses
func (s ReportStatus) IsValid() bool {
	switch s {
	case ReportStatusPending, ReportStatusStarted, ReportStatusSuccess, ReportStatusFailure:
		return true
	}
	return false
}

// IsTerminal returns true for SUCCESS and FAILURE
func (s ReportStatus) IsTerminal() bool {
	return s == ReportStatusSuccess || s == ReportStatusFailure
}

// CanTransitionTo reports whether moving from s to next keeps the status moving forward.
// Re-writing the same status is allowed. A terminal status never changes.
func (s ReportStatus) CanTransitionTo(next ReportStatus) bool {
	if !next.IsValid() {
		return false
	}
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

func (s ReportStatus) rank() int {
	switch s {
	case ReportStatusPending:
		return 0
	case ReportStatusStarted:
		return 1
	case ReportStatusSuccess, ReportStatusFailure:
		return 2
	}
	return -1
}

// String returns the status as a string
func (s ReportStatus) String() string {
	return string(s)
}
