// -----------------------------------------------------------------------
// Storage interfaces - report records and async task state
// -----------------------------------------------------------------------

package interfaces

import (
	"context"

	"github.com/ternarybob/reportree/internal/models"
)

// ReportStorage - persistence for report records.
// Every write is a single atomic read-modify-write against one record.
type ReportStorage interface {
	// CreateReport assigns an ID when empty, forces PENDING and stamps timestamps
	CreateReport(ctx context.Context, record *models.ReportRecord) error
	// GetReport returns models.ErrReportNotFound when no record exists
	GetReport(ctx context.Context, id string) (*models.ReportRecord, error)
	// UpdateReportStatus re-fetches the record, sets status and (when non-empty) the queue handle.
	// Backward moves fail with models.ErrStatusRegression.
	UpdateReportStatus(ctx context.Context, id string, status models.ReportStatus, queueHandle string) error
	// CompleteReport moves the record to SUCCESS and, when resultKey is non-empty, assigns it
	// in the same write. A record already carrying a different key fails with models.ErrResultKeyAssigned.
	CompleteReport(ctx context.Context, id string, resultKey string) error
	ListReports(ctx context.Context, opts *models.ReportListOptions) ([]*models.ReportRecord, error)
}

// TaskStorage - persistence for the live state behind async handles
type TaskStorage interface {
	CreateTask(ctx context.Context, task *models.TaskRecord) error
	// GetTask returns models.ErrTaskNotFound when no task exists
	GetTask(ctx context.Context, handle string) (*models.TaskRecord, error)
	// MarkTaskStarted moves a PENDING task to STARTED
	MarkTaskStarted(ctx context.Context, handle string) error
	// FinishTask records the terminal status plus the encoded result or error text
	FinishTask(ctx context.Context, handle string, status models.ReportStatus, result []byte, errText string) error
}

// StorageManager groups the stores sharing one database
type StorageManager interface {
	ReportStorage() ReportStorage
	TaskStorage() TaskStorage
	DB() interface{}
	Close() error
}
