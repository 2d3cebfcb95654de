package handlers

import (
	"context"
	"encoding/json"

	"github.com/ternarybob/reportree/internal/jobs"
	"github.com/ternarybob/reportree/internal/models"
	jobsvc "github.com/ternarybob/reportree/internal/services/jobs"
)

// JobService defines the job operations exposed over HTTP
type JobService interface {
	Submit(ctx context.Context, req *jobs.SubmitRequest) (*jobsvc.SubmitResponse, error)
	Status(ctx context.Context, recordID string) (models.ReportStatus, error)
	List(ctx context.Context, ownerID string, limit int) ([]*models.ReportRecord, error)
	Result(ctx context.Context, handle, resultKey string) (json.RawMessage, error)
}

// HealthChecker reports whether a background component is running
type HealthChecker interface {
	IsRunning() bool
}

var _ JobService = (*jobsvc.Service)(nil)
