// -----------------------------------------------------------------------
// Jobs service - submission, status reconciliation, listing and results
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reportree/internal/interfaces"
	"github.com/ternarybob/reportree/internal/jobs"
	"github.com/ternarybob/reportree/internal/models"
	"github.com/ternarybob/reportree/internal/queue"
)

// Service is the web layer's view of report jobs
type Service struct {
	builder    *jobs.Builder
	dispatcher *queue.Dispatcher
	records    interfaces.ReportStorage
	tasks      interfaces.TaskStorage
	logger     arbor.ILogger
}

// SubmitResponse identifies a submitted job
type SubmitResponse struct {
	Handle   string `json:"handle"`
	RecordID string `json:"record_id"`
}

func NewService(builder *jobs.Builder, dispatcher *queue.Dispatcher, records interfaces.ReportStorage, tasks interfaces.TaskStorage, logger arbor.ILogger) *Service {
	return &Service{
		builder:    builder,
		dispatcher: dispatcher,
		records:    records,
		tasks:      tasks,
		logger:     logger,
	}
}

// Submit assembles the request into one bundle and enqueues it once
func (s *Service) Submit(ctx context.Context, req *jobs.SubmitRequest) (*SubmitResponse, error) {
	bundle, err := s.builder.Build(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := s.dispatcher.Submit(ctx, bundle)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("job_id", result.Handle).
		Str("record_id", bundle.PersistentID()).
		Str("owner_id", req.OwnerID).
		Int("roots", len(bundle.Roots())).
		Msg("Job submitted")

	return &SubmitResponse{Handle: result.Handle, RecordID: bundle.PersistentID()}, nil
}

// Status returns the record's status after reconciling it with its task
func (s *Service) Status(ctx context.Context, recordID string) (models.ReportStatus, error) {
	record, err := s.records.GetReport(ctx, recordID)
	if err != nil {
		return "", err
	}
	return s.reconcile(ctx, record)
}

// reconcile copies the live task status onto a non-terminal record.
// A record without a handle has not been dispatched and stays PENDING.
func (s *Service) reconcile(ctx context.Context, record *models.ReportRecord) (models.ReportStatus, error) {
	if record.Status.IsTerminal() || !record.HasQueueHandle() {
		return record.Status, nil
	}

	task, err := s.tasks.GetTask(ctx, record.QueueHandle)
	if err != nil {
		if errors.Is(err, models.ErrTaskNotFound) {
			s.logger.Warn().
				Str("record_id", record.ID).
				Str("job_id", record.QueueHandle).
				Msg("Record references an unknown task")
			return record.Status, nil
		}
		return "", err
	}

	if task.Status == record.Status || !record.Status.CanTransitionTo(task.Status) {
		return record.Status, nil
	}

	if err := s.records.UpdateReportStatus(ctx, record.ID, task.Status, ""); err != nil {
		if !errors.Is(err, models.ErrStatusRegression) {
			return "", err
		}
		// The worker moved the record further meanwhile, report what is stored
		latest, getErr := s.records.GetReport(ctx, record.ID)
		if getErr != nil {
			return "", getErr
		}
		record.Status = latest.Status
		return latest.Status, nil
	}

	record.Status = task.Status
	return task.Status, nil
}

// List returns the owner's user-facing records, each reconciled
func (s *Service) List(ctx context.Context, ownerID string, limit int) ([]*models.ReportRecord, error) {
	records, err := s.records.ListReports(ctx, &models.ReportListOptions{
		OwnerID:   ownerID,
		ShownOnly: true,
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}

	for _, record := range records {
		if _, err := s.reconcile(ctx, record); err != nil {
			s.logger.Warn().Err(err).Str("record_id", record.ID).Msg("Failed to reconcile record")
		}
	}
	return records, nil
}

// Result returns the payload stored under resultKey in a succeeded task's result
func (s *Service) Result(ctx context.Context, handle, resultKey string) (json.RawMessage, error) {
	task, err := s.tasks.GetTask(ctx, handle)
	if err != nil {
		return nil, err
	}
	if task.Status != models.ReportStatusSuccess {
		return nil, fmt.Errorf("%w: %s is %s", models.ErrTaskNotFinished, handle, task.Status)
	}

	var results map[string]json.RawMessage
	if err := json.Unmarshal(task.Result, &results); err != nil {
		return nil, fmt.Errorf("failed to decode result of %s: %w", handle, err)
	}

	payload, ok := results[resultKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrResultKeyNotFound, resultKey)
	}
	return payload, nil
}

// ReconcileUnfinished reconciles every dispatched record that is not terminal yet.
// Records without a handle (leaves, nested nodes not yet run) are never loaded.
// Returns the number of records whose status changed.
func (s *Service) ReconcileUnfinished(ctx context.Context) (int, error) {
	records, err := s.records.ListReports(ctx, &models.ReportListOptions{
		Statuses:       []models.ReportStatus{models.ReportStatusPending, models.ReportStatusStarted},
		DispatchedOnly: true,
	})
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return changed, err
		}

		before := record.Status
		after, err := s.reconcile(ctx, record)
		if err != nil {
			s.logger.Warn().Err(err).Str("record_id", record.ID).Msg("Failed to reconcile record")
			continue
		}
		if after != before {
			changed++
		}
	}

	if changed > 0 {
		s.logger.Debug().Int("changed", changed).Int("checked", len(records)).Msg("Reconciled unfinished records")
	}
	return changed, nil
}
