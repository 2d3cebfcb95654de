// -----------------------------------------------------------------------
// Dispatcher - submits report trees to the queue and hands back async handles
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reportree/internal/common"
	"github.com/ternarybob/reportree/internal/interfaces"
	"github.com/ternarybob/reportree/internal/models"
	"github.com/ternarybob/reportree/internal/reports"
)

// JobTypeReport routes a message to the report worker.
// Every report kind shares this single registration.
const JobTypeReport = "report"

// Dispatcher enqueues report trees as single units of work
type Dispatcher struct {
	queue        interfaces.QueueManager
	tasks        interfaces.TaskStorage
	records      interfaces.ReportStorage
	logger       arbor.ILogger
	pollInterval time.Duration
}

// NewDispatcher creates a dispatcher. pollInterval paces AsyncResult.Get.
func NewDispatcher(queue interfaces.QueueManager, tasks interfaces.TaskStorage, records interfaces.ReportStorage, logger arbor.ILogger, pollInterval time.Duration) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Dispatcher{
		queue:        queue,
		tasks:        tasks,
		records:      records,
		logger:       logger,
		pollInterval: pollInterval,
	}
}

// Submit enqueues the whole tree rooted at report exactly once and returns its async handle.
// The root record carries the handle from here on so pollers can reconcile it.
func (d *Dispatcher) Submit(ctx context.Context, report reports.Report) (*AsyncResult, error) {
	descriptor, err := report.Descriptor()
	if err != nil {
		return nil, fmt.Errorf("failed to describe report %s: %w", report.PersistentID(), err)
	}

	payload, err := json.Marshal(descriptor)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report %s: %w", report.PersistentID(), err)
	}

	handle := common.NewTaskHandle()

	task := &models.TaskRecord{
		Handle:     handle,
		Type:       JobTypeReport,
		ReportID:   report.PersistentID(),
		Status:     models.ReportStatusPending,
		EnqueuedAt: time.Now(),
	}
	if err := d.tasks.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task for report %s: %w", report.PersistentID(), err)
	}

	if d.records != nil {
		if err := d.records.UpdateReportStatus(ctx, report.PersistentID(), models.ReportStatusPending, handle); err != nil {
			return nil, fmt.Errorf("failed to record handle on report %s: %w", report.PersistentID(), err)
		}
	}

	msg := models.QueueMessage{
		JobID:   handle,
		Type:    JobTypeReport,
		Payload: payload,
	}
	if err := d.queue.Enqueue(ctx, msg); err != nil {
		if finishErr := d.tasks.FinishTask(ctx, handle, models.ReportStatusFailure, nil, err.Error()); finishErr != nil {
			d.logger.Warn().Err(finishErr).Str("job_id", handle).Msg("Failed to mark task failed after enqueue error")
		}
		return nil, fmt.Errorf("failed to enqueue report %s: %w", report.PersistentID(), err)
	}

	d.logger.Info().
		Str("job_id", handle).
		Str("report_id", report.PersistentID()).
		Str("kind", report.Kind()).
		Msg("Report enqueued")

	return d.AsyncResult(handle), nil
}

// AsyncResult returns a pollable handle for an existing task
func (d *Dispatcher) AsyncResult(handle string) *AsyncResult {
	return &AsyncResult{
		Handle:       handle,
		tasks:        d.tasks,
		pollInterval: d.pollInterval,
	}
}

// AsyncResult is the submitter's view of a queued unit of work
type AsyncResult struct {
	Handle       string
	tasks        interfaces.TaskStorage
	pollInterval time.Duration
}

// Status returns the live task status
func (r *AsyncResult) Status(ctx context.Context) (models.ReportStatus, error) {
	task, err := r.tasks.GetTask(ctx, r.Handle)
	if err != nil {
		return "", err
	}
	return task.Status, nil
}

// Ready reports whether the task reached a terminal status
func (r *AsyncResult) Ready(ctx context.Context) (bool, error) {
	status, err := r.Status(ctx)
	if err != nil {
		return false, err
	}
	return status.IsTerminal(), nil
}

// Get waits until the task is terminal and returns the JSON result.
// A FAILURE task returns an error wrapping models.ErrTaskFailed.
func (r *AsyncResult) Get(ctx context.Context) (json.RawMessage, error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		task, err := r.tasks.GetTask(ctx, r.Handle)
		if err != nil {
			return nil, err
		}

		switch task.Status {
		case models.ReportStatusSuccess:
			return json.RawMessage(task.Result), nil
		case models.ReportStatusFailure:
			return nil, fmt.Errorf("%w: %s: %s", models.ErrTaskFailed, r.Handle, task.Error)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
