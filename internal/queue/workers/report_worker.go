package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reportree/internal/interfaces"
	"github.com/ternarybob/reportree/internal/models"
	"github.com/ternarybob/reportree/internal/queue"
	"github.com/ternarybob/reportree/internal/reports"
)

// ReportWorker is the single queue entry point for every report kind.
// It rebuilds the submitted tree, gives the whole invocation one soft time
// limit and runs the root.
type ReportWorker struct {
	registry      *reports.Registry
	store         interfaces.ReportStorage
	softTimeLimit time.Duration
	logger        arbor.ILogger
}

var _ interfaces.JobWorker = (*ReportWorker)(nil)

// NewReportWorker creates the report worker. A zero softTimeLimit disables the limit.
func NewReportWorker(registry *reports.Registry, store interfaces.ReportStorage, softTimeLimit time.Duration, logger arbor.ILogger) *ReportWorker {
	return &ReportWorker{
		registry:      registry,
		store:         store,
		softTimeLimit: softTimeLimit,
		logger:        logger,
	}
}

// GetWorkerType returns the queue message type handled by this worker
func (w *ReportWorker) GetWorkerType() string {
	return queue.JobTypeReport
}

// Validate checks the payload decodes to a descriptor naming a known record
func (w *ReportWorker) Validate(msg *models.QueueMessage) error {
	if msg.Type != queue.JobTypeReport {
		return fmt.Errorf("invalid job type: expected %s, got %s", queue.JobTypeReport, msg.Type)
	}
	if msg.JobID == "" {
		return fmt.Errorf("message has no handle")
	}

	_, err := decodeDescriptor(msg.Payload)
	return err
}

// Execute restores the tree and runs it under the message's handle
func (w *ReportWorker) Execute(ctx context.Context, msg *models.QueueMessage) (interface{}, error) {
	descriptor, err := decodeDescriptor(msg.Payload)
	if err != nil {
		return nil, err
	}

	report, err := w.registry.Restore(ctx, w.store, descriptor)
	if err != nil {
		return nil, err
	}

	runCtx := ctx
	if w.softTimeLimit > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, w.softTimeLimit, reports.ErrSoftTimeLimitExceeded)
		defer cancel()
	}

	jobLogger := w.logger.WithCorrelationId(msg.JobID)
	runCtx = reports.WithExecution(runCtx, reports.Execution{Handle: msg.JobID, Logger: jobLogger})

	jobLogger.Info().
		Str("report_id", report.PersistentID()).
		Str("kind", report.Kind()).
		Msgf("running %v on queue as %s", report, msg.JobID)

	out, err := report.Run(runCtx)
	if err != nil && !errors.Is(err, reports.ErrSoftTimeLimitExceeded) && errors.Is(context.Cause(runCtx), reports.ErrSoftTimeLimitExceeded) {
		err = fmt.Errorf("%w: %w", err, reports.ErrSoftTimeLimitExceeded)
	}
	return out, err
}

func decodeDescriptor(payload json.RawMessage) (reports.Descriptor, error) {
	var descriptor reports.Descriptor
	if len(payload) == 0 {
		return descriptor, fmt.Errorf("message has no payload")
	}
	if err := json.Unmarshal(payload, &descriptor); err != nil {
		return descriptor, fmt.Errorf("failed to decode report descriptor: %w", err)
	}
	if descriptor.PersistentID == "" {
		return descriptor, fmt.Errorf("report descriptor has no persistent id")
	}
	if descriptor.Kind == "" {
		return descriptor, fmt.Errorf("report descriptor %s has no kind", descriptor.PersistentID)
	}
	return descriptor, nil
}
