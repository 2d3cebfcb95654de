// -----------------------------------------------------------------------
// Job Processor - Routes jobs from queue to registered workers
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sourcegraph/conc"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reportree/internal/interfaces"
	"github.com/ternarybob/reportree/internal/models"
)

// JobProcessor pulls messages from the queue and routes them to registered workers
// by message type. Each worker goroutine runs one job at a time; parallelism exists
// only across goroutines.
//
// The processor owns the task status behind every handle: STARTED before the worker
// runs, then SUCCESS with the JSON result or FAILURE with the error text. Messages
// are always deleted once handled. There are no retries.
type JobProcessor struct {
	queueMgr          interfaces.QueueManager
	tasks             interfaces.TaskStorage
	executors         map[string]interfaces.JobWorker // Job workers keyed by job type
	logger            arbor.ILogger
	metrics           *Metrics
	ctx               context.Context
	cancel            context.CancelFunc
	wg                conc.WaitGroup
	running           bool
	mu                sync.Mutex
	concurrency       int
	visibilityTimeout time.Duration
	receiveTimeout    time.Duration
}

// NewJobProcessor creates a new job processor.
// The concurrency parameter controls how many jobs can be processed in parallel.
func NewJobProcessor(queueMgr interfaces.QueueManager, tasks interfaces.TaskStorage, logger arbor.ILogger, concurrency int) *JobProcessor {
	ctx, cancel := context.WithCancel(context.Background())

	// Ensure minimum concurrency of 1
	if concurrency < 1 {
		concurrency = 1
	}

	return &JobProcessor{
		queueMgr:       queueMgr,
		tasks:          tasks,
		executors:      make(map[string]interfaces.JobWorker),
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
		concurrency:    concurrency,
		receiveTimeout: 1 * time.Second,
	}
}

// WithMetrics attaches Prometheus collectors
func (jp *JobProcessor) WithMetrics(m *Metrics) *JobProcessor {
	jp.metrics = m
	return jp
}

// WithVisibilityTimeout enables heartbeats that keep an in-flight message hidden.
// The message is extended every half timeout while its job runs.
func (jp *JobProcessor) WithVisibilityTimeout(d time.Duration) *JobProcessor {
	jp.visibilityTimeout = d
	return jp
}

// RegisterExecutor registers a job worker for its job type
func (jp *JobProcessor) RegisterExecutor(worker interfaces.JobWorker) {
	jobType := worker.GetWorkerType()
	jp.executors[jobType] = worker
	jp.logger.Debug().
		Str("job_type", jobType).
		Msg("Job worker registered")
}

// Start starts the job processor.
// This should be called AFTER all services are fully initialized.
func (jp *JobProcessor) Start() {
	jp.mu.Lock()
	defer jp.mu.Unlock()

	if jp.running {
		jp.logger.Warn().Msg("Job processor already running")
		return
	}

	jp.running = true
	jp.logger.Info().
		Int("concurrency", jp.concurrency).
		Msg("Starting job processor")

	for i := 0; i < jp.concurrency; i++ {
		workerID := i
		jp.wg.Go(func() {
			jp.processJobs(workerID)
		})
	}
}

// Stop cancels the workers and waits for them to return.
// A job still running when Stop is called observes the cancellation and fails.
func (jp *JobProcessor) Stop() {
	jp.mu.Lock()
	if !jp.running {
		jp.mu.Unlock()
		return
	}
	jp.running = false
	jp.mu.Unlock()

	jp.logger.Info().Msg("Stopping job processor...")
	jp.cancel()
	jp.wg.Wait()
	jp.logger.Info().Msg("Job processor stopped")
}

// IsRunning reports whether Start has been called without a matching Stop
func (jp *JobProcessor) IsRunning() bool {
	jp.mu.Lock()
	defer jp.mu.Unlock()
	return jp.running
}

// Backoff configuration for idle polling
const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 5 * time.Second
)

func newIdleBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = minBackoff
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// processJobs is the main loop of one worker goroutine
func (jp *JobProcessor) processJobs(workerID int) {
	defer func() {
		if r := recover(); r != nil {
			jp.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", getStackTrace()).
				Int("worker_id", workerID).
				Msg("Job processor goroutine panicked")
		}
	}()

	jp.logger.Debug().
		Int("worker_id", workerID).
		Msg("Job processor worker started")

	idle := newIdleBackoff()

	for {
		select {
		case <-jp.ctx.Done():
			jp.logger.Debug().
				Int("worker_id", workerID).
				Msg("Job processor worker stopping")
			return
		default:
		}

		if jp.processNextJob(workerID) {
			idle.Reset()
			continue
		}

		select {
		case <-jp.ctx.Done():
			return
		case <-time.After(idle.NextBackOff()):
		}
	}
}

// getStackTrace returns a formatted stack trace for panic debugging
func getStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// processNextJob handles the next message from the queue.
// Returns true if a message was received, false if none was available.
func (jp *JobProcessor) processNextJob(workerID int) bool {
	ctx, cancel := context.WithTimeout(jp.ctx, jp.receiveTimeout)
	defer cancel()

	msg, deleteFn, err := jp.queueMgr.Receive(ctx)
	if err != nil {
		if errors.Is(err, models.ErrNoMessage) {
			jp.metrics.emptyPoll()
		} else if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			jp.logger.Warn().Err(err).Int("worker_id", workerID).Msg("Failed to receive from queue")
		}
		return false
	}

	defer func() {
		if err := deleteFn(); err != nil {
			jp.logger.Error().
				Err(err).
				Str("job_id", msg.JobID).
				Msg("Failed to delete message from queue")
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			jp.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", getStackTrace()).
				Str("job_id", msg.JobID).
				Int("worker_id", workerID).
				Msg("Recovered from panic in job processing")
			jp.failTask(msg.JobID, fmt.Sprintf("job panicked: %v", r))
		}
	}()

	jp.handle(workerID, msg)
	return true
}

func (jp *JobProcessor) handle(workerID int, msg *models.QueueMessage) {
	task, err := jp.tasks.GetTask(jp.ctx, msg.JobID)
	if err != nil {
		jp.logger.Error().
			Err(err).
			Str("job_id", msg.JobID).
			Msg("No task for queued message, discarding")
		return
	}

	// A message already claimed once reappears only after its worker was lost
	if task.Status != models.ReportStatusPending {
		if !task.Status.IsTerminal() {
			jp.logger.Warn().
				Str("job_id", msg.JobID).
				Str("status", string(task.Status)).
				Msg("Redelivered message for a started task, marking failed")
			jp.failTask(msg.JobID, "worker lost during execution")
		}
		return
	}

	worker, ok := jp.executors[msg.Type]
	if !ok {
		errMsg := fmt.Sprintf("no worker registered for job type: %s", msg.Type)
		jp.logger.Error().
			Str("job_type", msg.Type).
			Str("job_id", msg.JobID).
			Msg(errMsg)
		jp.failTask(msg.JobID, errMsg)
		return
	}

	if err := worker.Validate(msg); err != nil {
		jp.logger.Error().
			Err(err).
			Str("job_id", msg.JobID).
			Str("job_type", msg.Type).
			Msg("Queue job validation failed")
		jp.failTask(msg.JobID, err.Error())
		return
	}

	if err := jp.tasks.MarkTaskStarted(jp.ctx, msg.JobID); err != nil {
		jp.logger.Error().Err(err).Str("job_id", msg.JobID).Msg("Failed to mark task started")
		return
	}

	jobStartTime := time.Now()
	jp.logger.Info().
		Str("job_id", msg.JobID).
		Str("job_type", msg.Type).
		Int("worker_id", workerID).
		Msg("Job started")

	jp.metrics.jobStarted()
	stopHeartbeat := jp.startHeartbeat(msg.JobID)
	result, err := worker.Execute(jp.ctx, msg)
	stopHeartbeat()
	jp.metrics.jobDone()

	duration := time.Since(jobStartTime)

	var encoded []byte
	if err == nil {
		encoded, err = json.Marshal(result)
		if err != nil {
			err = fmt.Errorf("failed to encode job result: %w", err)
		}
	}

	if err != nil {
		jp.logger.Error().
			Err(err).
			Str("job_id", msg.JobID).
			Str("job_type", msg.Type).
			Int("worker_id", workerID).
			Str("duration", duration.String()).
			Msg("Job failed")
		jp.failTask(msg.JobID, err.Error())
		jp.metrics.observeFinished(models.ReportStatusFailure, duration.Seconds())
		return
	}

	if err := jp.tasks.FinishTask(context.WithoutCancel(jp.ctx), msg.JobID, models.ReportStatusSuccess, encoded, ""); err != nil {
		jp.logger.Error().Err(err).Str("job_id", msg.JobID).Msg("Failed to record job result")
		return
	}
	jp.metrics.observeFinished(models.ReportStatusSuccess, duration.Seconds())

	jp.logger.Info().
		Str("job_id", msg.JobID).
		Str("job_type", msg.Type).
		Int("worker_id", workerID).
		Str("duration", duration.String()).
		Msg("Job completed")
}

// startHeartbeat extends the message's visibility while its job runs.
// The returned func stops the heartbeat and waits for it to exit.
func (jp *JobProcessor) startHeartbeat(messageID string) func() {
	if jp.visibilityTimeout <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg conc.WaitGroup
	wg.Go(func() {
		ticker := time.NewTicker(jp.visibilityTimeout / 2)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-jp.ctx.Done():
				return
			case <-ticker.C:
				if err := jp.queueMgr.Extend(jp.ctx, messageID, jp.visibilityTimeout); err != nil {
					jp.logger.Warn().Err(err).Str("job_id", messageID).Msg("Failed to extend message visibility")
				}
			}
		}
	})

	return func() {
		close(done)
		wg.Wait()
	}
}

// failTask records FAILURE for a task that has not finished yet
func (jp *JobProcessor) failTask(handle, errText string) {
	ctx := context.WithoutCancel(jp.ctx)

	task, err := jp.tasks.GetTask(ctx, handle)
	if err != nil {
		jp.logger.Warn().Err(err).Str("job_id", handle).Msg("Failed to load task to mark failed")
		return
	}
	if task.Status.IsTerminal() {
		return
	}

	if err := jp.tasks.FinishTask(ctx, handle, models.ReportStatusFailure, nil, errText); err != nil {
		jp.logger.Warn().Err(err).Str("job_id", handle).Msg("Failed to mark task failed")
	}
}

// HandleDropped marks the task of a message the queue gave up on as failed.
// Register it with the queue's OnDrop hook.
func (jp *JobProcessor) HandleDropped(msg models.QueueMessage) {
	jp.metrics.dropped()
	jp.failTask(msg.JobID, "message dropped after exceeding max receive count")
}
