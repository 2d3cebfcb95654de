package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reportree/internal/interfaces"
)

// Reconciler moves unfinished records towards their task's status
type Reconciler interface {
	ReconcileUnfinished(ctx context.Context) (int, error)
}

// Service runs the periodic reconciliation sweep
type Service struct {
	reconciler   Reconciler
	schedule     string
	timeout      time.Duration
	cron         *cron.Cron
	logger       arbor.ILogger
	mu           sync.Mutex // Protects isProcessing
	isProcessing bool
	running      bool
	lastRun      *time.Time
	lastError    string
}

var _ interfaces.SchedulerService = (*Service)(nil)

// NewService creates a scheduler for schedule, a cron expression with a leading seconds field
func NewService(reconciler Reconciler, schedule string, logger arbor.ILogger) *Service {
	return &Service{
		reconciler: reconciler,
		schedule:   schedule,
		timeout:    time.Minute,
		cron:       cron.New(cron.WithSeconds()),
		logger:     logger,
	}
}

// Start registers the reconcile sweep and starts the cron runner
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.schedule, s.runReconcile); err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("cron_expr", s.schedule).
		Msg("Scheduler started")
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning reports whether the cron runner is active
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastRun returns when the sweep last ran and its error text, if any
func (s *Service) LastRun() (*time.Time, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastError
}

func (s *Service) runReconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.RunNow(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Reconcile sweep failed")
	}
}

// RunNow performs one sweep unless another one is in progress.
// Returns the number of records that changed.
func (s *Service) RunNow(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.isProcessing {
		s.mu.Unlock()
		s.logger.Debug().Msg("Reconcile sweep already in progress, skipping")
		return 0, nil
	}
	s.isProcessing = true
	s.mu.Unlock()

	changed, err := s.reconciler.ReconcileUnfinished(ctx)

	now := time.Now()
	s.mu.Lock()
	s.isProcessing = false
	s.lastRun = &now
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
	}
	s.mu.Unlock()

	if changed > 0 {
		s.logger.Info().Int("changed", changed).Msg("Reconcile sweep updated records")
	}
	return changed, err
}
