package app

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reportree/internal/common"
	"github.com/ternarybob/reportree/internal/handlers"
	"github.com/ternarybob/reportree/internal/interfaces"
	"github.com/ternarybob/reportree/internal/jobs"
	"github.com/ternarybob/reportree/internal/queue"
	"github.com/ternarybob/reportree/internal/queue/workers"
	"github.com/ternarybob/reportree/internal/reports"
	jobsvc "github.com/ternarybob/reportree/internal/services/jobs"
	"github.com/ternarybob/reportree/internal/services/scheduler"
	"github.com/ternarybob/reportree/internal/storage"
	"github.com/ternarybob/reportree/internal/storage/badger"
	"github.com/ternarybob/reportree/internal/storage/mediawiki"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager *badger.Manager
	Registry       *prometheus.Registry

	// Report execution
	Projects     *mediawiki.Connections
	Reports      *reports.Registry
	QueueManager *queue.BadgerManager
	Dispatcher   *queue.Dispatcher
	JobProcessor *workers.JobProcessor
	JobService   *jobsvc.Service

	// Maintenance
	SchedulerService interfaces.SchedulerService

	// HTTP handlers
	APIHandler *handlers.APIHandler
	JobHandler *handlers.JobHandler
}

// New initializes the application with all dependencies.
// The job processor and the reconcile scheduler are started before returning.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}

	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	// Start job processor AFTER all handlers are initialized
	app.JobProcessor.Start()
	app.Logger.Debug().Msg("Job processor started")

	if app.SchedulerService != nil {
		if err := app.SchedulerService.Start(); err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	logger.Info().
		Int("concurrency", cfg.Queue.Concurrency).
		Bool("reconcile_enabled", cfg.Reconcile.Enabled).
		Str("mediawiki_driver", cfg.MediaWiki.Driver).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Bool("in_memory", a.Config.Storage.Badger.InMemory).
		Msg("Storage layer initialized")

	return nil
}

// initServices wires the queue, the report registry and the job services
func (a *App) initServices() error {
	queueCfg := queue.ConfigFromCommon(a.Config.Queue)

	queueMgr, err := queue.NewBadgerManager(
		a.StorageManager.BadgerDB().Badger(),
		a.Logger,
		queueCfg.QueueName,
		queueCfg.VisibilityTimeout,
		queueCfg.MaxReceive,
	)
	if err != nil {
		return fmt.Errorf("failed to create queue manager: %w", err)
	}
	a.QueueManager = queueMgr

	projects, err := mediawiki.NewConnections(a.Logger, &a.Config.MediaWiki, a.Registry)
	if err != nil {
		return fmt.Errorf("failed to configure project databases: %w", err)
	}
	a.Projects = projects

	a.Reports = reports.NewRegistry(a.Logger)
	if err := jobs.Register(a.Reports, projects); err != nil {
		return fmt.Errorf("failed to register report kinds: %w", err)
	}

	records := a.StorageManager.ReportStorage()
	tasks := a.StorageManager.TaskStorage()

	a.Dispatcher = queue.NewDispatcher(queueMgr, tasks, records, a.Logger, queueCfg.PollInterval)
	a.JobService = jobsvc.NewService(jobs.NewBuilder(records, projects), a.Dispatcher, records, tasks, a.Logger)

	a.JobProcessor = workers.NewJobProcessor(queueMgr, tasks, a.Logger, queueCfg.Concurrency).
		WithMetrics(workers.NewMetrics(a.Registry)).
		WithVisibilityTimeout(queueCfg.VisibilityTimeout)
	a.JobProcessor.RegisterExecutor(workers.NewReportWorker(a.Reports, records, queueCfg.SoftTimeLimit, a.Logger))
	queueMgr.OnDrop(a.JobProcessor.HandleDropped)

	if a.Config.Reconcile.Enabled {
		a.SchedulerService = scheduler.NewService(a.JobService, a.Config.Reconcile.Schedule, a.Logger)
	}

	a.Logger.Debug().
		Str("queue", queueCfg.QueueName).
		Str("visibility_timeout", queueCfg.VisibilityTimeout.String()).
		Str("soft_time_limit", queueCfg.SoftTimeLimit.String()).
		Int("kinds", len(a.Reports.Kinds())).
		Msg("Services initialized")

	return nil
}

func (a *App) initHandlers() {
	var schedulerHealth handlers.HealthChecker
	if a.SchedulerService != nil {
		schedulerHealth = a.SchedulerService
	}

	a.APIHandler = handlers.NewAPIHandler(a.Logger, a.JobProcessor, schedulerHealth)
	a.JobHandler = handlers.NewJobHandler(a.JobService, a.Logger)
}

// Close stops background work and releases storage. Safe on a partially built app.
func (a *App) Close() error {
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	// Running jobs observe the cancellation and record FAILURE before storage closes
	if a.JobProcessor != nil {
		a.JobProcessor.Stop()
	}

	if a.Projects != nil {
		if err := a.Projects.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close project databases")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
