package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reportree/internal/common"
	"github.com/ternarybob/reportree/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db     *BadgerDB
	report interfaces.ReportStorage
	task   interfaces.TaskStorage
	logger arbor.ILogger
}

var _ interfaces.StorageManager = (*Manager)(nil)

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:     db,
		report: NewReportStorage(db, logger),
		task:   NewTaskStorage(db, logger),
		logger: logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// ReportStorage returns the report record storage
func (m *Manager) ReportStorage() interfaces.ReportStorage {
	return m.report
}

// TaskStorage returns the async task storage
func (m *Manager) TaskStorage() interfaces.TaskStorage {
	return m.task
}

// DB returns the underlying badgerhold store
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// BadgerDB returns the connection so the queue can share the same database
func (m *Manager) BadgerDB() *BadgerDB {
	return m.db
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
