package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reportree/internal/interfaces"
	"github.com/ternarybob/reportree/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// TaskStorage implements interfaces.TaskStorage for Badger
type TaskStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTaskStorage creates a new TaskStorage instance
func NewTaskStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TaskStorage {
	return &TaskStorage{
		db:     db,
		logger: logger,
	}
}

func (s *TaskStorage) CreateTask(ctx context.Context, task *models.TaskRecord) error {
	if task == nil || task.Handle == "" {
		return fmt.Errorf("task handle is required")
	}
	if task.Status == "" {
		task.Status = models.ReportStatusPending
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}

	if err := s.db.Store().Insert(task.Handle, *task); err != nil {
		return fmt.Errorf("failed to create task %s: %w", task.Handle, err)
	}
	return nil
}

func (s *TaskStorage) GetTask(ctx context.Context, handle string) (*models.TaskRecord, error) {
	var task models.TaskRecord
	if err := s.db.Store().Get(handle, &task); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrTaskNotFound, handle)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

func (s *TaskStorage) MarkTaskStarted(ctx context.Context, handle string) error {
	return s.update(handle, func(task *models.TaskRecord) error {
		if !task.Status.CanTransitionTo(models.ReportStatusStarted) {
			return fmt.Errorf("%w: task %s %s -> %s", models.ErrStatusRegression, handle, task.Status, models.ReportStatusStarted)
		}
		now := time.Now()
		task.Status = models.ReportStatusStarted
		task.StartedAt = &now
		return nil
	})
}

func (s *TaskStorage) FinishTask(ctx context.Context, handle string, status models.ReportStatus, result []byte, errText string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("task %s cannot finish with non-terminal status %s", handle, status)
	}
	return s.update(handle, func(task *models.TaskRecord) error {
		if !task.Status.CanTransitionTo(status) {
			return fmt.Errorf("%w: task %s %s -> %s", models.ErrStatusRegression, handle, task.Status, status)
		}
		now := time.Now()
		task.Status = status
		task.Result = result
		task.Error = errText
		task.FinishedAt = &now
		return nil
	})
}

func (s *TaskStorage) update(handle string, fn func(task *models.TaskRecord) error) error {
	store := s.db.Store()

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err := store.Badger().Update(func(tx *badger.Txn) error {
			var task models.TaskRecord
			if err := store.TxGet(tx, handle, &task); err != nil {
				if errors.Is(err, badgerhold.ErrNotFound) {
					return fmt.Errorf("%w: %s", models.ErrTaskNotFound, handle)
				}
				return err
			}
			if err := fn(&task); err != nil {
				return err
			}
			return store.TxUpdate(tx, handle, task)
		})

		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return err
	}

	return fmt.Errorf("failed to update task %s: %w", handle, badger.ErrConflict)
}
