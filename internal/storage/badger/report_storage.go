package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reportree/internal/common"
	"github.com/ternarybob/reportree/internal/interfaces"
	"github.com/ternarybob/reportree/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// maxConflictRetries bounds retries of a read-modify-write when another writer committed first
const maxConflictRetries = 8

// ReportStorage implements interfaces.ReportStorage for Badger
type ReportStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewReportStorage creates a new ReportStorage instance
func NewReportStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ReportStorage {
	return &ReportStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ReportStorage) CreateReport(ctx context.Context, record *models.ReportRecord) error {
	if record == nil {
		return fmt.Errorf("report record is required")
	}
	if record.ID == "" {
		record.ID = common.NewReportID()
	}

	now := time.Now()
	record.Status = models.ReportStatusPending
	record.ResultKey = ""
	record.CreatedAt = now
	record.UpdatedAt = now

	if err := s.db.Store().Insert(record.ID, *record); err != nil {
		return fmt.Errorf("failed to create report %s: %w", record.ID, err)
	}

	s.logger.Trace().Str("report_id", record.ID).Str("kind", record.Kind).Msg("Report record created")
	return nil
}

func (s *ReportStorage) GetReport(ctx context.Context, id string) (*models.ReportRecord, error) {
	var record models.ReportRecord
	if err := s.db.Store().Get(id, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrReportNotFound, id)
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return &record, nil
}

func (s *ReportStorage) UpdateReportStatus(ctx context.Context, id string, status models.ReportStatus, queueHandle string) error {
	return s.update(ctx, id, func(record *models.ReportRecord) error {
		if !record.Status.CanTransitionTo(status) {
			return fmt.Errorf("%w: report %s %s -> %s", models.ErrStatusRegression, id, record.Status, status)
		}
		record.Status = status
		if queueHandle != "" {
			record.QueueHandle = queueHandle
		}
		return nil
	})
}

func (s *ReportStorage) CompleteReport(ctx context.Context, id string, resultKey string) error {
	return s.update(ctx, id, func(record *models.ReportRecord) error {
		if !record.Status.CanTransitionTo(models.ReportStatusSuccess) {
			return fmt.Errorf("%w: report %s %s -> %s", models.ErrStatusRegression, id, record.Status, models.ReportStatusSuccess)
		}
		if resultKey != "" {
			if record.ResultKey != "" && record.ResultKey != resultKey {
				return fmt.Errorf("%w: report %s", models.ErrResultKeyAssigned, id)
			}
			record.ResultKey = resultKey
		}
		record.Status = models.ReportStatusSuccess
		return nil
	})
}

func (s *ReportStorage) ListReports(ctx context.Context, opts *models.ReportListOptions) ([]*models.ReportRecord, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.OwnerID != "" {
			query = query.And("OwnerID").Eq(opts.OwnerID)
		}
		if opts.ShownOnly {
			query = query.And("ShownToUser").Eq(true)
		}
		if opts.DispatchedOnly {
			query = query.And("QueueHandle").Ne("")
		}
		if len(opts.Statuses) > 0 {
			statuses := make([]interface{}, len(opts.Statuses))
			for i, status := range opts.Statuses {
				statuses[i] = status
			}
			query = query.And("Status").In(statuses...)
		}
	}

	query = query.SortBy("CreatedAt").Reverse()
	if opts != nil && opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}

	var records []models.ReportRecord
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	result := make([]*models.ReportRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

// update applies fn to the stored record inside one badger transaction,
// retrying when a concurrent writer committed to the same key first.
func (s *ReportStorage) update(ctx context.Context, id string, fn func(record *models.ReportRecord) error) error {
	store := s.db.Store()

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err := store.Badger().Update(func(tx *badger.Txn) error {
			var record models.ReportRecord
			if err := store.TxGet(tx, id, &record); err != nil {
				if errors.Is(err, badgerhold.ErrNotFound) {
					return fmt.Errorf("%w: %s", models.ErrReportNotFound, id)
				}
				return err
			}

			if err := fn(&record); err != nil {
				return err
			}

			record.UpdatedAt = time.Now()
			return store.TxUpdate(tx, id, record)
		})

		if errors.Is(err, badger.ErrConflict) {
			s.logger.Debug().Str("report_id", id).Int("attempt", attempt+1).Msg("Report update conflict, retrying")
			continue
		}
		return err
	}

	return fmt.Errorf("failed to update report %s: %w", id, badger.ErrConflict)
}
