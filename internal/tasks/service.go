package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew = "tasks.service.new"
	opList       = "tasks.list"
	opCreate     = "tasks.create"
	opUpdate     = "tasks.update"
	opDelete     = "tasks.delete"
	opReorder    = "tasks.reorder"
)

// ServiceError carries a dotted operation code alongside the causing error.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code, e.g. "tasks.reorder.order_mismatch".
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig bundles the dependencies for the task service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service persists owner-scoped task records. Every operation is restricted
// to rows whose owner matches the supplied subject.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// List returns the subject's tasks ordered by position ascending, creation
// time descending as tie-break.
func (s *Service) List(ctx context.Context, owner Subject) ([]Task, error) {
	if s.db == nil {
		s.logError(opList, "missing_database", errMissingDatabase)
		return nil, newServiceError(opList, "missing_database", errMissingDatabase)
	}

	var records []Task
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", owner.String()).
		Order("position ASC, created_at DESC").
		Find(&records).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("owner_id", owner.String()))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return records, nil
}

// Create inserts a task at the end of the subject's list: position is the
// current maximum plus one, or zero for the first task.
func (s *Service) Create(ctx context.Context, owner Subject, text Text) (Task, error) {
	if s.db == nil {
		s.logError(opCreate, "missing_database", errMissingDatabase)
		return Task{}, newServiceError(opCreate, "missing_database", errMissingDatabase)
	}

	record := Task{
		OwnerID:   owner.String(),
		Text:      text.String(),
		CreatedAt: s.clock().UTC(),
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var nextPosition int
		row := tx.Model(&Task{}).
			Where("owner_id = ?", owner.String()).
			Select("COALESCE(MAX(position), -1) + 1")
		if err := row.Scan(&nextPosition).Error; err != nil {
			return newServiceError(opCreate, "position_query_failed", err)
		}
		record.Position = nextPosition
		if err := tx.Create(&record).Error; err != nil {
			return newServiceError(opCreate, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opCreate, "transaction_failed", txErr, zap.String("owner_id", owner.String()))
		return Task{}, txErr
	}
	return record, nil
}

// Update applies the patch to the subject's task and returns the stored row.
func (s *Service) Update(ctx context.Context, owner Subject, taskID int64, patch Patch) (Task, error) {
	if s.db == nil {
		s.logError(opUpdate, "missing_database", errMissingDatabase)
		return Task{}, newServiceError(opUpdate, "missing_database", errMissingDatabase)
	}
	if patch.Empty() {
		return Task{}, newServiceError(opUpdate, "empty_patch", ErrEmptyPatch)
	}

	var record Task
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("owner_id = ? AND id = ?", owner.String(), taskID).
			Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opUpdate, "not_found", ErrTaskNotFound)
		}
		if err != nil {
			return newServiceError(opUpdate, "select_failed", err)
		}
		if patch.Text != nil {
			record.Text = patch.Text.String()
		}
		if patch.Completed != nil {
			record.Completed = *patch.Completed
		}
		if err := tx.Save(&record).Error; err != nil {
			return newServiceError(opUpdate, "save_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opUpdate, "transaction_failed", txErr,
			zap.String("owner_id", owner.String()),
			zap.Int64("task_id", taskID))
		return Task{}, txErr
	}
	return record, nil
}

// Delete removes the subject's task and returns the removed row. Remaining
// positions are left untouched; gaps persist until the next reorder.
func (s *Service) Delete(ctx context.Context, owner Subject, taskID int64) (Task, error) {
	if s.db == nil {
		s.logError(opDelete, "missing_database", errMissingDatabase)
		return Task{}, newServiceError(opDelete, "missing_database", errMissingDatabase)
	}

	var record Task
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("owner_id = ? AND id = ?", owner.String(), taskID).
			Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opDelete, "not_found", ErrTaskNotFound)
		}
		if err != nil {
			return newServiceError(opDelete, "select_failed", err)
		}
		if err := tx.Delete(&Task{}, "owner_id = ? AND id = ?", owner.String(), taskID).Error; err != nil {
			return newServiceError(opDelete, "delete_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opDelete, "transaction_failed", txErr,
			zap.String("owner_id", owner.String()),
			zap.Int64("task_id", taskID))
		return Task{}, txErr
	}
	return record, nil
}

// Reorder rewrites every position of the subject's tasks to the index of its
// id in orderedIDs, inside one transaction so the store either applies the
// whole batch or none of it. The id set must cover the subject's tasks
// exactly; anything else is rejected with ErrOrderMismatch.
func (s *Service) Reorder(ctx context.Context, owner Subject, orderedIDs []int64) ([]Task, error) {
	if s.db == nil {
		s.logError(opReorder, "missing_database", errMissingDatabase)
		return nil, newServiceError(opReorder, "missing_database", errMissingDatabase)
	}
	if len(orderedIDs) == 0 {
		return nil, newServiceError(opReorder, "empty_order", ErrOrderMismatch)
	}

	reordered := make([]Task, 0, len(orderedIDs))
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored []Task
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("owner_id = ?", owner.String()).
			Find(&stored).Error; err != nil {
			return newServiceError(opReorder, "select_failed", err)
		}
		if len(stored) != len(orderedIDs) {
			return newServiceError(opReorder, "order_mismatch", ErrOrderMismatch)
		}
		byID := make(map[int64]Task, len(stored))
		for _, record := range stored {
			byID[record.ID] = record
		}
		for index, taskID := range orderedIDs {
			record, ok := byID[taskID]
			if !ok {
				return newServiceError(opReorder, "unknown_task", ErrOrderMismatch)
			}
			delete(byID, taskID)
			record.Position = index
			if err := tx.Model(&Task{}).
				Where("owner_id = ? AND id = ?", owner.String(), taskID).
				Update("position", index).Error; err != nil {
				return newServiceError(opReorder, "position_update_failed", err)
			}
			reordered = append(reordered, record)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opReorder, "transaction_failed", txErr, zap.String("owner_id", owner.String()))
		return nil, txErr
	}
	return reordered, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("task service error", attrs...)
}
