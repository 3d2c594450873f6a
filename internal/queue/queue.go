package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/miroir/internal/models"
	"github.com/desertthunder/miroir/internal/shared"
)

// Store is the persistence the queue and its syncer need. [repositories.SubmissionRepository] implements it.
type Store interface {
	Put(ctx context.Context, record *models.SubmissionRecord) error
	ListUnsynced(ctx context.Context, category models.Category) ([]*models.SubmissionRecord, error)
	MarkSynced(ctx context.Context, category models.Category, id string, at time.Time) (bool, error)
	RecordAttempt(ctx context.Context, category models.Category, id string, cause string) error
}

// DeferredScheduler accepts sync tags to run once connectivity returns.
type DeferredScheduler interface {
	Register(ctx context.Context, tag string) error
}

// StorageError reports a failed write of a submission. It matches [shared.ErrStorage].
type StorageError struct {
	Category models.Category
	ID       string
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to save %s submission %s: %v", e.Category, e.ID, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{shared.ErrStorage, e.Err}
}

// Queue appends submissions to their category store.
type Queue struct {
	store     Store
	scheduler DeferredScheduler
	logger    *log.Logger
	now       func() time.Time
	newID     func() string
}

// NewQueue creates a [Queue]. A nil scheduler disables sync requests; records are still persisted.
func NewQueue(store Store, scheduler DeferredScheduler, logger *log.Logger) *Queue {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Queue{
		store:     store,
		scheduler: scheduler,
		logger:    logger.With("component", "queue"),
		now:       time.Now,
		newID:     shared.GenerateID,
	}
}

// Enqueue persists a new unsynced record and requests a deferred sync for its category.
//
// Storage failures are returned as [*StorageError]. A failed sync request is only logged.
func (q *Queue) Enqueue(ctx context.Context, category models.Category, fields map[string]string) (*models.SubmissionRecord, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", shared.ErrInvalidCategory, category)
	}

	record := models.NewSubmissionRecord(q.newID(), category, q.now(), fields)
	if err := q.store.Put(ctx, record); err != nil {
		q.logger.Error("failed to save submission", "category", category, "id", record.ID(), "err", err)
		return nil, &StorageError{Category: category, ID: record.ID(), Err: err}
	}

	q.logger.Info("submission queued", "category", category, "id", record.ID())
	q.RequestSync(ctx, category)
	return record, nil
}

// RequestSync registers the category's sync tag. It never fails the caller.
func (q *Queue) RequestSync(ctx context.Context, category models.Category) {
	if q.scheduler == nil {
		q.logger.Warn("background sync unavailable", "category", category)
		return
	}

	tag := category.SyncTag()
	if err := q.scheduler.Register(ctx, tag); err != nil {
		q.logger.Warn("failed to register sync", "tag", tag, "err", err)
		return
	}
	q.logger.Debug("sync registered", "tag", tag)
}
