package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/miroir/internal/models"
	"github.com/desertthunder/miroir/internal/shared"
)

// SubmissionRepository persists [models.SubmissionRecord] values, one table per category.
type SubmissionRepository struct {
	db *sql.DB
}

// NewSubmissionRepository creates a new [SubmissionRepository] with the given database connection
func NewSubmissionRepository(db *sql.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// SubmissionCounts summarizes one category store.
type SubmissionCounts struct {
	Total    int
	Unsynced int
}

// Put inserts a new record into its category store.
//
// Records are immutable once written, so an existing id yields [shared.ErrDuplicateSubmission].
func (r *SubmissionRepository) Put(ctx context.Context, record *models.SubmissionRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	table, err := tableFor(record.Category())
	if err != nil {
		return err
	}

	fields, err := json.Marshal(record.Fields())
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, timestamp, synced, fields, attempts, last_error, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, table)

	var syncedAt sql.NullTime
	if t := record.SyncedAt(); t != nil {
		syncedAt = sql.NullTime{Time: *t, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, query,
		record.ID(), record.Timestamp(), record.Synced(), string(fields), record.Attempts(), record.LastError(), syncedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", shared.ErrDuplicateSubmission, record.ID())
	}
	if err != nil {
		return storageErr("failed to insert submission", err)
	}

	return nil
}

// Get retrieves a record by category and id.
func (r *SubmissionRepository) Get(ctx context.Context, category models.Category, id string) (*models.SubmissionRecord, error) {
	table, err := tableFor(category)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, timestamp, synced, fields, attempts, last_error, synced_at
		FROM %s
		WHERE id = ?
	`, table)

	record, err := scanSubmission(category, r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrSubmissionNotFound, id)
	}
	if err != nil {
		return nil, storageErr("failed to query submission", err)
	}

	return record, nil
}

// ListUnsynced returns every unsynced record of a category, oldest first.
//
// The query is served by the synced index, so delivered records are never scanned or returned.
func (r *SubmissionRepository) ListUnsynced(ctx context.Context, category models.Category) ([]*models.SubmissionRecord, error) {
	synced := false
	return r.List(ctx, category, ListCriteria{Synced: &synced})
}

// ListCriteria filters [SubmissionRepository.List].
type ListCriteria struct {
	Synced *bool // nil lists both states
	Limit  int   // zero means no limit
}

// List retrieves records of a category matching the given criteria, oldest first.
func (r *SubmissionRepository) List(ctx context.Context, category models.Category, criteria ListCriteria) ([]*models.SubmissionRecord, error) {
	table, err := tableFor(category)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, timestamp, synced, fields, attempts, last_error, synced_at
		FROM %s
	`, table)
	args := []any{}

	if criteria.Synced != nil {
		query += " WHERE synced = ?"
		args = append(args, *criteria.Synced)
	}

	query += " ORDER BY timestamp ASC, id ASC"

	if criteria.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, criteria.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("failed to query submissions", err)
	}
	defer rows.Close()

	var records []*models.SubmissionRecord
	for rows.Next() {
		record, err := scanSubmission(category, rows)
		if err != nil {
			return nil, storageErr("failed to scan submission", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("row iteration error", err)
	}

	return records, nil
}

// MarkSynced flips a record to synced inside one transaction.
//
// It reports whether this call performed the transition; an already synced record is left untouched and
// reported as false. The update is guarded on synced = 0 so the flag can never be written backwards.
func (r *SubmissionRepository) MarkSynced(ctx context.Context, category models.Category, id string, at time.Time) (bool, error) {
	table, err := tableFor(category)
	if err != nil {
		return false, err
	}

	var changed bool
	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		var synced bool
		err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT synced FROM %s WHERE id = ?", table), id).Scan(&synced)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", shared.ErrSubmissionNotFound, id)
		}
		if err != nil {
			return storageErr("failed to read submission", err)
		}
		if synced {
			return nil
		}

		query := fmt.Sprintf(`
			UPDATE %s
			SET synced = 1, synced_at = ?, last_error = ''
			WHERE id = ? AND synced = 0
		`, table)

		result, err := tx.ExecContext(ctx, query, at.UTC(), id)
		if err != nil {
			return storageErr("failed to mark submission synced", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return storageErr("failed to get affected rows", err)
		}
		changed = rows == 1
		return nil
	})

	return changed, err
}

// RecordAttempt notes a failed delivery attempt on an unsynced record. Synced records are not touched.
func (r *SubmissionRepository) RecordAttempt(ctx context.Context, category models.Category, id string, cause string) error {
	table, err := tableFor(category)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET attempts = attempts + 1, last_error = ?
		WHERE id = ? AND synced = 0
	`, table)

	if _, err := r.db.ExecContext(ctx, query, cause, id); err != nil {
		return storageErr("failed to record delivery attempt", err)
	}
	return nil
}

// Count returns the total and unsynced record counts of a category.
func (r *SubmissionRepository) Count(ctx context.Context, category models.Category) (SubmissionCounts, error) {
	table, err := tableFor(category)
	if err != nil {
		return SubmissionCounts{}, err
	}

	var counts SubmissionCounts
	query := fmt.Sprintf("SELECT COUNT(*), COALESCE(SUM(CASE WHEN synced = 0 THEN 1 ELSE 0 END), 0) FROM %s", table)
	if err := r.db.QueryRowContext(ctx, query).Scan(&counts.Total, &counts.Unsynced); err != nil {
		return SubmissionCounts{}, storageErr("failed to count submissions", err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(category models.Category, row rowScanner) (*models.SubmissionRecord, error) {
	var (
		id        string
		timestamp time.Time
		synced    bool
		rawFields string
		attempts  int
		lastError string
		syncedAt  sql.NullTime
	)

	if err := row.Scan(&id, &timestamp, &synced, &rawFields, &attempts, &lastError, &syncedAt); err != nil {
		return nil, err
	}

	fields := map[string]string{}
	if err := json.Unmarshal([]byte(rawFields), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields of %s: %w", id, err)
	}

	var at *time.Time
	if syncedAt.Valid {
		t := syncedAt.Time
		at = &t
	}

	return models.RestoreSubmissionRecord(id, category, timestamp, fields, synced, attempts, lastError, at), nil
}
