// package repositories provides persistence layer implementations for the offline runtime's stores.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/desertthunder/miroir/internal/models"
	"github.com/desertthunder/miroir/internal/shared"
)

// submissionTables maps each category to its table. Table names never come from user input.
var submissionTables = map[models.Category]string{
	models.CategoryStory:      "story_submissions",
	models.CategoryReflection: "reflection_submissions",
}

func tableFor(category models.Category) (string, error) {
	table, ok := submissionTables[category]
	if !ok {
		return "", fmt.Errorf("%w: %q", shared.ErrInvalidCategory, category)
	}
	return table, nil
}

// withTx runs fn inside a transaction, committing on success and rolling back otherwise.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("failed to commit transaction", err)
	}
	return nil
}

// storageErr wraps a driver error so callers can match [shared.ErrStorage].
func storageErr(msg string, err error) error {
	return fmt.Errorf("%w: %s: %w", shared.ErrStorage, msg, err)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
