package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/miroir/internal/models"
	"github.com/desertthunder/miroir/internal/shared"
)

// PreferenceRepository stores opaque user preferences.
type PreferenceRepository struct {
	db *sql.DB
}

// NewPreferenceRepository creates a new [PreferenceRepository] with the given database connection
func NewPreferenceRepository(db *sql.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// Get retrieves a preference by key.
func (r *PreferenceRepository) Get(ctx context.Context, key string) (*models.Preference, error) {
	var p models.Preference
	err := r.db.QueryRowContext(ctx,
		"SELECT key, value, updated_at FROM user_preferences WHERE key = ?", key,
	).Scan(&p.Key, &p.Value, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrPreferenceNotFound, key)
	}
	if err != nil {
		return nil, storageErr("failed to query preference", err)
	}
	return &p, nil
}

// Set creates or replaces a preference.
func (r *PreferenceRepository) Set(ctx context.Context, key, value string) error {
	p := &models.Preference{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO user_preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, p.Key, p.Value, p.UpdatedAt); err != nil {
		return storageErr("failed to store preference", err)
	}
	return nil
}

// Delete removes a preference. Deleting a missing key is not an error.
func (r *PreferenceRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM user_preferences WHERE key = ?", key); err != nil {
		return storageErr("failed to delete preference", err)
	}
	return nil
}

// List retrieves all preferences ordered by key.
func (r *PreferenceRepository) List(ctx context.Context) ([]*models.Preference, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT key, value, updated_at FROM user_preferences ORDER BY key ASC")
	if err != nil {
		return nil, storageErr("failed to query preferences", err)
	}
	defer rows.Close()

	var prefs []*models.Preference
	for rows.Next() {
		var p models.Preference
		if err := rows.Scan(&p.Key, &p.Value, &p.UpdatedAt); err != nil {
			return nil, storageErr("failed to scan preference", err)
		}
		prefs = append(prefs, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("row iteration error", err)
	}
	return prefs, nil
}

// Map returns all preferences as a key/value map.
func (r *PreferenceRepository) Map(ctx context.Context) (map[string]string, error) {
	prefs, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(prefs))
	for _, p := range prefs {
		values[p.Key] = p.Value
	}
	return values, nil
}
