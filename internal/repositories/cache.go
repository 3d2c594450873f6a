package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/miroir/internal/models"
	"github.com/desertthunder/miroir/internal/shared"
)

// CacheRepository stores cache generations and their response snapshots.
//
// It implements cache.Storage.
type CacheRepository struct {
	db *sql.DB
}

// NewCacheRepository creates a new [CacheRepository] with the given database connection
func NewCacheRepository(db *sql.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

// Keys returns the names of all stored generations, oldest first.
func (r *CacheRepository) Keys(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT name FROM cache_generations ORDER BY created_at ASC, name ASC")
	if err != nil {
		return nil, storageErr("failed to query cache generations", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storageErr("failed to scan cache generation", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("row iteration error", err)
	}
	return names, nil
}

// Generations summarizes every stored generation.
func (r *CacheRepository) Generations(ctx context.Context) ([]models.CacheGeneration, error) {
	query := `
		SELECT g.name, g.created_at, COUNT(e.url), COALESCE(SUM(LENGTH(e.body)), 0)
		FROM cache_generations g
		LEFT JOIN cache_entries e ON e.cache_name = g.name
		GROUP BY g.name, g.created_at
		ORDER BY g.created_at ASC, g.name ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr("failed to query cache generations", err)
	}
	defer rows.Close()

	var generations []models.CacheGeneration
	for rows.Next() {
		var (
			name string
			g    models.CacheGeneration
		)
		if err := rows.Scan(&name, &g.CreatedAt, &g.Entries, &g.Bytes); err != nil {
			return nil, storageErr("failed to scan cache generation", err)
		}
		g.Name = models.CacheVersion(name)
		generations = append(generations, g)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("row iteration error", err)
	}
	return generations, nil
}

// Match looks up the snapshot stored for url in the named generation.
//
// Returns [shared.ErrCacheMiss] when the generation or the entry does not exist.
func (r *CacheRepository) Match(ctx context.Context, cacheName, url string) (*models.CachedEntry, error) {
	query := `
		SELECT url, status, headers, body, stored_at
		FROM cache_entries
		WHERE cache_name = ? AND url = ?
	`

	var (
		entry   models.CachedEntry
		headers string
	)
	err := r.db.QueryRowContext(ctx, query, cacheName, url).Scan(&entry.URL, &entry.Status, &headers, &entry.Body, &entry.StoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrCacheMiss, url)
	}
	if err != nil {
		return nil, storageErr("failed to query cache entry", err)
	}

	if err := json.Unmarshal([]byte(headers), &entry.Header); err != nil {
		return nil, fmt.Errorf("failed to decode cached headers for %s: %w", url, err)
	}

	return &entry, nil
}

// Put stores one entry, creating the generation if needed.
func (r *CacheRepository) Put(ctx context.Context, cacheName string, entry *models.CachedEntry) error {
	return r.PutAll(ctx, cacheName, []*models.CachedEntry{entry})
}

// PutAll stores entries under cacheName in a single transaction: either every entry lands or none do.
func (r *CacheRepository) PutAll(ctx context.Context, cacheName string, entries []*models.CachedEntry) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO cache_generations (name, created_at) VALUES (?, ?)", cacheName, time.Now().UTC(),
		); err != nil {
			return storageErr("failed to create cache generation", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO cache_entries (cache_name, url, status, headers, body, stored_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return storageErr("failed to prepare cache insert", err)
		}
		defer stmt.Close()

		for _, entry := range entries {
			header := entry.Header
			if header == nil {
				header = http.Header{}
			}
			headers, err := json.Marshal(header)
			if err != nil {
				return fmt.Errorf("failed to encode headers for %s: %w", entry.URL, err)
			}

			body := entry.Body
			if body == nil {
				body = []byte{}
			}

			if _, err := stmt.ExecContext(ctx, cacheName, entry.URL, entry.Status, string(headers), body, entry.StoredAt.UTC()); err != nil {
				return storageErr("failed to insert cache entry", err)
			}
		}
		return nil
	})
}

// Delete removes a generation and all of its entries. It reports whether the generation existed.
func (r *CacheRepository) Delete(ctx context.Context, cacheName string) (bool, error) {
	var existed bool
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM cache_entries WHERE cache_name = ?", cacheName); err != nil {
			return storageErr("failed to delete cache entries", err)
		}

		result, err := tx.ExecContext(ctx, "DELETE FROM cache_generations WHERE name = ?", cacheName)
		if err != nil {
			return storageErr("failed to delete cache generation", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return storageErr("failed to get affected rows", err)
		}
		existed = rows > 0
		return nil
	})
	return existed, err
}
