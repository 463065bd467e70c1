package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rohankatakam/timemachine/internal/models"
)

// GetCachedResponse looks up a cached response by hash. Only an entry that
// is still live at now counts as a hit, and a hit increments its hit count.
func (s *SQLStore) GetCachedResponse(ctx context.Context, hash string, now time.Time) (*models.CachedResponse, bool, error) {
	var (
		entry models.CachedResponse
		hit   bool
	)

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		query := tx.Rebind(`SELECT * FROM query_cache WHERE query_hash = ?`)
		if err := tx.GetContext(ctx, &entry, query, hash); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("get cached response: %w", err)
		}

		if !entry.Live(now) {
			return nil
		}

		update := tx.Rebind(`UPDATE query_cache SET hit_count = hit_count + 1 WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, update, entry.ID); err != nil {
			return fmt.Errorf("bump cache hit count: %w", err)
		}
		entry.HitCount++
		hit = true
		return nil
	})
	if err != nil || !hit {
		return nil, false, err
	}
	return &entry, true, nil
}

// PutCachedResponse stores a response. An existing entry for the same hash
// is overwritten and its hit count reset to 1.
func (s *SQLStore) PutCachedResponse(ctx context.Context, entry *models.CachedResponse) error {
	row := *entry
	row.CreatedAt = row.CreatedAt.UTC()
	row.ExpiresAt = row.ExpiresAt.UTC()
	row.HitCount = 1

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		update := `
			UPDATE query_cache
			SET response = :response, created_at = :created_at, expires_at = :expires_at, hit_count = :hit_count
			WHERE query_hash = :query_hash
			RETURNING id
		`
		rows, err := sqlx.NamedQueryContext(ctx, tx, update, &row)
		if err != nil {
			return fmt.Errorf("update cached response: %w", err)
		}
		var id int64
		found := rows.Next()
		if found {
			err = rows.Scan(&id)
		} else {
			err = rows.Err()
		}
		rows.Close()
		if err != nil {
			return fmt.Errorf("update cached response: %w", err)
		}

		if !found {
			insert := `
				INSERT INTO query_cache (repo_id, query_hash, query_text, response, created_at, expires_at, hit_count)
				VALUES (:repo_id, :query_hash, :query_text, :response, :created_at, :expires_at, :hit_count)
				RETURNING id
			`
			if id, err = s.insertReturningID(ctx, tx, insert, &row); err != nil {
				return fmt.Errorf("insert cached response: %w", err)
			}
		}

		entry.ID = id
		entry.HitCount = 1
		return nil
	})
}
