package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rohankatakam/timemachine/internal/models"
)

const insertOwnershipQuery = `
	INSERT INTO ownership (file_id, author_name, author_email, lines_contributed,
		commits_count, percentage, first_contribution, last_contribution)
	VALUES (:file_id, :author_name, :author_email, :lines_contributed,
		:commits_count, :percentage, :first_contribution, :last_contribution)
`

// ReplaceFileOwnership atomically swaps the ownership rows of one file
func (s *SQLStore) ReplaceFileOwnership(ctx context.Context, fileID int64, rows []*models.Ownership) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM ownership WHERE file_id = ?`), fileID); err != nil {
			return fmt.Errorf("clear file ownership: %w", err)
		}
		return insertOwnership(ctx, tx, fileID, rows)
	})
}

// ReplaceRepositoryOwnership atomically swaps the ownership rows of every
// file in a repository. Files missing from rows end up with no owners.
func (s *SQLStore) ReplaceRepositoryOwnership(ctx context.Context, repoID int64, rows map[int64][]*models.Ownership) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		query := tx.Rebind(`DELETE FROM ownership WHERE file_id IN (SELECT id FROM files WHERE repo_id = ?)`)
		if _, err := tx.ExecContext(ctx, query, repoID); err != nil {
			return fmt.Errorf("clear repository ownership: %w", err)
		}

		fileIDs := make([]int64, 0, len(rows))
		for id := range rows {
			fileIDs = append(fileIDs, id)
		}
		sort.Slice(fileIDs, func(i, j int) bool { return fileIDs[i] < fileIDs[j] })

		for _, fileID := range fileIDs {
			if err := insertOwnership(ctx, tx, fileID, rows[fileID]); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertOwnership(ctx context.Context, tx *sqlx.Tx, fileID int64, rows []*models.Ownership) error {
	for _, row := range rows {
		row.FileID = fileID
		if _, err := tx.NamedExecContext(ctx, insertOwnershipQuery, row); err != nil {
			return fmt.Errorf("insert ownership for file %d: %w", fileID, err)
		}
	}
	return nil
}

// ListOwnership returns ownership rows joined with their file, highest
// percentage first
func (s *SQLStore) ListOwnership(ctx context.Context, filter OwnershipFilter) ([]*models.OwnershipWithFile, error) {
	var (
		where []string
		args  []interface{}
	)

	if filter.RepoID != 0 {
		where = append(where, "f.repo_id = ?")
		args = append(args, filter.RepoID)
	}
	if filter.FileID != 0 {
		where = append(where, "o.file_id = ?")
		args = append(args, filter.FileID)
	}
	if filter.Author != "" {
		where = append(where, "o.author_name = ?")
		args = append(args, filter.Author)
	}
	if filter.Extension != "" {
		where = append(where, "f.extension = ?")
		args = append(args, strings.ToLower(filter.Extension))
	}
	if filter.MinPercentage > 0 {
		where = append(where, "o.percentage > ?")
		args = append(args, filter.MinPercentage)
	}

	query := `
		SELECT o.id, o.file_id, o.author_name, o.author_email, o.lines_contributed,
			o.commits_count, o.percentage, o.first_contribution, o.last_contribution,
			f.path, f.extension
		FROM ownership o
		JOIN files f ON f.id = o.file_id
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY o.percentage DESC, o.file_id, o.id"

	var owners []*models.OwnershipWithFile
	if err := s.db.SelectContext(ctx, &owners, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list ownership: %w", err)
	}
	return owners, nil
}
