package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rohankatakam/timemachine/internal/models"
	"github.com/sirupsen/logrus"
)

type dialect string

const (
	dialectSQLite   dialect = "sqlite"
	dialectPostgres dialect = "postgres"
)

// SQLStore implements Store on top of sqlx for both SQLite and PostgreSQL.
// Queries are written with '?' placeholders and rebound per driver.
type SQLStore struct {
	db      *sqlx.DB
	dialect dialect
	logger  *logrus.Entry
}

var _ Store = (*SQLStore)(nil)

func newSQLStore(db *sqlx.DB, d dialect, logger *logrus.Logger) *SQLStore {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SQLStore{
		db:      db,
		dialect: d,
		logger:  logger.WithFields(logrus.Fields{"component": "storage", "dialect": string(d)}),
	}
}

func (s *SQLStore) initSchema(stmts []string) error {
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Repository operations

func (s *SQLStore) CreateRepository(ctx context.Context, repo *models.Repository) error {
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = time.Now().UTC()
	}
	if repo.Status == "" {
		repo.Status = models.StatusPending
	}

	query := `
		INSERT INTO repositories (url, owner, name, description, language, created_at,
			total_commits, total_files, total_authors, total_lines, status, error_message)
		VALUES (:url, :owner, :name, :description, :language, :created_at,
			:total_commits, :total_files, :total_authors, :total_lines, :status, :error_message)
		RETURNING id
	`

	id, err := s.insertReturningID(ctx, s.db, query, repo)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	repo.ID = id
	return nil
}

func (s *SQLStore) GetRepository(ctx context.Context, repoID int64) (*models.Repository, error) {
	var repo models.Repository
	query := s.db.Rebind(`SELECT * FROM repositories WHERE id = ?`)

	if err := s.db.GetContext(ctx, &repo, query, repoID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return &repo, nil
}

func (s *SQLStore) GetRepositoryByURL(ctx context.Context, url string) (*models.Repository, error) {
	var repo models.Repository
	query := s.db.Rebind(`SELECT * FROM repositories WHERE url = ?`)

	if err := s.db.GetContext(ctx, &repo, query, url); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get repository by url: %w", err)
	}
	return &repo, nil
}

// ListRepositories returns repositories, most recently analyzed first
func (s *SQLStore) ListRepositories(ctx context.Context) ([]*models.Repository, error) {
	var repos []*models.Repository
	query := `
		SELECT * FROM repositories
		ORDER BY CASE WHEN last_analyzed IS NULL THEN 1 ELSE 0 END, last_analyzed DESC, id
	`
	if err := s.db.SelectContext(ctx, &repos, query); err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	return repos, nil
}

// SetRepositoryStatus records a durable status transition. errMsg is only
// kept for the error status.
func (s *SQLStore) SetRepositoryStatus(ctx context.Context, repoID int64, status models.RepositoryStatus, errMsg *string) error {
	if status != models.StatusError {
		errMsg = nil
	}

	query := s.db.Rebind(`UPDATE repositories SET status = ?, error_message = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, string(status), errMsg, repoID)
	if err != nil {
		return fmt.Errorf("set repository status: %w", err)
	}
	return expectRows(res)
}

// CompleteRepository persists rollup counters and marks the repository
// completed in one statement
func (s *SQLStore) CompleteRepository(ctx context.Context, repoID int64, stats RepositoryStats) error {
	query := s.db.Rebind(`
		UPDATE repositories
		SET total_commits = ?, total_files = ?, total_authors = ?, total_lines = ?,
			last_analyzed = ?, status = ?, error_message = NULL
		WHERE id = ?
	`)

	res, err := s.db.ExecContext(ctx, query,
		stats.Commits, stats.Files, stats.Authors, stats.Lines,
		time.Now().UTC(), string(models.StatusCompleted), repoID)
	if err != nil {
		return fmt.Errorf("complete repository: %w", err)
	}
	return expectRows(res)
}

// RepositoryTotals counts persisted commits, tracked files, distinct
// author names and the sum of current file sizes
func (s *SQLStore) RepositoryTotals(ctx context.Context, repoID int64) (RepositoryStats, error) {
	var stats RepositoryStats
	query := s.db.Rebind(`
		SELECT
			(SELECT COUNT(*) FROM commits WHERE repo_id = ?) AS commits,
			(SELECT COUNT(*) FROM files WHERE repo_id = ?) AS files,
			(SELECT COUNT(DISTINCT author_name) FROM commits WHERE repo_id = ?) AS authors,
			(SELECT COALESCE(SUM(current_lines), 0) FROM files WHERE repo_id = ?) AS line_count
	`)

	if err := s.db.GetContext(ctx, &stats, query, repoID, repoID, repoID, repoID); err != nil {
		return stats, fmt.Errorf("repository totals: %w", err)
	}
	return stats, nil
}

// DeleteRepository removes a repository and everything derived from it
func (s *SQLStore) DeleteRepository(ctx context.Context, repoID int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM query_cache WHERE repo_id = ?`), repoID); err != nil {
			return fmt.Errorf("delete cached responses: %w", err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM repositories WHERE id = ?`), repoID)
		if err != nil {
			return fmt.Errorf("delete repository: %w", err)
		}
		return expectRows(res)
	})
}

// Ledger operations

func (s *SQLStore) CommitExists(ctx context.Context, hash string) (bool, error) {
	var count int
	query := s.db.Rebind(`SELECT COUNT(*) FROM commits WHERE hash = ?`)
	if err := s.db.GetContext(ctx, &count, query, hash); err != nil {
		return false, fmt.Errorf("check commit: %w", err)
	}
	return count > 0, nil
}

// WithTx runs fn in a single transaction. The transaction commits only if
// fn returns nil.
func (s *SQLStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&sqlTx{store: s, tx: tx})
	})
}

func (s *SQLStore) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// sqlTx implements Tx for one ingestion unit of work
type sqlTx struct {
	store *SQLStore
	tx    *sqlx.Tx
}

func (t *sqlTx) InsertCommit(ctx context.Context, commit *models.Commit) error {
	row := *commit
	row.Timestamp = row.Timestamp.UTC()

	query := `
		INSERT INTO commits (hash, repo_id, author_name, author_email, committer_name,
			committer_email, timestamp, message, files_changed, insertions, deletions, is_merge, branch)
		VALUES (:hash, :repo_id, :author_name, :author_email, :committer_name,
			:committer_email, :timestamp, :message, :files_changed, :insertions, :deletions, :is_merge, :branch)
	`

	if _, err := t.tx.NamedExecContext(ctx, query, &row); err != nil {
		return fmt.Errorf("insert commit %s: %w", commit.Hash, err)
	}
	return nil
}

func (t *sqlTx) FileByPath(ctx context.Context, repoID int64, path string) (*models.File, error) {
	var file models.File
	query := t.tx.Rebind(`SELECT * FROM files WHERE repo_id = ? AND path = ?`)

	if err := t.tx.GetContext(ctx, &file, query, repoID, path); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get file: %w", err)
	}
	return &file, nil
}

func (t *sqlTx) InsertFile(ctx context.Context, file *models.File) error {
	query := `
		INSERT INTO files (repo_id, path, filename, extension, current_lines,
			current_complexity, total_commits, created_at, last_modified, is_deleted)
		VALUES (:repo_id, :path, :filename, :extension, :current_lines,
			:current_complexity, :total_commits, :created_at, :last_modified, :is_deleted)
		RETURNING id
	`

	id, err := t.store.insertReturningID(ctx, t.tx, query, file)
	if err != nil {
		return fmt.Errorf("insert file %s: %w", file.Path, err)
	}
	file.ID = id
	return nil
}

func (t *sqlTx) UpdateFile(ctx context.Context, file *models.File) error {
	query := `
		UPDATE files
		SET current_lines = :current_lines, total_commits = :total_commits,
			last_modified = :last_modified, is_deleted = :is_deleted
		WHERE id = :id
	`

	if _, err := t.tx.NamedExecContext(ctx, query, file); err != nil {
		return fmt.Errorf("update file %s: %w", file.Path, err)
	}
	return nil
}

func (t *sqlTx) InsertFileChange(ctx context.Context, change *models.FileChange) error {
	query := `
		INSERT INTO file_changes (commit_hash, file_id, change_type, insertions, deletions, old_path)
		VALUES (:commit_hash, :file_id, :change_type, :insertions, :deletions, :old_path)
		RETURNING id
	`

	id, err := t.store.insertReturningID(ctx, t.tx, query, change)
	if err != nil {
		return fmt.Errorf("insert file change: %w", err)
	}
	change.ID = id
	return nil
}

// insertReturningID runs a named INSERT ... RETURNING id statement
func (s *SQLStore) insertReturningID(ctx context.Context, e sqlx.ExtContext, query string, arg interface{}) (int64, error) {
	rows, err := sqlx.NamedQueryContext(ctx, e, query, arg)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var id int64
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, errors.New("insert returned no id")
	}
	if err := rows.Scan(&id); err != nil {
		return 0, err
	}
	return id, rows.Err()
}

func expectRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
