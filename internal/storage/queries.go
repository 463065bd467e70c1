package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rohankatakam/timemachine/internal/models"
)

// Commit reads

func (s *SQLStore) ListCommits(ctx context.Context, repoID int64) ([]*models.Commit, error) {
	var commits []*models.Commit
	query := s.db.Rebind(`SELECT * FROM commits WHERE repo_id = ? ORDER BY timestamp, hash`)

	if err := s.db.SelectContext(ctx, &commits, query, repoID); err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}
	return commits, nil
}

func (s *SQLStore) CommitsSince(ctx context.Context, repoID int64, since time.Time) ([]*models.Commit, error) {
	var commits []*models.Commit
	query := s.db.Rebind(`SELECT * FROM commits WHERE repo_id = ? AND timestamp >= ? ORDER BY timestamp, hash`)

	if err := s.db.SelectContext(ctx, &commits, query, repoID, since.UTC()); err != nil {
		return nil, fmt.Errorf("list commits since: %w", err)
	}
	return commits, nil
}

// SearchCommitMessages returns candidate commits whose message may contain
// any of the keywords, case-insensitively. SQLite only folds ASCII case, so
// a non-ASCII keyword yields every commit of the repository and callers
// match the candidates themselves. An empty keyword list matches nothing.
func (s *SQLStore) SearchCommitMessages(ctx context.Context, repoID int64, keywords []string) ([]*models.Commit, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	for _, kw := range keywords {
		if !isASCII(kw) {
			return s.ListCommits(ctx, repoID)
		}
	}

	clauses := make([]string, 0, len(keywords))
	args := []interface{}{repoID}
	for _, kw := range keywords {
		clauses = append(clauses, "LOWER(message) LIKE ?")
		args = append(args, "%"+strings.ToLower(kw)+"%")
	}

	query := s.db.Rebind(fmt.Sprintf(
		`SELECT * FROM commits WHERE repo_id = ? AND (%s) ORDER BY timestamp, hash`,
		strings.Join(clauses, " OR ")))

	var commits []*models.Commit
	if err := s.db.SelectContext(ctx, &commits, query, args...); err != nil {
		return nil, fmt.Errorf("search commits: %w", err)
	}
	return commits, nil
}

// CommitsTouchingPaths returns distinct commits with a change to a file
// whose path matches the SQL LIKE pattern, oldest first
func (s *SQLStore) CommitsTouchingPaths(ctx context.Context, repoID int64, likePattern string) ([]*models.Commit, error) {
	var commits []*models.Commit
	query := s.db.Rebind(`
		SELECT * FROM commits c
		WHERE c.repo_id = ? AND EXISTS (
			SELECT 1 FROM file_changes fc
			JOIN files f ON f.id = fc.file_id
			WHERE fc.commit_hash = c.hash AND f.path LIKE ?
		)
		ORDER BY c.timestamp, c.hash
	`)

	if err := s.db.SelectContext(ctx, &commits, query, repoID, likePattern); err != nil {
		return nil, fmt.Errorf("commits touching paths: %w", err)
	}
	return commits, nil
}

// File reads

func (s *SQLStore) GetFileByPath(ctx context.Context, repoID int64, path string) (*models.File, error) {
	var file models.File
	query := s.db.Rebind(`SELECT * FROM files WHERE repo_id = ? AND path = ?`)

	if err := s.db.GetContext(ctx, &file, query, repoID, path); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get file: %w", err)
	}
	return &file, nil
}

func (s *SQLStore) ListFiles(ctx context.Context, repoID int64) ([]*models.File, error) {
	var files []*models.File
	query := s.db.Rebind(`SELECT * FROM files WHERE repo_id = ? ORDER BY path`)

	if err := s.db.SelectContext(ctx, &files, query, repoID); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

const changeWithCommitColumns = `
	fc.id, fc.commit_hash, fc.file_id, fc.change_type, fc.insertions, fc.deletions, fc.old_path,
	c.author_name, c.author_email, c.timestamp, c.message
`

// FileHistory returns every change to one file joined with its commit,
// oldest first
func (s *SQLStore) FileHistory(ctx context.Context, fileID int64) ([]*models.ChangeWithCommit, error) {
	var changes []*models.ChangeWithCommit
	query := s.db.Rebind(`
		SELECT ` + changeWithCommitColumns + `
		FROM file_changes fc
		JOIN commits c ON c.hash = fc.commit_hash
		WHERE fc.file_id = ?
		ORDER BY c.timestamp, fc.id
	`)

	if err := s.db.SelectContext(ctx, &changes, query, fileID); err != nil {
		return nil, fmt.Errorf("file history: %w", err)
	}
	return changes, nil
}

// RepositoryChanges returns every change of a repository grouped by file
// and ordered by commit time within each file
func (s *SQLStore) RepositoryChanges(ctx context.Context, repoID int64) ([]*models.ChangeWithCommit, error) {
	var changes []*models.ChangeWithCommit
	query := s.db.Rebind(`
		SELECT ` + changeWithCommitColumns + `
		FROM file_changes fc
		JOIN commits c ON c.hash = fc.commit_hash
		JOIN files f ON f.id = fc.file_id
		WHERE f.repo_id = ?
		ORDER BY fc.file_id, c.timestamp, fc.id
	`)

	if err := s.db.SelectContext(ctx, &changes, query, repoID); err != nil {
		return nil, fmt.Errorf("repository changes: %w", err)
	}
	return changes, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
