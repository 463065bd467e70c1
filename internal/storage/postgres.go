package storage

import (
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// NewPostgresStore creates a PostgreSQL-backed store
func NewPostgresStore(dsn string, maxOpenConns int, logger *logrus.Logger) (*SQLStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// Configure connection pool
	if maxOpenConns <= 0 {
		maxOpenConns = 25
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := newSQLStore(db, dialectPostgres, logger)
	if err := store.initSchema(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS repositories (
		id BIGSERIAL PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		language TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		last_analyzed TIMESTAMPTZ,
		total_commits INTEGER NOT NULL DEFAULT 0,
		total_files INTEGER NOT NULL DEFAULT 0,
		total_authors INTEGER NOT NULL DEFAULT 0,
		total_lines INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS commits (
		hash TEXT PRIMARY KEY,
		repo_id BIGINT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		author_name TEXT NOT NULL,
		author_email TEXT NOT NULL,
		committer_name TEXT,
		committer_email TEXT,
		timestamp TIMESTAMPTZ NOT NULL,
		message TEXT NOT NULL,
		files_changed INTEGER NOT NULL DEFAULT 0,
		insertions INTEGER NOT NULL DEFAULT 0,
		deletions INTEGER NOT NULL DEFAULT 0,
		is_merge BOOLEAN NOT NULL DEFAULT FALSE,
		branch TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS files (
		id BIGSERIAL PRIMARY KEY,
		repo_id BIGINT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		path TEXT NOT NULL,
		filename TEXT NOT NULL,
		extension TEXT,
		current_lines INTEGER NOT NULL DEFAULT 0,
		current_complexity DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_commits INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ,
		last_modified TIMESTAMPTZ,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE (repo_id, path)
	)`,

	`CREATE TABLE IF NOT EXISTS file_changes (
		id BIGSERIAL PRIMARY KEY,
		commit_hash TEXT NOT NULL REFERENCES commits(hash) ON DELETE CASCADE,
		file_id BIGINT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		change_type TEXT NOT NULL,
		insertions INTEGER NOT NULL DEFAULT 0,
		deletions INTEGER NOT NULL DEFAULT 0,
		old_path TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS ownership (
		id BIGSERIAL PRIMARY KEY,
		file_id BIGINT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		author_name TEXT NOT NULL,
		author_email TEXT NOT NULL,
		lines_contributed INTEGER NOT NULL DEFAULT 0,
		commits_count INTEGER NOT NULL DEFAULT 0,
		percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
		first_contribution TIMESTAMPTZ,
		last_contribution TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS query_cache (
		id BIGSERIAL PRIMARY KEY,
		repo_id BIGINT NOT NULL,
		query_hash TEXT NOT NULL UNIQUE,
		query_text TEXT NOT NULL,
		response TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		hit_count INTEGER NOT NULL DEFAULT 1
	)`,

	`CREATE INDEX IF NOT EXISTS idx_commits_repo_ts ON commits(repo_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_file_changes_file ON file_changes(file_id)`,
	`CREATE INDEX IF NOT EXISTS idx_file_changes_commit ON file_changes(commit_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_ownership_file ON ownership(file_id)`,
}
