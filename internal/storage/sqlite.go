package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// NewSQLiteStore creates a SQLite-backed store (for local/development).
// path may be ":memory:" for an ephemeral database.
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLStore, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	// SQLite allows a single writer; one connection also keeps ":memory:" a single database
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		db.Exec("PRAGMA journal_mode = WAL")
	}

	store := newSQLStore(db, dialectSQLite, logger)
	if err := store.initSchema(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS repositories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		language TEXT,
		created_at DATETIME NOT NULL,
		last_analyzed DATETIME,
		total_commits INTEGER NOT NULL DEFAULT 0,
		total_files INTEGER NOT NULL DEFAULT 0,
		total_authors INTEGER NOT NULL DEFAULT 0,
		total_lines INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS commits (
		hash TEXT PRIMARY KEY,
		repo_id INTEGER NOT NULL,
		author_name TEXT NOT NULL,
		author_email TEXT NOT NULL,
		committer_name TEXT,
		committer_email TEXT,
		timestamp DATETIME NOT NULL,
		message TEXT NOT NULL,
		files_changed INTEGER NOT NULL DEFAULT 0,
		insertions INTEGER NOT NULL DEFAULT 0,
		deletions INTEGER NOT NULL DEFAULT 0,
		is_merge BOOLEAN NOT NULL DEFAULT 0,
		branch TEXT,
		FOREIGN KEY (repo_id) REFERENCES repositories(id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repo_id INTEGER NOT NULL,
		path TEXT NOT NULL,
		filename TEXT NOT NULL,
		extension TEXT,
		current_lines INTEGER NOT NULL DEFAULT 0,
		current_complexity REAL NOT NULL DEFAULT 0,
		total_commits INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		last_modified DATETIME,
		is_deleted BOOLEAN NOT NULL DEFAULT 0,
		UNIQUE (repo_id, path),
		FOREIGN KEY (repo_id) REFERENCES repositories(id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS file_changes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		commit_hash TEXT NOT NULL,
		file_id INTEGER NOT NULL,
		change_type TEXT NOT NULL,
		insertions INTEGER NOT NULL DEFAULT 0,
		deletions INTEGER NOT NULL DEFAULT 0,
		old_path TEXT,
		FOREIGN KEY (commit_hash) REFERENCES commits(hash) ON DELETE CASCADE,
		FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS ownership (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id INTEGER NOT NULL,
		author_name TEXT NOT NULL,
		author_email TEXT NOT NULL,
		lines_contributed INTEGER NOT NULL DEFAULT 0,
		commits_count INTEGER NOT NULL DEFAULT 0,
		percentage REAL NOT NULL DEFAULT 0,
		first_contribution DATETIME,
		last_contribution DATETIME,
		FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS query_cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repo_id INTEGER NOT NULL,
		query_hash TEXT NOT NULL UNIQUE,
		query_text TEXT NOT NULL,
		response TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		hit_count INTEGER NOT NULL DEFAULT 1
	)`,

	`CREATE INDEX IF NOT EXISTS idx_commits_repo_ts ON commits(repo_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_file_changes_file ON file_changes(file_id)`,
	`CREATE INDEX IF NOT EXISTS idx_file_changes_commit ON file_changes(commit_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_ownership_file ON ownership(file_id)`,
}
