package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rohankatakam/timemachine/internal/models"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// RepositoryStats are the rollup counters persisted on a repository
type RepositoryStats struct {
	Commits int `db:"commits"`
	Files   int `db:"files"`
	Authors int `db:"authors"`
	Lines   int `db:"line_count"`
}

// OwnershipFilter narrows ListOwnership. Zero values mean "no filter".
type OwnershipFilter struct {
	RepoID        int64
	FileID        int64
	Author        string
	Extension     string
	MinPercentage float64
}

// Store defines the storage interface
type Store interface {
	// Repository operations
	CreateRepository(ctx context.Context, repo *models.Repository) error
	GetRepository(ctx context.Context, repoID int64) (*models.Repository, error)
	GetRepositoryByURL(ctx context.Context, url string) (*models.Repository, error)
	ListRepositories(ctx context.Context) ([]*models.Repository, error)
	SetRepositoryStatus(ctx context.Context, repoID int64, status models.RepositoryStatus, errMsg *string) error
	CompleteRepository(ctx context.Context, repoID int64, stats RepositoryStats) error
	RepositoryTotals(ctx context.Context, repoID int64) (RepositoryStats, error)
	DeleteRepository(ctx context.Context, repoID int64) error

	// Ledger operations
	CommitExists(ctx context.Context, hash string) (bool, error)
	WithTx(ctx context.Context, fn func(Tx) error) error

	// Commit reads
	ListCommits(ctx context.Context, repoID int64) ([]*models.Commit, error)
	CommitsSince(ctx context.Context, repoID int64, since time.Time) ([]*models.Commit, error)
	SearchCommitMessages(ctx context.Context, repoID int64, keywords []string) ([]*models.Commit, error)
	CommitsTouchingPaths(ctx context.Context, repoID int64, likePattern string) ([]*models.Commit, error)

	// File reads
	GetFileByPath(ctx context.Context, repoID int64, path string) (*models.File, error)
	ListFiles(ctx context.Context, repoID int64) ([]*models.File, error)
	FileHistory(ctx context.Context, fileID int64) ([]*models.ChangeWithCommit, error)
	RepositoryChanges(ctx context.Context, repoID int64) ([]*models.ChangeWithCommit, error)

	// Ownership operations
	ReplaceFileOwnership(ctx context.Context, fileID int64, rows []*models.Ownership) error
	ReplaceRepositoryOwnership(ctx context.Context, repoID int64, rows map[int64][]*models.Ownership) error
	ListOwnership(ctx context.Context, filter OwnershipFilter) ([]*models.OwnershipWithFile, error)

	// Response cache operations
	GetCachedResponse(ctx context.Context, hash string, now time.Time) (*models.CachedResponse, bool, error)
	PutCachedResponse(ctx context.Context, entry *models.CachedResponse) error

	// Close connection
	Close() error
}

// Tx is the unit of work used while ingesting one commit
type Tx interface {
	InsertCommit(ctx context.Context, commit *models.Commit) error
	FileByPath(ctx context.Context, repoID int64, path string) (*models.File, error)
	InsertFile(ctx context.Context, file *models.File) error
	UpdateFile(ctx context.Context, file *models.File) error
	InsertFileChange(ctx context.Context, change *models.FileChange) error
}
