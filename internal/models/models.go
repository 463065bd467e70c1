package models

import (
	"math"
	"path"
	"strings"
	"time"
)

// RepositoryStatus is the durable analysis state of a repository
type RepositoryStatus string

const (
	StatusPending   RepositoryStatus = "pending"
	StatusAnalyzing RepositoryStatus = "analyzing"
	StatusCompleted RepositoryStatus = "completed"
	StatusError     RepositoryStatus = "error"
)

// Repository represents an analyzed repository
type Repository struct {
	ID           int64            `json:"id" db:"id"`
	URL          string           `json:"url" db:"url"`
	Owner        string           `json:"owner" db:"owner"`
	Name         string           `json:"name" db:"name"`
	Description  *string          `json:"description,omitempty" db:"description"`
	Language     *string          `json:"language,omitempty" db:"language"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	LastAnalyzed *time.Time       `json:"last_analyzed,omitempty" db:"last_analyzed"`
	TotalCommits int              `json:"total_commits" db:"total_commits"`
	TotalFiles   int              `json:"total_files" db:"total_files"`
	TotalAuthors int              `json:"total_authors" db:"total_authors"`
	TotalLines   int              `json:"total_lines" db:"total_lines"`
	Status       RepositoryStatus `json:"status" db:"status"`
	ErrorMessage *string          `json:"error_message,omitempty" db:"error_message"`
}

// Key returns the owner/name identity used by the single-flight gate
func (r *Repository) Key() string {
	return r.Owner + "/" + r.Name
}

// Commit is one ledger row. It is written once and never mutated.
type Commit struct {
	Hash           string    `json:"hash" db:"hash"`
	RepoID         int64     `json:"repo_id" db:"repo_id"`
	AuthorName     string    `json:"author_name" db:"author_name"`
	AuthorEmail    string    `json:"author_email" db:"author_email"`
	CommitterName  *string   `json:"committer_name,omitempty" db:"committer_name"`
	CommitterEmail *string   `json:"committer_email,omitempty" db:"committer_email"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
	Message        string    `json:"message" db:"message"`
	FilesChanged   int       `json:"files_changed" db:"files_changed"`
	Insertions     int       `json:"insertions" db:"insertions"`
	Deletions      int       `json:"deletions" db:"deletions"`
	IsMerge        bool      `json:"is_merge" db:"is_merge"`
	Branch         *string   `json:"branch,omitempty" db:"branch"`
}

// Title returns the first line of the commit message
func (c *Commit) Title() string {
	title, _, _ := strings.Cut(c.Message, "\n")
	return title
}

// File is the persistent identity of a repository-relative path
type File struct {
	ID                int64      `json:"id" db:"id"`
	RepoID            int64      `json:"repo_id" db:"repo_id"`
	Path              string     `json:"path" db:"path"`
	Filename          string     `json:"filename" db:"filename"`
	Extension         *string    `json:"extension,omitempty" db:"extension"`
	CurrentLines      int        `json:"current_lines" db:"current_lines"`
	CurrentComplexity float64    `json:"current_complexity" db:"current_complexity"`
	TotalCommits      int        `json:"total_commits" db:"total_commits"`
	CreatedAt         *time.Time `json:"created_at,omitempty" db:"created_at"`
	LastModified      *time.Time `json:"last_modified,omitempty" db:"last_modified"`
	IsDeleted         bool       `json:"is_deleted" db:"is_deleted"`
}

// ChangeKind classifies a file change within a commit
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeRenamed  ChangeKind = "renamed"
	ChangeModified ChangeKind = "modified"
	ChangeUnknown  ChangeKind = "unknown"
)

// FileChange is one file's diff statistics within one commit
type FileChange struct {
	ID         int64      `json:"id" db:"id"`
	CommitHash string     `json:"commit_hash" db:"commit_hash"`
	FileID     int64      `json:"file_id" db:"file_id"`
	ChangeType ChangeKind `json:"change_type" db:"change_type"`
	Insertions int        `json:"insertions" db:"insertions"`
	Deletions  int        `json:"deletions" db:"deletions"`
	OldPath    *string    `json:"old_path,omitempty" db:"old_path"`
}

// Ownership is one author's share of one file
type Ownership struct {
	ID                int64      `json:"-" db:"id"`
	FileID            int64      `json:"-" db:"file_id"`
	AuthorName        string     `json:"author_name" db:"author_name"`
	AuthorEmail       string     `json:"author_email" db:"author_email"`
	LinesContributed  int        `json:"lines_contributed" db:"lines_contributed"`
	CommitsCount      int        `json:"commits_count" db:"commits_count"`
	Percentage        float64    `json:"percentage" db:"percentage"`
	FirstContribution *time.Time `json:"first_contribution,omitempty" db:"first_contribution"`
	LastContribution  *time.Time `json:"last_contribution,omitempty" db:"last_contribution"`
}

// CachedResponse is a content-addressed, TTL-bound answer for a query
type CachedResponse struct {
	ID        int64     `json:"-" db:"id"`
	RepoID    int64     `json:"repo_id" db:"repo_id"`
	QueryHash string    `json:"query_hash" db:"query_hash"`
	QueryText string    `json:"query_text" db:"query_text"`
	Response  string    `json:"response" db:"response"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	HitCount  int       `json:"hit_count" db:"hit_count"`
}

// Live reports whether the entry can still be served at now
func (c *CachedResponse) Live(now time.Time) bool {
	return now.Before(c.ExpiresAt)
}

// ChangeWithCommit joins a change record with the commit that produced it
type ChangeWithCommit struct {
	FileChange
	AuthorName  string    `db:"author_name"`
	AuthorEmail string    `db:"author_email"`
	Timestamp   time.Time `db:"timestamp"`
	Message     string    `db:"message"`
}

// OwnershipWithFile joins an ownership row with its file
type OwnershipWithFile struct {
	Ownership
	Path      string  `db:"path"`
	Extension *string `db:"extension"`
}

// ExtensionOf returns the lower-cased suffix after the last '.', or nil
// when the filename has none. "archive.tar.gz" yields "gz".
func ExtensionOf(filename string) *string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return nil
	}
	ext := strings.ToLower(filename[idx+1:])
	return &ext
}

// FilenameOf returns the last path segment of a repository-relative path
func FilenameOf(p string) string {
	return path.Base(p)
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}

// Deref returns the pointed-to string or the empty string
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Round2 rounds to two decimal places
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
