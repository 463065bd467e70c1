package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rohankatakam/timemachine/internal/models"
)

// ErrMalformed marks a single commit record the source could not decode.
// The pipeline skips such records and keeps going.
var ErrMalformed = errors.New("malformed commit record")

// RawFile is one file entry of a mined commit
type RawFile struct {
	NewPath string
	OldPath string
	Kind    models.ChangeKind
	Added   int
	Deleted int
	// Lines is the file's line count after the change, when known
	Lines *int
}

// Path resolves the entry's path: the new path, or the old one for deletions
func (f RawFile) Path() string {
	if f.NewPath != "" {
		return f.NewPath
	}
	return f.OldPath
}

// RawCommit is one commit as yielded by a Source
type RawCommit struct {
	Hash           string
	AuthorName     string
	AuthorEmail    string
	CommitterName  string
	CommitterEmail string
	// Timestamp is the committer time
	Timestamp time.Time
	Message   string
	IsMerge   bool
	Files     []RawFile
}

func (c *RawCommit) validate() error {
	if c.Hash == "" {
		return fmt.Errorf("%w: missing hash", ErrMalformed)
	}
	if c.AuthorName == "" {
		return fmt.Errorf("%w: commit %s has no author", ErrMalformed, c.Hash)
	}
	if c.Timestamp.IsZero() {
		return fmt.Errorf("%w: commit %s has no timestamp", ErrMalformed, c.Hash)
	}
	return nil
}

// Source yields commits in a stable, oldest-first order. Next returns
// io.EOF once the history is exhausted.
type Source interface {
	Next(ctx context.Context) (*RawCommit, error)
	Close() error
}

// SliceSource serves commits from memory
type SliceSource struct {
	commits []*RawCommit
	pos     int
}

// NewSliceSource creates a source over already-mined commits
func NewSliceSource(commits []*RawCommit) *SliceSource {
	return &SliceSource{commits: commits}
}

func (s *SliceSource) Next(ctx context.Context) (*RawCommit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.commits) {
		return nil, io.EOF
	}
	c := s.commits[s.pos]
	s.pos++
	return c, nil
}

func (s *SliceSource) Close() error {
	return nil
}
