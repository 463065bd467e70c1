package ingestion

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/rohankatakam/timemachine/internal/errors"
	"github.com/rohankatakam/timemachine/internal/models"
	"github.com/rohankatakam/timemachine/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Options configures a Pipeline
type Options struct {
	// Branch is recorded on every ingested commit
	Branch           string
	ProgressEvery    int
	ProgressInterval time.Duration
}

// Pipeline writes mined commits into the ledger, the file identity table
// and the change journal
type Pipeline struct {
	store  storage.Store
	logger *logrus.Entry
	opts   Options
}

// IngestResult summarizes one ingestion run
type IngestResult struct {
	Success          bool            `json:"success"`
	CommitsProcessed int             `json:"commits_processed"`
	CommitsSkipped   int             `json:"commits_skipped"`
	CommitsFailed    int             `json:"commits_failed"`
	FilesTracked     int             `json:"files_tracked"`
	UniqueAuthors    int             `json:"unique_authors"`
	Duration         time.Duration   `json:"duration"`
	Failure          *errors.Failure `json:"failure,omitempty"`
}

// NewPipeline creates an ingestion pipeline
func NewPipeline(store storage.Store, logger *logrus.Logger, opts Options) *Pipeline {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.Branch == "" {
		opts.Branch = "main"
	}
	return &Pipeline{
		store:  store,
		logger: logger.WithField("component", "ingestion"),
		opts:   opts,
	}
}

// Ingest consumes src to the end. Commits already in the ledger are
// skipped and a bad commit never aborts the run. On completion the
// repository rollups are refreshed and the repository is marked completed.
// Ingest never returns an error: failures are reported in the result.
func (p *Pipeline) Ingest(ctx context.Context, repoID int64, src Source) *IngestResult {
	start := time.Now()
	log := p.logger.WithField("repo_id", repoID)
	result := &IngestResult{}

	files := make(map[string]struct{})
	authors := make(map[string]struct{})
	progress := rate.Sometimes{Every: p.opts.ProgressEvery, Interval: p.opts.ProgressInterval}

	log.Info("Starting commit ingestion")

	for {
		raw, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if stderrors.Is(err, ErrMalformed) {
			result.CommitsFailed++
			log.WithError(err).Warn("Skipping malformed commit")
			continue
		}
		if err != nil {
			return p.fail(ctx, log, repoID, result, start, errors.ExternalError(err, "reading commit source"))
		}

		exists, err := p.store.CommitExists(ctx, raw.Hash)
		if err != nil {
			return p.fail(ctx, log, repoID, result, start,
				errors.DatabaseError(err, "checking commit ledger").WithContext("commit", raw.Hash))
		}
		if exists {
			result.CommitsSkipped++
			log.WithField("commit", raw.Hash).Debug("Commit already ingested")
			continue
		}

		if err := p.ingestCommit(ctx, repoID, raw); err != nil {
			result.CommitsFailed++
			log.WithFields(logrus.Fields{
				"commit": raw.Hash,
				"error":  err,
			}).Warn("Failed to ingest commit")
			continue
		}

		result.CommitsProcessed++
		authors[raw.AuthorName] = struct{}{}
		for _, f := range raw.Files {
			if path := f.Path(); path != "" {
				files[path] = struct{}{}
			}
		}

		progress.Do(func() {
			log.WithFields(logrus.Fields{
				"processed": result.CommitsProcessed,
				"skipped":   result.CommitsSkipped,
				"failed":    result.CommitsFailed,
			}).Info("Ingestion progress")
		})
	}

	totals, err := p.store.RepositoryTotals(ctx, repoID)
	if err != nil {
		return p.fail(ctx, log, repoID, result, start, errors.DatabaseError(err, "computing repository totals"))
	}
	if err := p.store.CompleteRepository(ctx, repoID, totals); err != nil {
		return p.fail(ctx, log, repoID, result, start, errors.DatabaseError(err, "updating repository rollups"))
	}

	result.Success = true
	result.FilesTracked = len(files)
	result.UniqueAuthors = len(authors)
	result.Duration = time.Since(start)

	log.WithFields(logrus.Fields{
		"processed": result.CommitsProcessed,
		"skipped":   result.CommitsSkipped,
		"failed":    result.CommitsFailed,
		"files":     result.FilesTracked,
		"authors":   result.UniqueAuthors,
		"duration":  result.Duration.String(),
	}).Info("Commit ingestion completed")

	return result
}

func (p *Pipeline) fail(ctx context.Context, log *logrus.Entry, repoID int64, result *IngestResult, start time.Time, err *errors.Error) *IngestResult {
	err.WithContext("repo_id", repoID).
		WithContext("processed", result.CommitsProcessed).
		WithContext("skipped", result.CommitsSkipped)
	failure := err.WithCode("ingestion_failed").Failure()
	result.Success = false
	result.Failure = failure
	result.Duration = time.Since(start)

	log.WithFields(logrus.Fields(err.Context)).WithError(err).Error("Commit ingestion failed")

	detail := failure.Detail
	if statusErr := p.store.SetRepositoryStatus(ctx, repoID, models.StatusError, &detail); statusErr != nil {
		log.WithError(statusErr).Warn("Failed to record repository error status")
	}
	return result
}

// ingestCommit writes one commit and its file changes atomically
func (p *Pipeline) ingestCommit(ctx context.Context, repoID int64, raw *RawCommit) error {
	if err := raw.validate(); err != nil {
		return err
	}

	ts := raw.Timestamp.UTC()
	commit := &models.Commit{
		Hash:           raw.Hash,
		RepoID:         repoID,
		AuthorName:     raw.AuthorName,
		AuthorEmail:    raw.AuthorEmail,
		CommitterName:  models.StringPtr(orDefault(raw.CommitterName, raw.AuthorName)),
		CommitterEmail: models.StringPtr(orDefault(raw.CommitterEmail, raw.AuthorEmail)),
		Timestamp:      ts,
		Message:        raw.Message,
		FilesChanged:   len(raw.Files),
		IsMerge:        raw.IsMerge,
		Branch:         models.StringPtr(p.opts.Branch),
	}
	for _, f := range raw.Files {
		commit.Insertions += f.Added
		commit.Deletions += f.Deleted
	}

	return p.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.InsertCommit(ctx, commit); err != nil {
			return err
		}

		for _, f := range raw.Files {
			path := f.Path()
			if path == "" {
				continue
			}

			file, err := p.touchFile(ctx, tx, repoID, path, f, ts)
			if err != nil {
				return err
			}

			change := &models.FileChange{
				CommitHash: raw.Hash,
				FileID:     file.ID,
				ChangeType: normalizeKind(f.Kind),
				Insertions: f.Added,
				Deletions:  f.Deleted,
			}
			if change.ChangeType == models.ChangeRenamed && f.OldPath != "" && f.OldPath != path {
				change.OldPath = models.StringPtr(f.OldPath)
			}
			if err := tx.InsertFileChange(ctx, change); err != nil {
				return err
			}
		}
		return nil
	})
}

// touchFile creates the file entity on first encounter, otherwise bumps
// its counters. A renamed path is a new identity.
func (p *Pipeline) touchFile(ctx context.Context, tx storage.Tx, repoID int64, path string, f RawFile, ts time.Time) (*models.File, error) {
	deleted := f.Kind == models.ChangeDeleted

	file, err := tx.FileByPath(ctx, repoID, path)
	if stderrors.Is(err, storage.ErrNotFound) {
		filename := models.FilenameOf(path)
		file = &models.File{
			RepoID:       repoID,
			Path:         path,
			Filename:     filename,
			Extension:    models.ExtensionOf(filename),
			TotalCommits: 1,
			CreatedAt:    &ts,
			LastModified: &ts,
			IsDeleted:    deleted,
		}
		if f.Lines != nil {
			file.CurrentLines = *f.Lines
		}
		if err := tx.InsertFile(ctx, file); err != nil {
			return nil, err
		}
		return file, nil
	}
	if err != nil {
		return nil, err
	}

	file.TotalCommits++
	file.LastModified = &ts
	file.IsDeleted = deleted
	if f.Lines != nil {
		file.CurrentLines = *f.Lines
	}
	if err := tx.UpdateFile(ctx, file); err != nil {
		return nil, fmt.Errorf("touch %s: %w", path, err)
	}
	return file, nil
}

func normalizeKind(kind models.ChangeKind) models.ChangeKind {
	switch kind {
	case models.ChangeAdded, models.ChangeDeleted, models.ChangeRenamed, models.ChangeModified:
		return kind
	default:
		return models.ChangeUnknown
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
