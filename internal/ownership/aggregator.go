package ownership

import (
	"context"
	stderrors "errors"
	"sort"
	"time"

	"github.com/rohankatakam/timemachine/internal/errors"
	"github.com/rohankatakam/timemachine/internal/models"
	"github.com/rohankatakam/timemachine/internal/storage"
	"github.com/sirupsen/logrus"
)

// Aggregator recomputes per-file ownership from the change journal and
// serves the ownership read helpers
type Aggregator struct {
	store  storage.Store
	logger *logrus.Entry
}

// Result summarizes a whole-repository ownership recomputation
type Result struct {
	Success          bool            `json:"success"`
	FilesAnalyzed    int             `json:"files_analyzed"`
	OwnershipRecords int             `json:"ownership_records"`
	Duration         time.Duration   `json:"duration"`
	Failure          *errors.Failure `json:"failure,omitempty"`
}

// NewAggregator creates an ownership aggregator
func NewAggregator(store storage.Store, logger *logrus.Logger) *Aggregator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Aggregator{
		store:  store,
		logger: logger.WithField("component", "ownership"),
	}
}

// authorTally accumulates one author's changes to one file
type authorTally struct {
	name    string
	email   string
	added   int
	removed int
	commits int
	first   time.Time
	last    time.Time
}

// Compute derives the ranked ownership table of one file from its changes.
// Authors are keyed by name; the email kept is the last one seen. The
// percentage uses gross added lines as its basis.
func Compute(changes []*models.ChangeWithCommit) []*models.Ownership {
	var (
		order      []string
		tallies    = make(map[string]*authorTally)
		totalAdded int
	)

	for _, c := range changes {
		t, ok := tallies[c.AuthorName]
		if !ok {
			t = &authorTally{name: c.AuthorName, first: c.Timestamp, last: c.Timestamp}
			tallies[c.AuthorName] = t
			order = append(order, c.AuthorName)
		}
		t.email = c.AuthorEmail
		t.added += c.Insertions
		t.removed += c.Deletions
		t.commits++
		if c.Timestamp.Before(t.first) {
			t.first = c.Timestamp
		}
		if c.Timestamp.After(t.last) {
			t.last = c.Timestamp
		}
		totalAdded += c.Insertions
	}

	rows := make([]*models.Ownership, 0, len(order))
	for _, name := range order {
		t := tallies[name]

		net := t.added - t.removed
		if net < 0 {
			net = 0
		}

		var pct float64
		if totalAdded > 0 {
			pct = models.Round2(100 * float64(t.added) / float64(totalAdded))
		}

		first, last := t.first, t.last
		rows = append(rows, &models.Ownership{
			AuthorName:        t.name,
			AuthorEmail:       t.email,
			LinesContributed:  net,
			CommitsCount:      t.commits,
			Percentage:        pct,
			FirstContribution: &first,
			LastContribution:  &last,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Percentage > rows[j].Percentage
	})
	return rows
}

// AnalyzeFile recomputes and replaces the ownership of a single file
func (a *Aggregator) AnalyzeFile(ctx context.Context, fileID int64) ([]*models.Ownership, error) {
	changes, err := a.store.FileHistory(ctx, fileID)
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "loading history of file %d", fileID)
	}

	rows := Compute(changes)
	if err := a.store.ReplaceFileOwnership(ctx, fileID, rows); err != nil {
		return nil, errors.DatabaseErrorf(err, "storing ownership of file %d", fileID)
	}
	return rows, nil
}

// AnalyzeRepository recomputes ownership for every file of a repository
// and swaps it in atomically. It never returns an error: failures are
// reported in the result and leave the previous ownership in place.
func (a *Aggregator) AnalyzeRepository(ctx context.Context, repoID int64) *Result {
	start := time.Now()
	log := a.logger.WithField("repo_id", repoID)
	log.Info("Starting ownership analysis")

	changes, err := a.store.RepositoryChanges(ctx, repoID)
	if err != nil {
		return a.fail(log, start, errors.DatabaseError(err, "loading change journal").WithContext("repo_id", repoID))
	}

	// changes arrive grouped by file and ordered by time within each file
	byFile := make(map[int64][]*models.ChangeWithCommit)
	for _, c := range changes {
		byFile[c.FileID] = append(byFile[c.FileID], c)
	}

	rows := make(map[int64][]*models.Ownership, len(byFile))
	records := 0
	for fileID, fileChanges := range byFile {
		rows[fileID] = Compute(fileChanges)
		records += len(rows[fileID])
	}

	if err := a.store.ReplaceRepositoryOwnership(ctx, repoID, rows); err != nil {
		return a.fail(log, start, errors.DatabaseError(err, "replacing ownership").
			WithContext("repo_id", repoID).
			WithContext("files", len(rows)).
			WithContext("records", records))
	}

	result := &Result{
		Success:          true,
		FilesAnalyzed:    len(rows),
		OwnershipRecords: records,
		Duration:         time.Since(start),
	}

	log.WithFields(logrus.Fields{
		"files":    result.FilesAnalyzed,
		"records":  result.OwnershipRecords,
		"duration": result.Duration.String(),
	}).Info("Ownership analysis completed")

	return result
}

func (a *Aggregator) fail(log *logrus.Entry, start time.Time, err *errors.Error) *Result {
	log.WithFields(logrus.Fields(err.Context)).WithError(err).Error("Ownership analysis failed")
	return &Result{
		Duration: time.Since(start),
		Failure:  err.WithCode("ownership_failed").Failure(),
	}
}

// fileByPath maps storage misses to typed not-found errors
func (a *Aggregator) fileByPath(ctx context.Context, repoID int64, path string) (*models.File, error) {
	file, err := a.store.GetFileByPath(ctx, repoID, path)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NotFoundErrorf("file not found: %s", path)
	}
	if err != nil {
		return nil, errors.DatabaseError(err, "loading file")
	}
	return file, nil
}
