package patterns

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

const (
	// DefaultTimelineDays is the window used when no positive window is given
	DefaultTimelineDays = 365

	messagePreviewLength = 100
)

// Analyzer serves ledger-derived commit statistics
type Analyzer struct {
	store  storage.Store
	logger *logrus.Entry
	now    func() time.Time
}

// NewAnalyzer creates a pattern analyzer
func NewAnalyzer(store storage.Store, logger *logrus.Logger) *Analyzer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Analyzer{
		store:  store,
		logger: logger.WithField("component", "patterns"),
		now:    time.Now,
	}
}

// TimelinePoint is the commit count of one day
type TimelinePoint struct {
	Date    string `json:"date" yaml:"date"`
	Commits int    `json:"commits" yaml:"commits"`
}

// AuthorStats describes one (name, email) identity's commits
type AuthorStats struct {
	Name        string    `json:"name" yaml:"name"`
	Email       string    `json:"email" yaml:"email"`
	Commits     int       `json:"commits" yaml:"commits"`
	Insertions  int       `json:"insertions" yaml:"insertions"`
	Deletions   int       `json:"deletions" yaml:"deletions"`
	Percentage  float64   `json:"percentage" yaml:"percentage"`
	FirstCommit time.Time `json:"first_commit" yaml:"first_commit"`
	LastCommit  time.Time `json:"last_commit" yaml:"last_commit"`
	ActiveDays  int       `json:"active_days" yaml:"active_days"`
}

// EvolutionStep is one change in a file's history
type EvolutionStep struct {
	CommitHash      string            `json:"commit_hash" yaml:"commit_hash"`
	Timestamp       time.Time         `json:"timestamp" yaml:"timestamp"`
	Author          string            `json:"author" yaml:"author"`
	ChangeType      models.ChangeKind `json:"change_type" yaml:"change_type"`
	Insertions      int               `json:"insertions" yaml:"insertions"`
	Deletions       int               `json:"deletions" yaml:"deletions"`
	CumulativeLines int               `json:"cumulative_lines" yaml:"cumulative_lines"`
	Message         string            `json:"message" yaml:"message"`
}

// FileEvolution is the chronological change history of one file
type FileEvolution struct {
	FilePath     string          `json:"file_path" yaml:"file_path"`
	TotalChanges int             `json:"total_changes" yaml:"total_changes"`
	CurrentLines int             `json:"current_lines" yaml:"current_lines"`
	CreatedAt    *time.Time      `json:"created_at" yaml:"created_at"`
	LastModified *time.Time      `json:"last_modified" yaml:"last_modified"`
	Evolution    []EvolutionStep `json:"evolution" yaml:"evolution"`
}

// Patterns classifies every commit of a repository
func (a *Analyzer) Patterns(ctx context.Context, repoID int64) (*Summary, error) {
	commits, err := a.store.ListCommits(ctx, repoID)
	if err != nil {
		return nil, errors.DatabaseError(err, "loading commits")
	}

	summary := Summarize(commits)
	a.logger.WithFields(logrus.Fields{
		"repo_id": repoID,
		"commits": summary.TotalCommits,
		"types":   len(summary.MessageTypes),
	}).Debug("Classified commit messages")
	return summary, nil
}

// Timeline counts commits per day over the last days days, oldest first
func (a *Analyzer) Timeline(ctx context.Context, repoID int64, days int) ([]TimelinePoint, error) {
	if days <= 0 {
		days = DefaultTimelineDays
	}
	since := a.now().UTC().AddDate(0, 0, -days)

	commits, err := a.store.CommitsSince(ctx, repoID, since)
	if err != nil {
		return nil, errors.DatabaseError(err, "loading timeline")
	}

	var points []TimelinePoint
	for _, c := range commits {
		date := c.Timestamp.UTC().Format("2006-01-02")
		if n := len(points); n > 0 && points[n-1].Date == date {
			points[n-1].Commits++
			continue
		}
		points = append(points, TimelinePoint{Date: date, Commits: 1})
	}
	return points, nil
}

// AuthorStatistics groups commits by (author name, email), busiest first
func (a *Analyzer) AuthorStatistics(ctx context.Context, repoID int64) ([]AuthorStats, error) {
	commits, err := a.store.ListCommits(ctx, repoID)
	if err != nil {
		return nil, errors.DatabaseError(err, "loading commits")
	}

	type identity struct{ name, email string }
	var order []identity
	stats := make(map[identity]*AuthorStats)

	for _, c := range commits {
		key := identity{c.AuthorName, c.AuthorEmail}
		s, ok := stats[key]
		if !ok {
			s = &AuthorStats{Name: c.AuthorName, Email: c.AuthorEmail, FirstCommit: c.Timestamp, LastCommit: c.Timestamp}
			stats[key] = s
			order = append(order, key)
		}
		s.Commits++
		s.Insertions += c.Insertions
		s.Deletions += c.Deletions
		if c.Timestamp.Before(s.FirstCommit) {
			s.FirstCommit = c.Timestamp
		}
		if c.Timestamp.After(s.LastCommit) {
			s.LastCommit = c.Timestamp
		}
	}

	authors := make([]AuthorStats, 0, len(order))
	for _, key := range order {
		s := stats[key]
		s.Percentage = models.Round2(float64(s.Commits) / float64(len(commits)) * 100)
		s.ActiveDays = int(s.LastCommit.Sub(s.FirstCommit).Hours() / 24)
		authors = append(authors, *s)
	}
	sort.SliceStable(authors, func(i, j int) bool {
		return authors[i].Commits > authors[j].Commits
	})
	return authors, nil
}

// FileEvolution replays a file's changes with a running net line count
// floored at zero
func (a *Analyzer) FileEvolution(ctx context.Context, repoID int64, path string) (*FileEvolution, error) {
	file, err := a.store.GetFileByPath(ctx, repoID, path)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NotFoundErrorf("file not found: %s", path)
	}
	if err != nil {
		return nil, errors.DatabaseError(err, "loading file")
	}

	changes, err := a.store.FileHistory(ctx, file.ID)
	if err != nil {
		return nil, errors.DatabaseError(err, "loading file history")
	}

	evo := &FileEvolution{
		FilePath:     path,
		TotalChanges: len(changes),
		CurrentLines: file.CurrentLines,
		CreatedAt:    file.CreatedAt,
		LastModified: file.LastModified,
		Evolution:    make([]EvolutionStep, 0, len(changes)),
	}

	cumulative := 0
	for _, c := range changes {
		cumulative += c.Insertions - c.Deletions
		lines := cumulative
		if lines < 0 {
			lines = 0
		}
		evo.Evolution = append(evo.Evolution, EvolutionStep{
			CommitHash:      c.CommitHash,
			Timestamp:       c.Timestamp,
			Author:          c.AuthorName,
			ChangeType:      c.ChangeType,
			Insertions:      c.Insertions,
			Deletions:       c.Deletions,
			CumulativeLines: lines,
			Message:         preview(c.Message),
		})
	}
	return evo, nil
}

func preview(message string) string {
	runes := []rune(message)
	if len(runes) > messagePreviewLength {
		return string(runes[:messagePreviewLength]) + "..."
	}
	return message
}
