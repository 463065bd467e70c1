package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rohankatakam/timemachine/internal/errors"
	"github.com/rohankatakam/timemachine/internal/models"
	"github.com/rohankatakam/timemachine/internal/patterns"
	"github.com/rohankatakam/timemachine/internal/storage"
	"github.com/sirupsen/logrus"
)

const (
	// MaxResults bounds FindFeatureCommits
	MaxResults = 10

	occurrenceWeight = 2
	titleBonus       = 3
	indicatorBonus   = 1
	mergePenalty     = 2

	categoryCommits = 3
	maxCategories   = 5
)

// featureIndicators hint that a commit introduces something
var featureIndicators = []string{"add", "implement", "create", "introduce", "new", "feat"}

// Category maps a commit type to the keywords searched for it
type Category struct {
	Type     string
	Name     string
	Keywords []string
}

// Categories is the fixed commit type to feature keyword mapping
var Categories = []Category{
	{patterns.TypeFeat, "New Features", []string{"feat", "feature", "add", "implement", "create", "new"}},
	{patterns.TypeFix, "Bug Fixes", []string{"fix", "bugfix", "bug", "patch", "resolve"}},
	{patterns.TypeRefactor, "Code Refactoring", []string{"refactor", "restructure", "reorganize", "cleanup"}},
	{patterns.TypeDocs, "Documentation", []string{"docs", "doc", "documentation", "readme"}},
	{patterns.TypeTest, "Testing", []string{"test", "testing", "spec", "unit test"}},
	{patterns.TypeUpdate, "Updates & Improvements", []string{"update", "upgrade", "improve", "enhance"}},
	{patterns.TypeInitial, "Initial Setup", []string{"initial", "init", "setup", "bootstrap"}},
}

// CommitSummary is the plain projection of a commit returned to callers
type CommitSummary struct {
	Hash         string    `json:"hash" yaml:"hash"`
	Author       string    `json:"author" yaml:"author"`
	Timestamp    time.Time `json:"timestamp" yaml:"timestamp"`
	Message      string    `json:"message" yaml:"message"`
	FilesChanged int       `json:"files_changed" yaml:"files_changed"`
	Insertions   int       `json:"insertions" yaml:"insertions"`
	Deletions    int       `json:"deletions" yaml:"deletions"`
	IsMerge      bool      `json:"is_merge" yaml:"is_merge"`
}

// ScoredCommit is a commit ranked by feature relevance
type ScoredCommit struct {
	CommitSummary   `yaml:",inline"`
	RelevanceScore  int      `json:"relevance_score" yaml:"relevance_score"`
	MatchedKeywords []string `json:"matched_keywords" yaml:"matched_keywords"`
}

// FeatureCategory groups the most relevant commits of one commit type
type FeatureCategory struct {
	Name          string         `json:"name" yaml:"name"`
	Category      string         `json:"category" yaml:"category"`
	CommitCount   int            `json:"commit_count" yaml:"commit_count"`
	Keywords      []string       `json:"keywords" yaml:"keywords"`
	RecentCommits []ScoredCommit `json:"recent_commits" yaml:"recent_commits"`
}

// Features is the feature category report of a repository
type Features struct {
	RepositoryID      int64             `json:"repository_id" yaml:"repository_id"`
	TotalCommits      int               `json:"total_commits" yaml:"total_commits"`
	Features          []FeatureCategory `json:"features" yaml:"features"`
	MostActiveFeature *string           `json:"most_active_feature" yaml:"most_active_feature"`
	FeatureDiversity  int               `json:"feature_diversity" yaml:"feature_diversity"`
}

// Searcher answers keyword and path questions over the ledger
type Searcher struct {
	store  storage.Store
	logger *logrus.Entry
}

// NewSearcher creates a searcher
func NewSearcher(store storage.Store, logger *logrus.Logger) *Searcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Searcher{store: store, logger: logger.WithField("component", "search")}
}

// FindFeatureCommits ranks commits whose message contains any keyword,
// highest score first and earliest first among equal scores
func (s *Searcher) FindFeatureCommits(ctx context.Context, repoID int64, keywords []string) ([]ScoredCommit, error) {
	keywords = cleanKeywords(keywords)
	if len(keywords) == 0 {
		return []ScoredCommit{}, nil
	}

	commits, err := s.store.SearchCommitMessages(ctx, repoID, keywords)
	if err != nil {
		return nil, errors.DatabaseError(err, "searching commit messages")
	}

	ranked := Rank(commits, keywords)
	s.logger.WithFields(logrus.Fields{
		"repo_id":  repoID,
		"keywords": keywords,
		"matches":  len(commits),
	}).Debug("Ranked feature commits")

	if len(ranked) > MaxResults {
		ranked = ranked[:MaxResults]
	}
	return ranked, nil
}

// Rank scores and orders commits against keywords without truncating
func Rank(commits []*models.Commit, keywords []string) []ScoredCommit {
	scored := make([]ScoredCommit, 0, len(commits))
	for _, c := range commits {
		score, matched := Score(c, keywords)
		if len(matched) == 0 {
			continue
		}
		scored = append(scored, ScoredCommit{
			CommitSummary:   summarize(c),
			RelevanceScore:  score,
			MatchedKeywords: matched,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].RelevanceScore != scored[j].RelevanceScore {
			return scored[i].RelevanceScore > scored[j].RelevanceScore
		}
		return scored[i].Timestamp.Before(scored[j].Timestamp)
	})
	return scored
}

// Score returns a commit's relevance for keywords and the keywords it
// contains. Matching is case-insensitive substring matching.
func Score(c *models.Commit, keywords []string) (int, []string) {
	message := strings.ToLower(c.Message)
	title := strings.ToLower(c.Title())

	score := 0
	matched := []string{}
	for _, kw := range keywords {
		needle := strings.ToLower(kw)
		if needle == "" || !strings.Contains(message, needle) {
			continue
		}
		matched = append(matched, kw)
		score += strings.Count(message, needle) * occurrenceWeight
		if strings.Contains(title, needle) {
			score += titleBonus
		}
	}

	for _, indicator := range featureIndicators {
		if strings.Contains(message, indicator) {
			score += indicatorBonus
		}
	}
	if c.IsMerge {
		score -= mergePenalty
	}
	return score, matched
}

// CommitsByFilePattern lists, oldest first and without duplicates, the
// commits that changed a file whose path matches pattern. '*' matches any
// run of characters.
func (s *Searcher) CommitsByFilePattern(ctx context.Context, repoID int64, pattern string) ([]CommitSummary, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, errors.ValidationError("file pattern must not be empty")
	}

	commits, err := s.store.CommitsTouchingPaths(ctx, repoID, strings.ReplaceAll(pattern, "*", "%"))
	if err != nil {
		return nil, errors.DatabaseError(err, "finding commits by file pattern")
	}

	out := make([]CommitSummary, 0, len(commits))
	for _, c := range commits {
		out = append(out, summarize(c))
	}
	return out, nil
}

// FeatureCategories reports, for the most frequent commit types, the most
// relevant commits found with that type's keywords
func (s *Searcher) FeatureCategories(ctx context.Context, repoID int64) (*Features, error) {
	commits, err := s.store.ListCommits(ctx, repoID)
	if err != nil {
		return nil, errors.DatabaseError(err, "loading commits")
	}
	summary := patterns.Summarize(commits)

	features := &Features{
		RepositoryID: repoID,
		TotalCommits: summary.TotalCommits,
		Features:     []FeatureCategory{},
	}
	for _, cat := range Categories {
		count := summary.MessageTypes[cat.Type]
		if count == 0 {
			continue
		}
		related, err := s.FindFeatureCommits(ctx, repoID, cat.Keywords)
		if err != nil {
			return nil, err
		}
		if len(related) > categoryCommits {
			related = related[:categoryCommits]
		}
		features.Features = append(features.Features, FeatureCategory{
			Name:          cat.Name,
			Category:      cat.Type,
			CommitCount:   count,
			Keywords:      cat.Keywords,
			RecentCommits: related,
		})
	}

	sort.SliceStable(features.Features, func(i, j int) bool {
		return features.Features[i].CommitCount > features.Features[j].CommitCount
	})
	if len(features.Features) > maxCategories {
		features.Features = features.Features[:maxCategories]
	}

	features.FeatureDiversity = len(features.Features)
	if len(features.Features) > 0 {
		features.MostActiveFeature = &features.Features[0].Name
	}
	return features, nil
}

func summarize(c *models.Commit) CommitSummary {
	return CommitSummary{
		Hash:         c.Hash,
		Author:       c.AuthorName,
		Timestamp:    c.Timestamp,
		Message:      strings.TrimSpace(c.Message),
		FilesChanged: c.FilesChanged,
		Insertions:   c.Insertions,
		Deletions:    c.Deletions,
		IsMerge:      c.IsMerge,
	}
}

func cleanKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}
