package search

import (
	"context"
	"testing"
	"time"

	"github.com/rohankatakam/timemachine/internal/errors"
	"github.com/rohankatakam/timemachine/internal/ingestion"
	"github.com/rohankatakam/timemachine/internal/models"
	"github.com/rohankatakam/timemachine/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

func setupSearcher(t *testing.T) (*Searcher, int64) {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	repo := &models.Repository{URL: "https://github.com/acme/portal", Owner: "acme", Name: "portal"}
	require.NoError(t, store.CreateRepository(ctx, repo))

	history := []*ingestion.RawCommit{
		{Hash: "h1", AuthorName: "alice", AuthorEmail: "alice@example.com", Timestamp: t0,
			Message: "add login page",
			Files:   []ingestion.RawFile{{NewPath: "web/login.go", Kind: models.ChangeAdded, Added: 40}}},
		{Hash: "h2", AuthorName: "bob", AuthorEmail: "bob@example.com", Timestamp: t0.Add(time.Hour),
			Message: "Update docs\n\nmentions login twice, login again",
			Files:   []ingestion.RawFile{{NewPath: "docs/auth.md", Kind: models.ChangeAdded, Added: 12}}},
		{Hash: "h3", AuthorName: "carol", AuthorEmail: "carol@example.com", Timestamp: t0.Add(2 * time.Hour),
			Message: "Merge branch 'x'\n\nlogin", IsMerge: true,
			Files:   []ingestion.RawFile{{NewPath: "web/login.go", Kind: models.ChangeModified, Added: 1, Deleted: 1}}},
		{Hash: "h4", AuthorName: "alice", AuthorEmail: "alice@example.com", Timestamp: t0.Add(3 * time.Hour),
			Message: "refactor parser",
			Files: []ingestion.RawFile{
				{NewPath: "web/parser.go", Kind: models.ChangeAdded, Added: 9},
				{NewPath: "web/login.go", Kind: models.ChangeModified, Added: 2},
			}},
	}
	res := ingestion.NewPipeline(store, nil, ingestion.Options{}).Ingest(ctx, repo.ID, ingestion.NewSliceSource(history))
	require.True(t, res.Success)

	return NewSearcher(store, nil), repo.ID
}

func TestFindFeatureCommitsRanking(t *testing.T) {
	s, repoID := setupSearcher(t)

	results, err := s.FindFeatureCommits(context.Background(), repoID, []string{"login"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "h1", results[0].Hash)
	assert.Equal(t, 6, results[0].RelevanceScore)
	assert.Equal(t, "h2", results[1].Hash)
	assert.Equal(t, 4, results[1].RelevanceScore)
	assert.Equal(t, "h3", results[2].Hash)
	assert.Equal(t, 0, results[2].RelevanceScore)

	for _, r := range results {
		assert.Equal(t, []string{"login"}, r.MatchedKeywords)
	}
}

func TestFindFeatureCommitsIsCaseInsensitiveSubstring(t *testing.T) {
	s, repoID := setupSearcher(t)

	results, err := s.FindFeatureCommits(context.Background(), repoID, []string{"LOG", "parse"})
	require.NoError(t, err)
	require.Len(t, results, 4)

	hashes := make([]string, 0, len(results))
	for _, r := range results {
		hashes = append(hashes, r.Hash)
	}
	assert.Contains(t, hashes, "h4")
}

func TestFindFeatureCommitsEmptyKeywords(t *testing.T) {
	s, repoID := setupSearcher(t)

	results, err := s.FindFeatureCommits(context.Background(), repoID, []string{"  ", ""})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRankTieBreaksOnEarliestTimestamp(t *testing.T) {
	later := &models.Commit{Hash: "later", Message: "cache tweak", Timestamp: t0.Add(time.Hour)}
	earlier := &models.Commit{Hash: "earlier", Message: "cache tweak", Timestamp: t0}

	ranked := Rank([]*models.Commit{later, earlier}, []string{"cache"})
	require.Len(t, ranked, 2)
	assert.Equal(t, "earlier", ranked[0].Hash)
	assert.Equal(t, ranked[0].RelevanceScore, ranked[1].RelevanceScore)
}

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		commit   *models.Commit
		keywords []string
		score    int
		matched  []string
	}{
		{"title match with indicator", &models.Commit{Message: "add login page"}, []string{"login"}, 6, []string{"login"}},
		{"two keywords", &models.Commit{Message: "oauth\n\nlogin"}, []string{"oauth", "login", "saml"}, 7, []string{"oauth", "login"}},
		{"merge penalty", &models.Commit{Message: "x\n\nlogin", IsMerge: true}, []string{"login"}, 0, []string{"login"}},
		{"indicator counts once per word", &models.Commit{Message: "new new new"}, []string{"new"}, 2*3 + 3 + 1, []string{"new"}},
		{"no match", &models.Commit{Message: "unrelated"}, []string{"login"}, 0, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, matched := Score(tt.commit, tt.keywords)
			assert.Equal(t, tt.score, score)
			assert.Equal(t, tt.matched, matched)
		})
	}
}

func TestCommitsByFilePattern(t *testing.T) {
	s, repoID := setupSearcher(t)
	ctx := context.Background()

	commits, err := s.CommitsByFilePattern(ctx, repoID, "web/*.go")
	require.NoError(t, err)
	require.Len(t, commits, 3, "h4 touches two matching files but is listed once")
	assert.Equal(t, "h1", commits[0].Hash)
	assert.Equal(t, "h3", commits[1].Hash)
	assert.Equal(t, "h4", commits[2].Hash)

	commits, err = s.CommitsByFilePattern(ctx, repoID, "*.md")
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "h2", commits[0].Hash)

	_, err = s.CommitsByFilePattern(ctx, repoID, " ")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))
}

func TestFeatureCategories(t *testing.T) {
	s, repoID := setupSearcher(t)

	features, err := s.FeatureCategories(context.Background(), repoID)
	require.NoError(t, err)
	assert.Equal(t, 4, features.TotalCommits)
	require.Len(t, features.Features, 2)
	assert.Equal(t, 2, features.FeatureDiversity)

	refactor := features.Features[0]
	assert.Equal(t, "refactor", refactor.Category)
	require.Len(t, refactor.RecentCommits, 1)
	assert.Equal(t, "h4", refactor.RecentCommits[0].Hash)

	update := features.Features[1]
	assert.Equal(t, "update", update.Category)
	require.Len(t, update.RecentCommits, 1)
	assert.Equal(t, "h2", update.RecentCommits[0].Hash)

	require.NotNil(t, features.MostActiveFeature)
	assert.Equal(t, "Code Refactoring", *features.MostActiveFeature)
}

func TestFindFeatureCommitsFoldsNonASCIICase(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	repo := &models.Repository{URL: "https://github.com/acme/cv", Owner: "acme", Name: "cv"}
	require.NoError(t, store.CreateRepository(ctx, repo))
	res := ingestion.NewPipeline(store, nil, ingestion.Options{}).Ingest(ctx, repo.ID, ingestion.NewSliceSource([]*ingestion.RawCommit{
		{Hash: "u1", AuthorName: "alice", AuthorEmail: "alice@example.com", Timestamp: t0, Message: "Add RÉSUMÉ export"},
		{Hash: "u2", AuthorName: "alice", AuthorEmail: "alice@example.com", Timestamp: t0.Add(time.Hour), Message: "fix typo"},
	}))
	require.True(t, res.Success)

	results, err := NewSearcher(store, nil).FindFeatureCommits(ctx, repo.ID, []string{"résumé"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "u1", results[0].Hash)
	assert.Equal(t, []string{"résumé"}, results[0].MatchedKeywords)
	// occurrence, title and the "add" indicator
	assert.Equal(t, 6, results[0].RelevanceScore)
}
