package analysis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rohankatakam/timemachine/internal/ingestion"
	"github.com/rohankatakam/timemachine/internal/models"
	"github.com/rohankatakam/timemachine/internal/ownership"
	"github.com/rohankatakam/timemachine/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

func history(prefix string) []*ingestion.RawCommit {
	return []*ingestion.RawCommit{
		{Hash: prefix + "1", AuthorName: "alice", AuthorEmail: "alice@example.com", Timestamp: epoch, Message: "initial",
			Files: []ingestion.RawFile{{NewPath: "main.go", Kind: models.ChangeAdded, Added: 30}}},
		{Hash: prefix + "2", AuthorName: "bob", AuthorEmail: "bob@example.com", Timestamp: epoch.Add(time.Hour), Message: "fix main",
			Files: []ingestion.RawFile{{NewPath: "main.go", Kind: models.ChangeModified, Added: 10, Deleted: 2}}},
	}
}

type fixture struct {
	store    storage.Store
	registry *Registry
	analyzer *Analyzer
}

func newFixture(t *testing.T, open SourceOpener) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := NewRegistry(time.Hour)
	a := NewAnalyzer(
		store,
		registry,
		ingestion.NewPipeline(store, nil, ingestion.Options{}),
		ownership.NewAggregator(store, nil),
		open,
		nil,
	)
	return &fixture{store: store, registry: registry, analyzer: a}
}

func (f *fixture) createRepo(t *testing.T, name string) *models.Repository {
	t.Helper()
	repo := &models.Repository{URL: "https://github.com/acme/" + name, Owner: "acme", Name: name}
	require.NoError(t, f.store.CreateRepository(context.Background(), repo))
	return repo
}

func sliceOpener(ctx context.Context, repo *models.Repository) (ingestion.Source, error) {
	return ingestion.NewSliceSource(history(repo.Name)), nil
}

func TestRunAnalyzesRepository(t *testing.T) {
	f := newFixture(t, sliceOpener)
	ctx := context.Background()
	repo := f.createRepo(t, "widgets")

	result := f.analyzer.Run(ctx, repo.ID)
	require.True(t, result.Success, "%+v", result.Failure)
	assert.NotEmpty(t, result.AnalysisID)
	assert.Equal(t, 2, result.Ingestion.CommitsProcessed)
	assert.Equal(t, 1, result.Ownership.FilesAnalyzed)

	stored, err := f.store.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.TotalCommits)
	assert.Equal(t, 2, stored.TotalAuthors)

	st, err := f.analyzer.Status(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, result.AnalysisID, st.AnalysisID)
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, StepCompleted.Name, st.Step)
}

func TestStartIsSingleFlight(t *testing.T) {
	release := make(chan struct{})
	opened := make(chan struct{}, 1)
	f := newFixture(t, func(ctx context.Context, repo *models.Repository) (ingestion.Source, error) {
		opened <- struct{}{}
		<-release
		return sliceOpener(ctx, repo)
	})
	ctx := context.Background()
	repo := f.createRepo(t, "widgets")

	first := f.analyzer.Start(ctx, repo.ID)
	require.True(t, first.Success)
	assert.Equal(t, StateStarted, first.State)
	<-opened

	second := f.analyzer.Start(ctx, repo.ID)
	require.True(t, second.Success)
	assert.Equal(t, StateAlreadyAnalyzing, second.State)
	assert.Equal(t, first.AnalysisID, second.AnalysisID)

	blocked := f.analyzer.Run(ctx, repo.ID)
	assert.False(t, blocked.Success)
	assert.Equal(t, "already_analyzing", blocked.Failure.Code)

	st, err := f.analyzer.Status(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAnalyzing, st.State)

	close(release)
	f.analyzer.Wait()

	st, err = f.analyzer.Status(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, st.State)
	assert.Equal(t, first.AnalysisID, st.AnalysisID)
}

func TestStartSurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t, sliceOpener)
	repo := f.createRepo(t, "widgets")

	ctx, cancel := context.WithCancel(context.Background())
	res := f.analyzer.Start(ctx, repo.ID)
	cancel()
	require.True(t, res.Success)
	f.analyzer.Wait()

	st, err := f.analyzer.Status(context.Background(), repo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, st.State)
}

func TestRunSourceFailure(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, repo *models.Repository) (ingestion.Source, error) {
		return nil, fmt.Errorf("no working copy for %s", repo.Key())
	})
	ctx := context.Background()
	repo := f.createRepo(t, "widgets")

	result := f.analyzer.Run(ctx, repo.ID)
	assert.False(t, result.Success)
	require.NotNil(t, result.Failure)
	assert.Equal(t, "source_unavailable", result.Failure.Code)
	assert.Equal(t, "EXTERNAL", result.Failure.Category)

	stored, err := f.store.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "no working copy")

	st, err := f.analyzer.Status(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, st.State)

	// the durable row is reported once the in-memory record is gone
	f.registry.Clear(repo.Key())
	st, err = f.analyzer.Status(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, st.State)
	assert.Empty(t, st.AnalysisID)
	require.NotNil(t, st.Error)
}

func TestStartRecoversFromPanic(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, repo *models.Repository) (ingestion.Source, error) {
		panic("corrupt pack")
	})
	ctx := context.Background()
	repo := f.createRepo(t, "widgets")

	started := f.analyzer.Start(ctx, repo.ID)
	require.True(t, started.Success)
	f.analyzer.Wait()

	st, err := f.analyzer.Status(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, st.State)
	require.NotNil(t, st.Error)
	assert.Contains(t, *st.Error, "corrupt pack")

	stored, err := f.store.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, stored.Status)

	// the gate is released, so the next run is not reported as in progress
	result := f.analyzer.Run(ctx, repo.ID)
	assert.False(t, result.Success)
	require.NotNil(t, result.Failure)
	assert.Equal(t, "analysis_failed", result.Failure.Code)
	assert.Equal(t, "INTERNAL", result.Failure.Category)
}

func TestRunUnknownRepository(t *testing.T) {
	f := newFixture(t, sliceOpener)

	result := f.analyzer.Run(context.Background(), 999)
	assert.False(t, result.Success)
	assert.Equal(t, "repository_not_found", result.Failure.Code)

	start := f.analyzer.Start(context.Background(), 999)
	assert.False(t, start.Success)
	assert.Equal(t, "repository_not_found", start.Failure.Code)

	_, err := f.analyzer.Status(context.Background(), 999)
	require.Error(t, err)
}

func TestRunAll(t *testing.T) {
	f := newFixture(t, sliceOpener)
	ids := []int64{
		f.createRepo(t, "widgets").ID,
		f.createRepo(t, "gadgets").ID,
		f.createRepo(t, "gizmos").ID,
	}

	results := f.analyzer.RunAll(context.Background(), ids, 2)
	require.Len(t, results, 3)
	for i, r := range results {
		require.True(t, r.Success, "%+v", r.Failure)
		assert.Equal(t, ids[i], r.RepoID)
	}
}
