package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rohankatakam/timemachine/internal/models"
	"github.com/rohankatakam/timemachine/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPipeline(t *testing.T) (*Pipeline, *storage.SQLStore, *models.Repository) {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	repo := &models.Repository{URL: "https://github.com/acme/widgets", Owner: "acme", Name: "widgets", Status: models.StatusAnalyzing}
	require.NoError(t, store.CreateRepository(context.Background(), repo))

	return NewPipeline(store, nil, Options{ProgressEvery: 1}), store, repo
}

func sampleHistory() []*RawCommit {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return []*RawCommit{
		{
			Hash: "c1", AuthorName: "alice", AuthorEmail: "alice@example.com",
			Timestamp: base, Message: "Initial commit",
			Files: []RawFile{
				{NewPath: "main.go", Kind: models.ChangeAdded, Added: 100},
				{NewPath: "README", Kind: models.ChangeAdded, Added: 10},
			},
		},
		{
			Hash: "c2", AuthorName: "bob", AuthorEmail: "bob@example.com",
			Timestamp: base.Add(time.Hour), Message: "fix: handle nil config",
			Files: []RawFile{
				{NewPath: "main.go", OldPath: "main.go", Kind: models.ChangeModified, Added: 20, Deleted: 5},
			},
		},
		{
			Hash: "c3", AuthorName: "alice", AuthorEmail: "alice@example.com",
			Timestamp: base.Add(2 * time.Hour), Message: "refactor: move main",
			Files: []RawFile{
				{NewPath: "cmd/main.go", OldPath: "main.go", Kind: models.ChangeRenamed, Added: 1, Deleted: 1},
				{OldPath: "README", Kind: models.ChangeDeleted, Deleted: 10},
			},
		},
	}
}

func TestIngestWritesLedgerIdentitiesAndJournal(t *testing.T) {
	pipeline, store, repo := setupPipeline(t)
	ctx := context.Background()

	result := pipeline.Ingest(ctx, repo.ID, NewSliceSource(sampleHistory()))
	require.True(t, result.Success, "%+v", result.Failure)
	assert.Equal(t, 3, result.CommitsProcessed)
	assert.Equal(t, 3, result.FilesTracked)
	assert.Equal(t, 2, result.UniqueAuthors)

	mainFile, err := store.GetFileByPath(ctx, repo.ID, "main.go")
	require.NoError(t, err)
	assert.Equal(t, 2, mainFile.TotalCommits)
	assert.Equal(t, "main.go", mainFile.Filename)

	moved, err := store.GetFileByPath(ctx, repo.ID, "cmd/main.go")
	require.NoError(t, err)
	assert.Equal(t, 1, moved.TotalCommits, "a renamed path starts a new identity")

	history, err := store.FileHistory(ctx, moved.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ChangeRenamed, history[0].ChangeType)
	require.NotNil(t, history[0].OldPath)
	assert.Equal(t, "main.go", *history[0].OldPath)

	readme, err := store.GetFileByPath(ctx, repo.ID, "README")
	require.NoError(t, err)
	assert.True(t, readme.IsDeleted)
	assert.Nil(t, readme.Extension)

	got, err := store.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 3, got.TotalCommits)
	assert.Equal(t, 3, got.TotalFiles)
	assert.Equal(t, 2, got.TotalAuthors)

	commits, err := store.ListCommits(ctx, repo.ID)
	require.NoError(t, err)
	require.Len(t, commits, 3)
	assert.Equal(t, 20, commits[1].Insertions)
	require.NotNil(t, commits[1].Branch)
	assert.Equal(t, "main", *commits[1].Branch)
	require.NotNil(t, commits[1].CommitterName)
	assert.Equal(t, "bob", *commits[1].CommitterName, "committer defaults to the author")
}

func TestIngestIsIdempotent(t *testing.T) {
	pipeline, store, repo := setupPipeline(t)
	ctx := context.Background()

	first := pipeline.Ingest(ctx, repo.ID, NewSliceSource(sampleHistory()))
	require.True(t, first.Success)

	filesBefore, err := store.ListFiles(ctx, repo.ID)
	require.NoError(t, err)
	changesBefore, err := store.RepositoryChanges(ctx, repo.ID)
	require.NoError(t, err)

	second := pipeline.Ingest(ctx, repo.ID, NewSliceSource(sampleHistory()))
	require.True(t, second.Success)
	assert.Equal(t, 0, second.CommitsProcessed)
	assert.Equal(t, 3, second.CommitsSkipped)

	filesAfter, err := store.ListFiles(ctx, repo.ID)
	require.NoError(t, err)
	changesAfter, err := store.RepositoryChanges(ctx, repo.ID)
	require.NoError(t, err)

	assert.Equal(t, filesBefore, filesAfter)
	assert.Equal(t, len(changesBefore), len(changesAfter))

	got, err := store.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalCommits, "rollups reflect the ledger, not the last run")
}

func TestIngestSkipsBadCommitsAndContinues(t *testing.T) {
	pipeline, store, repo := setupPipeline(t)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	commits := []*RawCommit{
		{Hash: "bad", Timestamp: ts, Message: "no author"},
		{Hash: "good", AuthorName: "alice", AuthorEmail: "a@x", Timestamp: ts, Message: "add x",
			Files: []RawFile{{Kind: models.ChangeModified, Added: 3}, {NewPath: "x.go", Kind: "weird", Added: 1}}},
	}

	result := pipeline.Ingest(ctx, repo.ID, NewSliceSource(commits))
	require.True(t, result.Success)
	assert.Equal(t, 1, result.CommitsProcessed)
	assert.Equal(t, 1, result.CommitsFailed)

	exists, err := store.CommitExists(ctx, "bad")
	require.NoError(t, err)
	assert.False(t, exists)

	files, err := store.ListFiles(ctx, repo.ID)
	require.NoError(t, err)
	require.Len(t, files, 1, "entries without a path are skipped")

	history, err := store.FileHistory(ctx, files[0].ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ChangeUnknown, history[0].ChangeType)
}

type failingSource struct{}

func (failingSource) Next(context.Context) (*RawCommit, error) {
	return nil, errors.New("git exploded")
}

func (failingSource) Close() error { return nil }

func TestIngestSourceFailureIsReported(t *testing.T) {
	pipeline, store, repo := setupPipeline(t)
	ctx := context.Background()

	result := pipeline.Ingest(ctx, repo.ID, failingSource{})
	assert.False(t, result.Success)
	require.NotNil(t, result.Failure)
	assert.Equal(t, "ingestion_failed", result.Failure.Code)
	assert.Equal(t, "EXTERNAL", result.Failure.Category)
	assert.Contains(t, result.Failure.Detail, "git exploded")

	got, err := store.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "git exploded")
}

func TestExtensionParsing(t *testing.T) {
	pipeline, store, repo := setupPipeline(t)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	result := pipeline.Ingest(ctx, repo.ID, NewSliceSource([]*RawCommit{{
		Hash: "c1", AuthorName: "alice", AuthorEmail: "a@x", Timestamp: ts, Message: "add files",
		Files: []RawFile{
			{NewPath: "dist/archive.tar.gz", Kind: models.ChangeAdded},
			{NewPath: "Makefile", Kind: models.ChangeAdded},
			{NewPath: "src/App.TSX", Kind: models.ChangeAdded},
		},
	}}))
	require.True(t, result.Success)

	archive, err := store.GetFileByPath(ctx, repo.ID, "dist/archive.tar.gz")
	require.NoError(t, err)
	require.NotNil(t, archive.Extension)
	assert.Equal(t, "gz", *archive.Extension)

	makefile, err := store.GetFileByPath(ctx, repo.ID, "Makefile")
	require.NoError(t, err)
	assert.Nil(t, makefile.Extension)

	app, err := store.GetFileByPath(ctx, repo.ID, "src/App.TSX")
	require.NoError(t, err)
	require.NotNil(t, app.Extension)
	assert.Equal(t, "tsx", *app.Extension)
}
