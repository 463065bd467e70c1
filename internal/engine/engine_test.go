package engine

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rohankatakam/timemachine/internal/config"
	"github.com/rohankatakam/timemachine/internal/errors"
	"github.com/rohankatakam/timemachine/internal/logging"
	"github.com/rohankatakam/timemachine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, backend string) *config.Config {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(dir, "data", "ctm.db")
	cfg.Cache.Backend = backend
	cfg.Cache.BoltPath = filepath.Join(dir, "data", "cache.bolt")
	return cfg
}

func newEngine(t *testing.T, backend string) *Engine {
	t.Helper()
	e, err := New(context.Background(), testConfig(t, backend), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-c", "commit.gpgsign=false"}, args...)...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Alice", "GIT_AUTHOR_EMAIL=alice@example.com",
		"GIT_COMMITTER_NAME=Alice", "GIT_COMMITTER_EMAIL=alice@example.com",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
}

func TestNewRejectsUnknownBackends(t *testing.T) {
	cfg := testConfig(t, "memcached")
	_, err := New(context.Background(), cfg, logging.Discard())
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeConfig, errors.GetType(err))

	cfg = testConfig(t, "sql")
	cfg.Storage.Type = "postgres"
	cfg.Storage.DSN = ""
	_, err = New(context.Background(), cfg, logging.Discard())
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeConfig, errors.GetType(err))
}

func TestRegisterLocalRequiresWorkingCopy(t *testing.T) {
	e := newEngine(t, "sql")

	_, err := e.RegisterLocal(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))
}

func TestOpenLocalSourceRequiresLocalURL(t *testing.T) {
	_, err := OpenLocalSource(context.Background(), &models.Repository{URL: "https://github.com/acme/widgets"})
	require.Error(t, err)
}

func TestAnalyzeLocalRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	for _, backend := range []string{"sql", "bolt"} {
		t.Run(backend, func(t *testing.T) {
			e := newEngine(t, backend)
			ctx := context.Background()

			dir := filepath.Join(t.TempDir(), "acme", "widgets")
			require.NoError(t, os.MkdirAll(dir, 0755))
			runGit(t, dir, "init", "-q")
			require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0644))
			runGit(t, dir, "add", ".")
			runGit(t, dir, "commit", "-q", "-m", "feat: add login entrypoint")

			repo, err := e.RegisterLocal(ctx, dir)
			require.NoError(t, err)
			assert.Equal(t, "acme", repo.Owner)
			assert.Equal(t, "widgets", repo.Name)

			again, err := e.RegisterLocal(ctx, dir)
			require.NoError(t, err)
			assert.Equal(t, repo.ID, again.ID)

			result := e.Analysis.Run(ctx, repo.ID)
			require.True(t, result.Success, "%+v", result.Failure)

			fo, err := e.Ownership.FileOwnership(ctx, repo.ID, "main.go")
			require.NoError(t, err)
			require.NotNil(t, fo.PrimaryOwner)
			assert.Equal(t, "Alice", fo.PrimaryOwner.AuthorName)

			file, err := e.Store.GetFileByPath(ctx, repo.ID, "main.go")
			require.NoError(t, err)
			assert.Equal(t, 3, file.CurrentLines)

			hits, err := e.Search.FindFeatureCommits(ctx, repo.ID, []string{"login"})
			require.NoError(t, err)
			require.Len(t, hits, 1)

			_, err = e.Cache.Put(ctx, repo.ID, "who owns main.go", "Alice")
			require.NoError(t, err)
			entry, ok, err := e.Cache.Get(ctx, repo.ID, "Who owns main.go ")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "Alice", entry.Response)

			require.NoError(t, e.Forget(ctx, repo.ID))
			_, err = e.Repository(ctx, repo.ID)
			assert.True(t, errors.IsNotFound(err))
		})
	}
}
