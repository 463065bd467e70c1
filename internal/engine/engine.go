package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rohankatakam/timemachine/internal/analysis"
	"github.com/rohankatakam/timemachine/internal/cache"
	"github.com/rohankatakam/timemachine/internal/config"
	"github.com/rohankatakam/timemachine/internal/errors"
	"github.com/rohankatakam/timemachine/internal/ingestion"
	"github.com/rohankatakam/timemachine/internal/models"
	"github.com/rohankatakam/timemachine/internal/ownership"
	"github.com/rohankatakam/timemachine/internal/patterns"
	"github.com/rohankatakam/timemachine/internal/search"
	"github.com/rohankatakam/timemachine/internal/storage"
	"github.com/sirupsen/logrus"
)

const localScheme = "file://"

// Engine wires storage, analysis and the read-side services from config
type Engine struct {
	Config    *config.Config
	Store     storage.Store
	Cache     *cache.Cache
	Ownership *ownership.Aggregator
	Patterns  *patterns.Analyzer
	Search    *search.Searcher
	Analysis  *analysis.Analyzer

	logger *logrus.Logger
}

// New opens the configured store and cache backend and builds every
// service on top of them
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Engine, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	backend, err := openCacheBackend(ctx, cfg, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	pipeline := ingestion.NewPipeline(store, logger, ingestion.Options{
		Branch:           cfg.Analysis.DefaultBranch,
		ProgressEvery:    cfg.Analysis.ProgressEvery,
		ProgressInterval: cfg.Analysis.ProgressInterval,
	})
	aggregator := ownership.NewAggregator(store, logger)

	e := &Engine{
		Config:    cfg,
		Store:     store,
		Cache:     cache.New(backend, cfg.CacheTTL(), logger),
		Ownership: aggregator,
		Patterns:  patterns.NewAnalyzer(store, logger),
		Search:    search.NewSearcher(store, logger),
		logger:    logger,
	}
	e.Analysis = analysis.NewAnalyzer(
		store,
		analysis.NewRegistry(cfg.Analysis.StatusRetention),
		pipeline,
		aggregator,
		OpenLocalSource,
		logger,
	)

	logger.WithFields(logrus.Fields{
		"storage": cfg.Storage.Type,
		"cache":   cfg.Cache.Backend,
	}).Debug("Engine ready")
	return e, nil
}

func openStore(cfg *config.Config, logger *logrus.Logger) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "", "sqlite":
		if cfg.Storage.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0755); err != nil {
				return nil, errors.DatabaseError(err, "creating database directory")
			}
		}
		store, err := storage.NewSQLiteStore(cfg.Storage.Path, logger)
		if err != nil {
			return nil, errors.DatabaseError(err, "opening sqlite store")
		}
		return store, nil
	case "postgres":
		if cfg.Storage.DSN == "" {
			return nil, errors.ConfigError("storage.dsn is required for postgres")
		}
		store, err := storage.NewPostgresStore(cfg.Storage.DSN, cfg.Storage.MaxOpenConns, logger)
		if err != nil {
			return nil, errors.DatabaseError(err, "opening postgres store")
		}
		return store, nil
	default:
		return nil, errors.ConfigErrorf("unknown storage type %q", cfg.Storage.Type)
	}
}

func openCacheBackend(ctx context.Context, cfg *config.Config, store storage.Store) (cache.Backend, error) {
	switch cfg.Cache.Backend {
	case "", "sql":
		return cache.NewSQLBackend(store), nil
	case "bolt":
		b, err := cache.NewBoltBackend(cfg.Cache.BoltPath)
		if err != nil {
			return nil, errors.ExternalError(err, "opening bolt cache")
		}
		return b, nil
	case "redis":
		b, err := cache.NewRedisBackend(ctx, cache.RedisOptions{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			return nil, errors.ExternalError(err, "connecting to redis cache")
		}
		return b, nil
	default:
		return nil, errors.ConfigErrorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// Close waits for background analyses and releases the cache and store
func (e *Engine) Close() error {
	e.Analysis.Wait()

	var errs []error
	if err := e.Cache.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	return stderrors.Join(errs...)
}

// RegisterLocal records the git working copy at path as a repository, or
// returns the existing record for it
func (e *Engine) RegisterLocal(ctx context.Context, path string) (*models.Repository, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.ValidationErrorf("invalid path %s: %v", path, err)
	}
	if _, err := os.Stat(filepath.Join(abs, ".git")); err != nil {
		return nil, errors.ValidationErrorf("not a git working copy: %s", abs)
	}

	url := localScheme + abs
	repo, err := e.Store.GetRepositoryByURL(ctx, url)
	if err == nil {
		return repo, nil
	}
	if !stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.DatabaseError(err, "loading repository")
	}

	owner, name := repoIdentity(ctx, abs)
	repo = &models.Repository{URL: url, Owner: owner, Name: name}
	if err := e.Store.CreateRepository(ctx, repo); err != nil {
		return nil, errors.DatabaseError(err, "registering repository")
	}

	e.logger.WithFields(logrus.Fields{
		"repo_id": repo.ID,
		"path":    abs,
	}).Info("Registered repository")
	return repo, nil
}

// Repository returns a repository by id
func (e *Engine) Repository(ctx context.Context, repoID int64) (*models.Repository, error) {
	repo, err := e.Store.GetRepository(ctx, repoID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NotFoundErrorf("repository not found: %d", repoID)
	}
	if err != nil {
		return nil, errors.DatabaseError(err, "loading repository")
	}
	return repo, nil
}

// Repositories lists repositories, most recently analyzed first
func (e *Engine) Repositories(ctx context.Context) ([]*models.Repository, error) {
	repos, err := e.Store.ListRepositories(ctx)
	if err != nil {
		return nil, errors.DatabaseError(err, "listing repositories")
	}
	return repos, nil
}

// Forget deletes a repository with everything derived from it
func (e *Engine) Forget(ctx context.Context, repoID int64) error {
	err := e.Store.DeleteRepository(ctx, repoID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return errors.NotFoundErrorf("repository not found: %d", repoID)
	}
	if err != nil {
		return errors.DatabaseError(err, "deleting repository")
	}
	return nil
}

// OpenLocalSource mines a repository registered from a local working copy.
// Remote repositories need a checkout provided by the caller.
func OpenLocalSource(ctx context.Context, repo *models.Repository) (ingestion.Source, error) {
	if !strings.HasPrefix(repo.URL, localScheme) {
		return nil, fmt.Errorf("repository %s has no local working copy", repo.URL)
	}
	return ingestion.NewGitLogSource(strings.TrimPrefix(repo.URL, localScheme), ingestion.GitLogOptions{}), nil
}
