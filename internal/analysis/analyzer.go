package analysis

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/rohankatakam/timemachine/internal/errors"
	"github.com/rohankatakam/timemachine/internal/ingestion"
	"github.com/rohankatakam/timemachine/internal/models"
	"github.com/rohankatakam/timemachine/internal/ownership"
	"github.com/rohankatakam/timemachine/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Result states reported by Start
const (
	StateStarted          = "started"
	StateAlreadyAnalyzing = "already_analyzing"
)

// SourceOpener opens the commit source of a repository
type SourceOpener func(ctx context.Context, repo *models.Repository) (ingestion.Source, error)

// StartResult reports the outcome of Start
type StartResult struct {
	Success    bool            `json:"success" yaml:"success"`
	AnalysisID string          `json:"analysis_id,omitempty" yaml:"analysis_id,omitempty"`
	RepoID     int64           `json:"repo_id" yaml:"repo_id"`
	State      string          `json:"status,omitempty" yaml:"status,omitempty"`
	Failure    *errors.Failure `json:"failure,omitempty" yaml:"failure,omitempty"`
}

// RunResult reports a finished analysis
type RunResult struct {
	Success    bool                    `json:"success" yaml:"success"`
	AnalysisID string                  `json:"analysis_id,omitempty" yaml:"analysis_id,omitempty"`
	RepoID     int64                   `json:"repo_id" yaml:"repo_id"`
	Ingestion  *ingestion.IngestResult `json:"ingestion,omitempty" yaml:"ingestion,omitempty"`
	Ownership  *ownership.Result       `json:"ownership,omitempty" yaml:"ownership,omitempty"`
	Duration   time.Duration           `json:"duration" yaml:"duration"`
	Failure    *errors.Failure         `json:"failure,omitempty" yaml:"failure,omitempty"`
}

// Analyzer runs full repository analysis: commit ingestion followed by an
// ownership recompute
type Analyzer struct {
	store     storage.Store
	registry  *Registry
	pipeline  *ingestion.Pipeline
	ownership *ownership.Aggregator
	open      SourceOpener
	logger    *logrus.Entry
	wg        sync.WaitGroup
}

// NewAnalyzer creates an analyzer
func NewAnalyzer(
	store storage.Store,
	registry *Registry,
	pipeline *ingestion.Pipeline,
	aggregator *ownership.Aggregator,
	open SourceOpener,
	logger *logrus.Logger,
) *Analyzer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Analyzer{
		store:     store,
		registry:  registry,
		pipeline:  pipeline,
		ownership: aggregator,
		open:      open,
		logger:    logger.WithField("component", "analysis"),
	}
}

// Start launches analysis of a repository in the background and returns
// immediately. A repository already being analyzed yields the running
// analysis id instead of a second run. The run outlives ctx.
func (a *Analyzer) Start(ctx context.Context, repoID int64) *StartResult {
	repo, failure := a.repository(ctx, repoID)
	if failure != nil {
		return &StartResult{RepoID: repoID, Failure: failure}
	}

	st, started := a.registry.Begin(repo.Key(), repo.ID)
	if !started {
		a.logger.WithFields(logrus.Fields{
			"repo":        repo.Key(),
			"analysis_id": st.AnalysisID,
		}).Info("Analysis already in progress")
		return &StartResult{Success: true, AnalysisID: st.AnalysisID, RepoID: repo.ID, State: StateAlreadyAnalyzing}
	}

	bg := context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.execute(bg, repo, st.AnalysisID)
	}()

	return &StartResult{Success: true, AnalysisID: st.AnalysisID, RepoID: repo.ID, State: StateStarted}
}

// Run analyzes a repository and waits for the result. It honors the same
// single-flight gate as Start.
func (a *Analyzer) Run(ctx context.Context, repoID int64) *RunResult {
	repo, failure := a.repository(ctx, repoID)
	if failure != nil {
		return &RunResult{RepoID: repoID, Failure: failure}
	}

	st, started := a.registry.Begin(repo.Key(), repo.ID)
	if !started {
		return &RunResult{
			RepoID:     repo.ID,
			AnalysisID: st.AnalysisID,
			Failure: errors.ValidationErrorf("analysis already in progress for %s", repo.Key()).
				WithCode("already_analyzing").Failure(),
		}
	}
	return a.execute(ctx, repo, st.AnalysisID)
}

// RunAll analyzes several repositories concurrently, at most limit at a
// time. Results are in input order.
func (a *Analyzer) RunAll(ctx context.Context, repoIDs []int64, limit int) []*RunResult {
	results := make([]*RunResult, len(repoIDs))

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, id := range repoIDs {
		i, id := i, id
		g.Go(func() error {
			results[i] = a.Run(ctx, id)
			return nil
		})
	}
	g.Wait()

	return results
}

// Wait blocks until every background run launched by Start has finished
func (a *Analyzer) Wait() {
	a.wg.Wait()
}

// Status returns the progress of a repository's analysis. The in-memory
// record wins while retained; afterwards the durable repository status is
// reported.
func (a *Analyzer) Status(ctx context.Context, repoID int64) (*Status, error) {
	repo, err := a.store.GetRepository(ctx, repoID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NotFoundErrorf("repository not found: %d", repoID)
	}
	if err != nil {
		return nil, errors.DatabaseError(err, "loading repository")
	}

	if st, ok := a.registry.Get(repo.Key()); ok {
		return &st, nil
	}

	st := &Status{
		RepoID:     repo.ID,
		RepoKey:    repo.Key(),
		State:      repo.Status,
		Error:      repo.ErrorMessage,
		FinishedAt: repo.LastAnalyzed,
	}
	switch repo.Status {
	case models.StatusCompleted:
		st.Step, st.Progress = StepCompleted.Name, StepCompleted.Progress
	case models.StatusError:
		st.Step = "Analysis failed"
	case models.StatusAnalyzing:
		st.Step = StepStarting.Name
	default:
		st.Step = "Not analyzed"
	}
	return st, nil
}

func (a *Analyzer) repository(ctx context.Context, repoID int64) (*models.Repository, *errors.Failure) {
	repo, err := a.store.GetRepository(ctx, repoID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NotFoundErrorf("repository not found: %d", repoID).WithCode("repository_not_found").Failure()
	}
	if err != nil {
		return nil, errors.DatabaseError(err, "loading repository").WithCode("analysis_failed").Failure()
	}
	return repo, nil
}

// execute runs one analysis to completion. A panic is reported as a
// failed run and never leaves the repository marked as analyzing.
func (a *Analyzer) execute(ctx context.Context, repo *models.Repository, analysisID string) (result *RunResult) {
	start := time.Now()
	key := repo.Key()
	log := a.logger.WithFields(logrus.Fields{
		"repo":        key,
		"repo_id":     repo.ID,
		"analysis_id": analysisID,
	})
	result = &RunResult{RepoID: repo.ID, AnalysisID: analysisID}

	fail := func(failure *errors.Failure) *RunResult {
		result.Success = false
		result.Failure = failure
		result.Duration = time.Since(start)
		a.registry.Fail(key, failure.Detail)
		if err := a.store.SetRepositoryStatus(ctx, repo.ID, models.StatusError, &failure.Detail); err != nil {
			log.WithError(err).Error("Failed to record analysis failure")
		}
		log.WithField("error", failure.Detail).Error("Analysis failed")
		return result
	}

	defer func() {
		if r := recover(); r != nil {
			err := errors.InternalErrorf("analysis panicked: %v", r).WithContext("analysis_id", analysisID)
			log.Error(err.DetailedString())
			result = fail(errors.FailureOf(err, "analysis_failed"))
		}
	}()

	log.Info("Starting analysis")
	if err := a.store.SetRepositoryStatus(ctx, repo.ID, models.StatusAnalyzing, nil); err != nil {
		return fail(errors.DatabaseError(err, "marking repository as analyzing").WithCode("analysis_failed").Failure())
	}

	src, err := a.open(ctx, repo)
	if err != nil {
		return fail(errors.ExternalError(err, "opening commit source").WithCode("source_unavailable").Failure())
	}

	a.registry.Advance(key, StepCommits)
	result.Ingestion = a.pipeline.Ingest(ctx, repo.ID, src)
	if err := src.Close(); err != nil {
		log.WithError(err).Debug("Closing commit source")
	}
	if !result.Ingestion.Success {
		return fail(result.Ingestion.Failure)
	}

	a.registry.Advance(key, StepOwnership)
	result.Ownership = a.ownership.AnalyzeRepository(ctx, repo.ID)
	if !result.Ownership.Success {
		return fail(result.Ownership.Failure)
	}

	a.registry.Complete(key)
	result.Success = true
	result.Duration = time.Since(start)
	log.WithFields(logrus.Fields{
		"commits":  result.Ingestion.CommitsProcessed,
		"files":    result.Ownership.FilesAnalyzed,
		"duration": result.Duration,
	}).Info("Analysis completed")
	return result
}
