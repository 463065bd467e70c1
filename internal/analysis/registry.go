package analysis

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rohankatakam/timemachine/internal/models"
)

// DefaultRetention is how long a finished run stays visible in memory
const DefaultRetention = time.Hour

// Step is a named milestone of an analysis run
type Step struct {
	Name     string
	Progress int
}

// Analysis milestones
var (
	StepStarting  = Step{"Starting analysis", 0}
	StepCommits   = Step{"Analyzing commits", 30}
	StepOwnership = Step{"Analyzing code ownership", 70}
	StepCompleted = Step{"Analysis completed", 100}
)

// Status is the in-memory progress record of one analysis run
type Status struct {
	AnalysisID string                  `json:"analysis_id" yaml:"analysis_id"`
	RepoID     int64                   `json:"repo_id" yaml:"repo_id"`
	RepoKey    string                  `json:"repo_key" yaml:"repo_key"`
	State      models.RepositoryStatus `json:"status" yaml:"status"`
	Step       string                  `json:"step" yaml:"step"`
	Progress   int                     `json:"progress" yaml:"progress"`
	Error      *string                 `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  *time.Time              `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	FinishedAt *time.Time              `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// Registry tracks analysis runs by repository key and gates each key to a
// single run in flight. Finished records are evicted lazily once older
// than the retention window.
type Registry struct {
	mu        sync.Mutex
	runs      map[string]*Status
	retention time.Duration
	now       func() time.Time
}

// NewRegistry creates a registry
func NewRegistry(retention time.Duration) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Registry{
		runs:      make(map[string]*Status),
		retention: retention,
		now:       time.Now,
	}
}

// Begin starts a run for key. When a run for key is already in flight it
// returns that run and false.
func (r *Registry) Begin(key string, repoID int64) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.runs[key]; ok && cur.State == models.StatusAnalyzing {
		return *cur, false
	}

	started := r.now().UTC()
	st := &Status{
		AnalysisID: uuid.NewString(),
		RepoID:     repoID,
		RepoKey:    key,
		State:      models.StatusAnalyzing,
		Step:       StepStarting.Name,
		Progress:   StepStarting.Progress,
		StartedAt:  &started,
	}
	r.runs[key] = st
	return *st, true
}

// Advance moves an in-flight run to step
func (r *Registry) Advance(key string, step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.runs[key]; ok && cur.State == models.StatusAnalyzing {
		cur.Step = step.Name
		cur.Progress = step.Progress
	}
}

// Complete marks the run for key as finished successfully
func (r *Registry) Complete(key string) {
	r.finish(key, models.StatusCompleted, StepCompleted.Name, nil)
}

// Fail marks the run for key as failed with detail
func (r *Registry) Fail(key, detail string) {
	r.finish(key, models.StatusError, "Analysis failed", &detail)
}

func (r *Registry) finish(key string, state models.RepositoryStatus, step string, detail *string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.runs[key]
	if !ok {
		return
	}
	finished := r.now().UTC()
	cur.State = state
	cur.Step = step
	cur.Error = detail
	cur.FinishedAt = &finished
	if state == models.StatusCompleted {
		cur.Progress = StepCompleted.Progress
	}
}

// Get returns the record for key, evicting it if it finished more than the
// retention window ago
func (r *Registry) Get(key string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.runs[key]
	if !ok {
		return Status{}, false
	}
	if cur.FinishedAt != nil && r.now().Sub(*cur.FinishedAt) > r.retention {
		delete(r.runs, key)
		return Status{}, false
	}
	return *cur, true
}

// Clear drops the record for key
func (r *Registry) Clear(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, key)
}
