package analysis

import (
	"sync"
	"testing"
	"time"

	"github.com/rohankatakam/timemachine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySingleFlight(t *testing.T) {
	r := NewRegistry(time.Hour)

	first, started := r.Begin("acme/widgets", 1)
	require.True(t, started)
	assert.NotEmpty(t, first.AnalysisID)
	assert.Equal(t, models.StatusAnalyzing, first.State)
	assert.Equal(t, StepStarting.Name, first.Step)

	second, started := r.Begin("acme/widgets", 1)
	assert.False(t, started)
	assert.Equal(t, first.AnalysisID, second.AnalysisID)

	other, started := r.Begin("acme/gadgets", 2)
	assert.True(t, started)
	assert.NotEqual(t, first.AnalysisID, other.AnalysisID)
}

func TestRegistryConcurrentBegin(t *testing.T) {
	r := NewRegistry(time.Hour)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, started := r.Begin("acme/widgets", 1); started {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestRegistryProgressAndRestart(t *testing.T) {
	r := NewRegistry(time.Hour)
	first, _ := r.Begin("k", 1)

	r.Advance("k", StepOwnership)
	st, ok := r.Get("k")
	require.True(t, ok)
	assert.Equal(t, 70, st.Progress)
	assert.Equal(t, "Analyzing code ownership", st.Step)

	r.Complete("k")
	st, _ = r.Get("k")
	assert.Equal(t, models.StatusCompleted, st.State)
	assert.Equal(t, 100, st.Progress)
	require.NotNil(t, st.FinishedAt)

	r.Advance("k", StepCommits)
	st, _ = r.Get("k")
	assert.Equal(t, 100, st.Progress, "finished runs do not move")

	next, started := r.Begin("k", 1)
	assert.True(t, started, "a finished run does not block a new one")
	assert.NotEqual(t, first.AnalysisID, next.AnalysisID)
}

func TestRegistryFail(t *testing.T) {
	r := NewRegistry(time.Hour)
	r.Begin("k", 1)
	r.Advance("k", StepCommits)
	r.Fail("k", "disk full")

	st, ok := r.Get("k")
	require.True(t, ok)
	assert.Equal(t, models.StatusError, st.State)
	assert.Equal(t, 30, st.Progress)
	require.NotNil(t, st.Error)
	assert.Equal(t, "disk full", *st.Error)
}

func TestRegistryEvictsAfterRetention(t *testing.T) {
	r := NewRegistry(time.Hour)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	r.Begin("k", 1)
	r.Complete("k")

	clock = clock.Add(59 * time.Minute)
	_, ok := r.Get("k")
	assert.True(t, ok)

	clock = clock.Add(2 * time.Minute)
	_, ok = r.Get("k")
	assert.False(t, ok)

	r.Begin("running", 2)
	clock = clock.Add(24 * time.Hour)
	_, ok = r.Get("running")
	assert.True(t, ok, "in-flight runs are never evicted")

	r.Clear("running")
	_, ok = r.Get("running")
	assert.False(t, ok)
}
