package patterns

import (
	"testing"
	"time"

	"github.com/rohankatakam/timemachine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		message  string
		expected string
	}{
		{"Fix: refactor the parser", TypeFix},
		{"feat(api): add endpoint", TypeFeat},
		{"Feature flag cleanup", TypeFeat},
		{"bugfix for login", TypeFix},
		{"docs: update readme", TypeDocs},
		{"style: gofmt", TypeStyle},
		{"refactor storage layer", TypeRefactor},
		{"tests for parser", TypeTest},
		{"chore: bump deps", TypeChore},
		{"Merged PR 12", TypeMerge},
		{"Initial commit", TypeInitial},
		{"update dependencies", TypeUpdate},
		{"Added tests", TypeAdd},
		{"Delete old files", TypeRemove},
		{"   FIX leading whitespace", TypeFix},
		{"Bump version", TypeOther},
		{"", TypeOther},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.message))
		})
	}
}

func commitAt(msg string, ts time.Time) *models.Commit {
	return &models.Commit{Message: msg, Timestamp: ts}
}

func TestSummarize(t *testing.T) {
	// 2024-06-02 is a Sunday
	sunday := time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)
	commits := []*models.Commit{
		commitAt("fix one", sunday),
		commitAt("fix two", sunday.Add(24*time.Hour)),
		commitAt("feat three", sunday.Add(24*time.Hour+5*time.Hour)),
		commitAt("misc", sunday.Add(48*time.Hour+5*time.Hour)),
	}

	s := Summarize(commits)
	assert.Equal(t, 4, s.TotalCommits)
	assert.Equal(t, map[string]int{"fix": 2, "feat": 1, "other": 1}, s.MessageTypes)
	assert.InDelta(t, (7.0+7+10+4)/4, s.AverageMessageLength, 0.001)
	assert.Equal(t, map[int]int{9: 2, 14: 2}, s.HourlyDistribution)
	assert.Equal(t, map[string]int{"Sunday": 1, "Monday": 2, "Tuesday": 1}, s.DailyDistribution)

	require.NotNil(t, s.MostActiveHour)
	assert.Equal(t, 9, *s.MostActiveHour, "ties go to the earliest hour")
	require.NotNil(t, s.MostActiveDay)
	assert.Equal(t, "Monday", *s.MostActiveDay)
}

func TestSummarizeUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	s := Summarize([]*models.Commit{commitAt("x", time.Date(2024, 6, 2, 1, 0, 0, 0, loc))})
	assert.Equal(t, map[int]int{23: 1}, s.HourlyDistribution)
	assert.Equal(t, "Saturday", *s.MostActiveDay)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.TotalCommits)
	assert.Nil(t, s.MostActiveHour)
	assert.Nil(t, s.MostActiveDay)
	assert.Equal(t, 0.0, s.AverageMessageLength)
}
