package patterns

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rohankatakam/timemachine/internal/models"
)

// Commit message categories
const (
	TypeFeat     = "feat"
	TypeFix      = "fix"
	TypeDocs     = "docs"
	TypeStyle    = "style"
	TypeRefactor = "refactor"
	TypeTest     = "test"
	TypeChore    = "chore"
	TypeMerge    = "merge"
	TypeInitial  = "initial"
	TypeUpdate   = "update"
	TypeAdd      = "add"
	TypeRemove   = "remove"
	TypeOther    = "other"
)

type typePattern struct {
	name string
	re   *regexp.Regexp
}

// typePatterns are tried in order; the first match wins
var typePatterns = []typePattern{
	{TypeFeat, regexp.MustCompile(`^(feat|feature)`)},
	{TypeFix, regexp.MustCompile(`^(fix|bugfix)`)},
	{TypeDocs, regexp.MustCompile(`^(docs|doc)`)},
	{TypeStyle, regexp.MustCompile(`^style`)},
	{TypeRefactor, regexp.MustCompile(`^refactor`)},
	{TypeTest, regexp.MustCompile(`^test`)},
	{TypeChore, regexp.MustCompile(`^chore`)},
	{TypeMerge, regexp.MustCompile(`^(merge|merged)`)},
	{TypeInitial, regexp.MustCompile(`^(initial|init)`)},
	{TypeUpdate, regexp.MustCompile(`^update`)},
	{TypeAdd, regexp.MustCompile(`^(add|added)`)},
	{TypeRemove, regexp.MustCompile(`^(remove|removed|delete)`)},
}

// Classify returns the category of a commit message
func Classify(message string) string {
	msg := strings.ToLower(strings.TrimSpace(message))
	for _, p := range typePatterns {
		if p.re.MatchString(msg) {
			return p.name
		}
	}
	return TypeOther
}

// Summary is the commit-type histogram and activity distribution of a
// repository
type Summary struct {
	TotalCommits         int            `json:"total_commits" yaml:"total_commits"`
	MessageTypes         map[string]int `json:"message_types" yaml:"message_types"`
	AverageMessageLength float64        `json:"average_message_length" yaml:"average_message_length"`
	HourlyDistribution   map[int]int    `json:"hourly_distribution" yaml:"hourly_distribution"`
	DailyDistribution    map[string]int `json:"daily_distribution" yaml:"daily_distribution"`
	MostActiveHour       *int           `json:"most_active_hour" yaml:"most_active_hour"`
	MostActiveDay        *string        `json:"most_active_day" yaml:"most_active_day"`
}

// Summarize classifies every commit and builds the hour-of-day and
// day-of-week histograms from commit timestamps in UTC. Ties for the most
// active hour go to the earliest hour and for the most active day to the
// earliest weekday, Sunday first.
func Summarize(commits []*models.Commit) *Summary {
	s := &Summary{
		TotalCommits:       len(commits),
		MessageTypes:       make(map[string]int),
		HourlyDistribution: make(map[int]int),
		DailyDistribution:  make(map[string]int),
	}
	if len(commits) == 0 {
		return s
	}

	var (
		totalLength int
		hours       [24]int
		days        [7]int
	)
	for _, c := range commits {
		s.MessageTypes[Classify(c.Message)]++
		totalLength += utf8.RuneCountInString(c.Message)

		ts := c.Timestamp.UTC()
		hours[ts.Hour()]++
		days[ts.Weekday()]++
	}
	s.AverageMessageLength = float64(totalLength) / float64(len(commits))

	bestHour := 0
	for h, n := range hours {
		if n == 0 {
			continue
		}
		s.HourlyDistribution[h] = n
		if n > hours[bestHour] {
			bestHour = h
		}
	}

	bestDay := time.Sunday
	for d, n := range days {
		if n == 0 {
			continue
		}
		s.DailyDistribution[time.Weekday(d).String()] = n
		if n > days[bestDay] {
			bestDay = time.Weekday(d)
		}
	}

	dayName := bestDay.String()
	s.MostActiveHour = &bestHour
	s.MostActiveDay = &dayName
	return s
}
