package ownership

import (
	"context"
	"path"
	"sort"
	"time"

	"github.com/rohankatakam/timemachine/internal/errors"
	"github.com/rohankatakam/timemachine/internal/models"
	"github.com/rohankatakam/timemachine/internal/storage"
)

const (
	// PrimaryOwnerThreshold is the percentage above which an author is a
	// file's primary owner
	PrimaryOwnerThreshold = 50.0
	// HeatmapThreshold drops insignificant shares from the heat map
	HeatmapThreshold = 10.0

	noExtension = "no_extension"
	topN        = 10
)

// FileOwnership is the ranked ownership table of one file
type FileOwnership struct {
	FilePath     string              `json:"file_path" yaml:"file_path"`
	TotalOwners  int                 `json:"total_owners" yaml:"total_owners"`
	PrimaryOwner *models.Ownership   `json:"primary_owner" yaml:"primary_owner"`
	Owners       []*models.Ownership `json:"owners" yaml:"owners"`
}

// ExtensionShare aggregates one author's rows for one extension
type ExtensionShare struct {
	Files   int `json:"files" yaml:"files"`
	Lines   int `json:"lines" yaml:"lines"`
	Commits int `json:"commits" yaml:"commits"`
}

// FileShare is one file in an author's top files
type FileShare struct {
	Path       string  `json:"path" yaml:"path"`
	Percentage float64 `json:"percentage" yaml:"percentage"`
	Lines      int     `json:"lines" yaml:"lines"`
	Commits    int     `json:"commits" yaml:"commits"`
}

// AuthorSummary is one author's ownership across a repository
type AuthorSummary struct {
	AuthorName        string                    `json:"author_name" yaml:"author_name"`
	TotalFiles        int                       `json:"total_files_contributed" yaml:"total_files_contributed"`
	TotalLines        int                       `json:"total_lines_contributed" yaml:"total_lines_contributed"`
	TotalCommits      int                       `json:"total_commits" yaml:"total_commits"`
	PrimaryOwnerFiles int                       `json:"primary_owner_files" yaml:"primary_owner_files"`
	FirstContribution *time.Time                `json:"first_contribution" yaml:"first_contribution"`
	LastContribution  *time.Time                `json:"last_contribution" yaml:"last_contribution"`
	ActiveDays        int                       `json:"active_days" yaml:"active_days"`
	Extensions        map[string]ExtensionShare `json:"extension_breakdown" yaml:"extension_breakdown"`
	TopFiles          []FileShare               `json:"top_files" yaml:"top_files"`
}

// ContributorStats ranks one author in the repository overview
type ContributorStats struct {
	Name                 string  `json:"name" yaml:"name"`
	FilesContributed     int     `json:"files_contributed" yaml:"files_contributed"`
	LinesContributed     int     `json:"lines_contributed" yaml:"lines_contributed"`
	Commits              int     `json:"commits" yaml:"commits"`
	PrimaryOwnerFiles    int     `json:"primary_owner_files" yaml:"primary_owner_files"`
	ExtensionsWorkedOn   int     `json:"extensions_worked_on" yaml:"extensions_worked_on"`
	PercentageOfCodebase float64 `json:"percentage_of_codebase" yaml:"percentage_of_codebase"`
}

// ExtensionStats ranks one extension in the repository overview
type ExtensionStats struct {
	Extension     string `json:"extension" yaml:"extension"`
	Files         int    `json:"files" yaml:"files"`
	TotalLines    int    `json:"total_lines" yaml:"total_lines"`
	UniqueAuthors int    `json:"unique_authors" yaml:"unique_authors"`
}

// Overview is the repository-wide ownership picture
type Overview struct {
	TotalAuthors           int                `json:"total_authors" yaml:"total_authors"`
	TotalFiles             int                `json:"total_files" yaml:"total_files"`
	TotalLinesTracked      int                `json:"total_lines_tracked" yaml:"total_lines_tracked"`
	FilesWithSingleOwner   int                `json:"files_with_single_owner" yaml:"files_with_single_owner"`
	OwnershipConcentration float64            `json:"ownership_concentration" yaml:"ownership_concentration"`
	CollaborationScore     float64            `json:"collaboration_score" yaml:"collaboration_score"`
	TopContributors        []ContributorStats `json:"top_contributors" yaml:"top_contributors"`
	Extensions             []ExtensionStats   `json:"extension_breakdown" yaml:"extension_breakdown"`
}

// HeatmapCell is one significant (file, author, percentage) triple
type HeatmapCell struct {
	FilePath   string  `json:"file_path" yaml:"file_path"`
	Directory  string  `json:"directory" yaml:"directory"`
	Filename   string  `json:"filename" yaml:"filename"`
	Author     string  `json:"author" yaml:"author"`
	Percentage float64 `json:"percentage" yaml:"percentage"`
	Lines      int     `json:"lines" yaml:"lines"`
	Commits    int     `json:"commits" yaml:"commits"`
	Extension  *string `json:"extension" yaml:"extension"`
}

// Heatmap is the flattened heat-map projection
type Heatmap struct {
	Cells      []HeatmapCell `json:"heatmap_data" yaml:"heatmap_data"`
	TotalFiles int           `json:"total_files" yaml:"total_files"`
}

// Expert is one author ranked by expertise score
type Expert struct {
	Author            string  `json:"author" yaml:"author"`
	ExpertiseScore    float64 `json:"expertise_score" yaml:"expertise_score"`
	FilesContributed  int     `json:"files_contributed" yaml:"files_contributed"`
	AverageOwnership  float64 `json:"average_ownership" yaml:"average_ownership"`
	PrimaryOwnerFiles int     `json:"primary_owner_files" yaml:"primary_owner_files"`
	TotalLines        int     `json:"total_lines" yaml:"total_lines"`
	TotalCommits      int     `json:"total_commits" yaml:"total_commits"`
}

// FileOwnership returns the ranked owners of one file. The primary owner
// is the top row when there is one.
func (a *Aggregator) FileOwnership(ctx context.Context, repoID int64, filePath string) (*FileOwnership, error) {
	file, err := a.fileByPath(ctx, repoID, filePath)
	if err != nil {
		return nil, err
	}

	rows, err := a.store.ListOwnership(ctx, storage.OwnershipFilter{FileID: file.ID})
	if err != nil {
		return nil, errors.DatabaseError(err, "loading file ownership")
	}

	owners := make([]*models.Ownership, 0, len(rows))
	for _, r := range rows {
		o := r.Ownership
		owners = append(owners, &o)
	}

	result := &FileOwnership{
		FilePath:    filePath,
		TotalOwners: len(owners),
		Owners:      owners,
	}
	if len(owners) > 0 {
		result.PrimaryOwner = owners[0]
	}
	return result, nil
}

// AuthorSummary aggregates one author's ownership rows across a repository
func (a *Aggregator) AuthorSummary(ctx context.Context, repoID int64, author string) (*AuthorSummary, error) {
	rows, err := a.store.ListOwnership(ctx, storage.OwnershipFilter{RepoID: repoID, Author: author})
	if err != nil {
		return nil, errors.DatabaseError(err, "loading author ownership")
	}
	if len(rows) == 0 {
		return nil, errors.NotFoundErrorf("author not found or has no contributions: %s", author)
	}

	summary := &AuthorSummary{
		AuthorName: author,
		TotalFiles: len(rows),
		Extensions: make(map[string]ExtensionShare),
	}

	for _, r := range rows {
		summary.TotalLines += r.LinesContributed
		summary.TotalCommits += r.CommitsCount
		if r.Percentage > PrimaryOwnerThreshold {
			summary.PrimaryOwnerFiles++
		}

		ext := extensionKey(r.Extension)
		share := summary.Extensions[ext]
		share.Files++
		share.Lines += r.LinesContributed
		share.Commits += r.CommitsCount
		summary.Extensions[ext] = share

		if r.FirstContribution != nil && (summary.FirstContribution == nil || r.FirstContribution.Before(*summary.FirstContribution)) {
			first := *r.FirstContribution
			summary.FirstContribution = &first
		}
		if r.LastContribution != nil && (summary.LastContribution == nil || r.LastContribution.After(*summary.LastContribution)) {
			last := *r.LastContribution
			summary.LastContribution = &last
		}
	}

	if summary.FirstContribution != nil && summary.LastContribution != nil {
		summary.ActiveDays = int(summary.LastContribution.Sub(*summary.FirstContribution).Hours() / 24)
	}

	// rows arrive highest percentage first
	for i, r := range rows {
		if i == topN {
			break
		}
		summary.TopFiles = append(summary.TopFiles, FileShare{
			Path:       r.Path,
			Percentage: r.Percentage,
			Lines:      r.LinesContributed,
			Commits:    r.CommitsCount,
		})
	}

	return summary, nil
}

// RepositoryOverview ranks authors and extensions and measures how
// concentrated ownership is
func (a *Aggregator) RepositoryOverview(ctx context.Context, repoID int64) (*Overview, error) {
	rows, err := a.store.ListOwnership(ctx, storage.OwnershipFilter{RepoID: repoID})
	if err != nil {
		return nil, errors.DatabaseError(err, "loading repository ownership")
	}
	if len(rows) == 0 {
		return nil, errors.NotFoundErrorf("no ownership data for repository %d", repoID)
	}

	type authorAgg struct {
		stats      ContributorStats
		extensions map[string]struct{}
	}
	type extAgg struct {
		stats   ExtensionStats
		authors map[string]struct{}
	}

	var (
		authorOrder []string
		authors     = make(map[string]*authorAgg)
		extOrder    []string
		exts        = make(map[string]*extAgg)
		ownersPer   = make(map[int64]int)
		totalLines  int
	)

	for _, r := range rows {
		agg, ok := authors[r.AuthorName]
		if !ok {
			agg = &authorAgg{stats: ContributorStats{Name: r.AuthorName}, extensions: make(map[string]struct{})}
			authors[r.AuthorName] = agg
			authorOrder = append(authorOrder, r.AuthorName)
		}
		agg.stats.FilesContributed++
		agg.stats.LinesContributed += r.LinesContributed
		agg.stats.Commits += r.CommitsCount
		if r.Percentage > PrimaryOwnerThreshold {
			agg.stats.PrimaryOwnerFiles++
		}
		if r.Extension != nil {
			agg.extensions[*r.Extension] = struct{}{}
		}

		key := extensionKey(r.Extension)
		e, ok := exts[key]
		if !ok {
			e = &extAgg{stats: ExtensionStats{Extension: key}, authors: make(map[string]struct{})}
			exts[key] = e
			extOrder = append(extOrder, key)
		}
		e.stats.Files++
		e.stats.TotalLines += r.LinesContributed
		e.authors[r.AuthorName] = struct{}{}

		ownersPer[r.FileID]++
		totalLines += r.LinesContributed
	}

	contributors := make([]ContributorStats, 0, len(authorOrder))
	for _, name := range authorOrder {
		agg := authors[name]
		agg.stats.ExtensionsWorkedOn = len(agg.extensions)
		if totalLines > 0 {
			agg.stats.PercentageOfCodebase = models.Round2(float64(agg.stats.LinesContributed) / float64(totalLines) * 100)
		}
		contributors = append(contributors, agg.stats)
	}
	sort.SliceStable(contributors, func(i, j int) bool {
		return contributors[i].LinesContributed > contributors[j].LinesContributed
	})

	extensions := make([]ExtensionStats, 0, len(extOrder))
	for _, key := range extOrder {
		e := exts[key]
		e.stats.UniqueAuthors = len(e.authors)
		extensions = append(extensions, e.stats)
	}
	sort.SliceStable(extensions, func(i, j int) bool {
		return extensions[i].TotalLines > extensions[j].TotalLines
	})

	single := 0
	for _, n := range ownersPer {
		if n == 1 {
			single++
		}
	}
	totalFiles := len(ownersPer)

	overview := &Overview{
		TotalAuthors:         len(contributors),
		TotalFiles:           totalFiles,
		TotalLinesTracked:    totalLines,
		FilesWithSingleOwner: single,
		TopContributors:      firstN(contributors, topN),
		Extensions:           firstN(extensions, topN),
	}
	if totalFiles > 0 {
		ratio := float64(single) / float64(totalFiles)
		overview.OwnershipConcentration = models.Round2(ratio * 100)
		overview.CollaborationScore = models.Round2((1 - ratio) * 100)
	}
	return overview, nil
}

// Heatmap flattens ownership rows above HeatmapThreshold into
// directory-grouped cells, highest percentage first
func (a *Aggregator) Heatmap(ctx context.Context, repoID int64) (*Heatmap, error) {
	rows, err := a.store.ListOwnership(ctx, storage.OwnershipFilter{RepoID: repoID, MinPercentage: HeatmapThreshold})
	if err != nil {
		return nil, errors.DatabaseError(err, "loading heat map")
	}

	cells := make([]HeatmapCell, 0, len(rows))
	for _, r := range rows {
		dir := path.Dir(r.Path)
		if dir == "." {
			dir = ""
		}
		cells = append(cells, HeatmapCell{
			FilePath:   r.Path,
			Directory:  dir,
			Filename:   path.Base(r.Path),
			Author:     r.AuthorName,
			Percentage: r.Percentage,
			Lines:      r.LinesContributed,
			Commits:    r.CommitsCount,
			Extension:  r.Extension,
		})
	}

	return &Heatmap{Cells: cells, TotalFiles: len(cells)}, nil
}

// Experts ranks authors by a weighted expertise score, optionally limited
// to files with the given extension, and returns the top 10
func (a *Aggregator) Experts(ctx context.Context, repoID int64, extension string) ([]Expert, error) {
	rows, err := a.store.ListOwnership(ctx, storage.OwnershipFilter{RepoID: repoID, Extension: extension})
	if err != nil {
		return nil, errors.DatabaseError(err, "loading ownership for experts")
	}
	return rankExperts(rows), nil
}

func rankExperts(rows []*models.OwnershipWithFile) []Expert {
	type tally struct {
		files, primary, lines, commits int
		totalPct                       float64
	}

	var order []string
	tallies := make(map[string]*tally)
	for _, r := range rows {
		t, ok := tallies[r.AuthorName]
		if !ok {
			t = &tally{}
			tallies[r.AuthorName] = t
			order = append(order, r.AuthorName)
		}
		t.files++
		t.totalPct += r.Percentage
		t.lines += r.LinesContributed
		t.commits += r.CommitsCount
		if r.Percentage > PrimaryOwnerThreshold {
			t.primary++
		}
	}

	experts := make([]Expert, 0, len(order))
	for _, author := range order {
		t := tallies[author]
		avg := t.totalPct / float64(t.files)
		primaryRatio := float64(t.primary) / float64(t.files)
		coverage := float64(t.files) / 10 * 100
		if coverage > 100 {
			coverage = 100
		}

		experts = append(experts, Expert{
			Author:            author,
			ExpertiseScore:    models.Round2(avg*0.4 + primaryRatio*100*0.3 + coverage*0.3),
			FilesContributed:  t.files,
			AverageOwnership:  models.Round2(avg),
			PrimaryOwnerFiles: t.primary,
			TotalLines:        t.lines,
			TotalCommits:      t.commits,
		})
	}

	sort.SliceStable(experts, func(i, j int) bool {
		return experts[i].ExpertiseScore > experts[j].ExpertiseScore
	})
	return firstN(experts, topN)
}

func extensionKey(ext *string) string {
	if ext == nil || *ext == "" {
		return noExtension
	}
	return *ext
}

func firstN[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}
