package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rohankatakam/timemachine/internal/models"
)

const (
	recordSep = '\x1e'
	fieldSep  = "\x1f"

	// hash, parents, author, author email, committer, committer email, committer date, body
	gitLogFormat = "--format=%x1e%H%x1f%P%x1f%an%x1f%ae%x1f%cn%x1f%ce%x1f%cI%x1f%B%x1f"

	maxRecordSize = 64 * 1024 * 1024
)

// GitLogOptions selects the history a GitLogSource mines
type GitLogOptions struct {
	// Rev is the revision to walk, HEAD when empty
	Rev   string
	Since time.Time
}

// GitLogSource streams commits oldest-first from a local working copy
// using the git binary
type GitLogSource struct {
	repoPath string
	opts     GitLogOptions

	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  bytes.Buffer
	scanner *bufio.Scanner
	blobs   *blobCounter
	done    bool
}

// NewGitLogSource creates a source for the repository at repoPath. The
// git process starts on the first call to Next.
func NewGitLogSource(repoPath string, opts GitLogOptions) *GitLogSource {
	return &GitLogSource{repoPath: repoPath, opts: opts}
}

func (g *GitLogSource) args() []string {
	// -z prints paths verbatim and NUL-terminates every raw and numstat field
	args := []string{
		"-c", "core.quotePath=false",
		"log", "--reverse", "-M", "--raw", "--numstat", "--no-abbrev", "-z", "--no-color", gitLogFormat,
	}
	if !g.opts.Since.IsZero() {
		args = append(args, "--since="+g.opts.Since.Format(time.RFC3339))
	}
	rev := g.opts.Rev
	if rev == "" {
		rev = "HEAD"
	}
	return append(args, rev, "--")
}

func (g *GitLogSource) start(ctx context.Context) error {
	g.cmd = exec.CommandContext(ctx, "git", g.args()...)
	g.cmd.Dir = g.repoPath
	g.cmd.Stderr = &g.stderr

	stdout, err := g.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("git log pipe: %w", err)
	}
	if err := g.cmd.Start(); err != nil {
		return fmt.Errorf("start git log: %w", err)
	}

	g.stdout = stdout
	g.scanner = bufio.NewScanner(stdout)
	g.scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	g.scanner.Split(splitRecords)

	g.blobs, err = startBlobCounter(ctx, g.repoPath)
	if err != nil {
		g.stdout.Close()
		g.cmd.Process.Kill()
		g.cmd.Wait()
		return err
	}
	return nil
}

// Next returns the next commit, io.EOF at the end of history, or an error
// wrapping ErrMalformed for a record that could not be decoded
func (g *GitLogSource) Next(ctx context.Context) (*RawCommit, error) {
	if g.done {
		return nil, io.EOF
	}
	if g.cmd == nil {
		if err := g.start(ctx); err != nil {
			g.done = true
			return nil, err
		}
	}

	for g.scanner.Scan() {
		record := g.scanner.Text()
		if strings.Trim(record, "\n\x00") == "" {
			continue
		}
		commit, blobs, err := parseRecord(record)
		if err != nil {
			return nil, err
		}
		if err := g.countLines(commit, blobs); err != nil {
			return nil, err
		}
		return commit, nil
	}

	g.done = true
	g.blobs.close()
	scanErr := g.scanner.Err()
	if err := g.cmd.Wait(); err != nil {
		return nil, fmt.Errorf("git log failed: %w (output: %s)", err, strings.TrimSpace(g.stderr.String()))
	}
	if scanErr != nil {
		return nil, fmt.Errorf("scanning git log output: %w", scanErr)
	}
	return nil, io.EOF
}

// countLines fills in the post-change line count of every file with a
// text blob behind it
func (g *GitLogSource) countLines(commit *RawCommit, blobs []string) error {
	for i, id := range blobs {
		if id == "" {
			continue
		}
		lines, ok, err := g.blobs.count(id)
		if err != nil {
			return fmt.Errorf("counting lines of %s in %s: %w", commit.Files[i].Path(), commit.Hash, err)
		}
		if ok {
			commit.Files[i].Lines = &lines
		}
	}
	return nil
}

// Close stops the git processes if they are still running
func (g *GitLogSource) Close() error {
	if g.cmd == nil || g.done {
		return nil
	}
	g.done = true
	g.blobs.close()
	g.stdout.Close()
	if g.cmd.Process != nil {
		g.cmd.Process.Kill()
	}
	g.cmd.Wait()
	return nil
}

// splitRecords is a bufio.SplitFunc yielding the text between record separators
func splitRecords(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, recordSep); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// parseRecord decodes one commit: a header of separator-delimited fields
// followed by the NUL-terminated --raw and --numstat entries. blobs holds,
// per file, the post-change blob whose lines should be counted, or "".
func parseRecord(record string) (*RawCommit, []string, error) {
	fields := strings.SplitN(record, fieldSep, 9)
	if len(fields) != 9 {
		return nil, nil, fmt.Errorf("%w: expected 9 header fields, got %d", ErrMalformed, len(fields))
	}

	hash := strings.Trim(fields[0], "\n\x00 ")
	timestamp, err := time.Parse(time.RFC3339, strings.TrimSpace(fields[6]))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: commit %s: bad date %q", ErrMalformed, hash, fields[6])
	}

	commit := &RawCommit{
		Hash:           hash,
		IsMerge:        len(strings.Fields(fields[1])) > 1,
		AuthorName:     fields[2],
		AuthorEmail:    fields[3],
		CommitterName:  fields[4],
		CommitterEmail: fields[5],
		Timestamp:      timestamp,
		Message:        strings.TrimRight(fields[7], "\n"),
	}

	files, blobs, err := parseChanges(fields[8])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: commit %s: %v", ErrMalformed, hash, err)
	}
	commit.Files = files
	return commit, blobs, nil
}

type numstat struct {
	added, deleted int
	binary         bool
}

// parseChanges pairs raw entries with numstat entries by position
func parseChanges(block string) ([]RawFile, []string, error) {
	var (
		files []RawFile
		blobs []string
		stats []numstat
	)

	tokens := strings.Split(block, "\x00")
	for i := 0; i < len(tokens); i++ {
		// entries may be preceded by the newline separating header and diff
		tok := strings.TrimLeft(tokens[i], "\n")
		if tok == "" {
			continue
		}

		if strings.HasPrefix(tok, ":") {
			// ":<mode> <mode> <sha> <sha> <status>" then one path, two for renames and copies
			meta := strings.Fields(tok)
			if len(meta) < 5 {
				return nil, nil, fmt.Errorf("bad raw entry %q", tok)
			}
			paths := 1
			if meta[4][0] == 'R' || meta[4][0] == 'C' {
				paths = 2
			}
			if i+paths >= len(tokens) {
				return nil, nil, fmt.Errorf("raw entry %q has no path", tok)
			}
			file, err := rawFile(changeKind(meta[4]), tokens[i+1:i+1+paths])
			if err != nil {
				return nil, nil, err
			}
			i += paths
			files = append(files, file)
			blobs = append(blobs, postImage(meta, file.Kind))
			continue
		}

		// "<added>\t<deleted>\t<path>", or an empty path followed by two path fields
		parts := strings.SplitN(tok, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		if parts[2] == "" {
			i += 2
		}
		// Binary files are reported as "-" and count as zero lines
		added, _ := strconv.Atoi(parts[0])
		deleted, _ := strconv.Atoi(parts[1])
		stats = append(stats, numstat{added: added, deleted: deleted, binary: parts[0] == "-"})
	}

	if len(stats) > 0 && len(stats) != len(files) {
		return nil, nil, fmt.Errorf("%d raw entries but %d numstat entries", len(files), len(stats))
	}
	for i, st := range stats {
		files[i].Added = st.added
		files[i].Deleted = st.deleted
		if st.binary {
			blobs[i] = ""
		}
	}
	return files, blobs, nil
}

func rawFile(kind models.ChangeKind, paths []string) (RawFile, error) {
	file := RawFile{Kind: kind}
	switch kind {
	case models.ChangeAdded:
		// copies report source and destination
		file.NewPath = paths[len(paths)-1]
	case models.ChangeDeleted:
		file.OldPath = paths[0]
	case models.ChangeRenamed:
		if len(paths) < 2 {
			return RawFile{}, fmt.Errorf("rename of %q without destination", paths[0])
		}
		file.OldPath = paths[0]
		file.NewPath = paths[1]
	default:
		file.OldPath = paths[0]
		file.NewPath = paths[0]
	}
	return file, nil
}

// postImage returns the blob a change leaves behind, or "" for deletions,
// submodules and symlinks
func postImage(meta []string, kind models.ChangeKind) string {
	if kind == models.ChangeDeleted || !strings.HasPrefix(meta[1], "100") {
		return ""
	}
	if strings.Trim(meta[3], "0") == "" {
		return ""
	}
	return meta[3]
}

func changeKind(status string) models.ChangeKind {
	if status == "" {
		return models.ChangeUnknown
	}
	switch status[0] {
	case 'A', 'C':
		return models.ChangeAdded
	case 'D':
		return models.ChangeDeleted
	case 'R':
		return models.ChangeRenamed
	case 'M', 'T':
		return models.ChangeModified
	default:
		return models.ChangeUnknown
	}
}
