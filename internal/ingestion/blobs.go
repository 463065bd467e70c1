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
)

// blobCounter counts the lines of blobs through one long-lived
// git cat-file --batch process
type blobCounter struct {
	cmd *exec.Cmd
	in  io.WriteCloser
	out *bufio.Reader
}

func startBlobCounter(ctx context.Context, repoPath string) (*blobCounter, error) {
	cmd := exec.CommandContext(ctx, "git", "cat-file", "--batch")
	cmd.Dir = repoPath

	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("git cat-file stdin: %w", err)
	}
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("git cat-file stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start git cat-file: %w", err)
	}

	return &blobCounter{cmd: cmd, in: in, out: bufio.NewReaderSize(out, 64*1024)}, nil
}

// count returns the line count of a blob. ok is false for missing objects
// and binary content.
func (b *blobCounter) count(id string) (lines int, ok bool, err error) {
	if _, err := io.WriteString(b.in, id+"\n"); err != nil {
		return 0, false, fmt.Errorf("request %s: %w", id, err)
	}

	header, err := b.out.ReadString('\n')
	if err != nil {
		return 0, false, fmt.Errorf("read header of %s: %w", id, err)
	}
	// "<sha> <type> <size>" or "<sha> missing"
	fields := strings.Fields(header)
	if len(fields) == 2 && fields[1] == "missing" {
		return 0, false, nil
	}
	if len(fields) != 3 {
		return 0, false, fmt.Errorf("unexpected cat-file header %q", strings.TrimSpace(header))
	}
	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("bad size in cat-file header %q", strings.TrimSpace(header))
	}

	var lc lineCounter
	if _, err := io.CopyN(&lc, b.out, size); err != nil {
		return 0, false, fmt.Errorf("read %s: %w", id, err)
	}
	// content is followed by a newline
	if _, err := b.out.ReadByte(); err != nil {
		return 0, false, fmt.Errorf("read %s: %w", id, err)
	}

	if fields[1] != "blob" || lc.binary {
		return 0, false, nil
	}
	return lc.total(), true, nil
}

func (b *blobCounter) close() {
	if b == nil {
		return
	}
	b.in.Close()
	b.cmd.Wait()
}

type lineCounter struct {
	newlines int
	size     int64
	last     byte
	binary   bool
}

func (c *lineCounter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	c.newlines += bytes.Count(p, []byte{'\n'})
	if bytes.IndexByte(p, 0) >= 0 {
		c.binary = true
	}
	c.size += int64(len(p))
	c.last = p[len(p)-1]
	return len(p), nil
}

// total counts a trailing line without a newline
func (c *lineCounter) total() int {
	if c.size > 0 && c.last != '\n' {
		return c.newlines + 1
	}
	return c.newlines
}
