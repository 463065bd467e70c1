package engine

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// repoIdentity names a working copy by its origin remote, falling back to
// the parent and leaf directory names
func repoIdentity(ctx context.Context, dir string) (owner, name string) {
	out, err := exec.CommandContext(ctx, "git", "-C", dir, "remote", "get-url", "origin").Output()
	if err == nil {
		if owner, name, err := ParseRemoteURL(string(out)); err == nil {
			return owner, name
		}
	}
	return filepath.Base(filepath.Dir(dir)), filepath.Base(dir)
}

// ParseRemoteURL extracts owner/name from a git remote URL
// Supports:
// - https://host/owner/name(.git)
// - ssh://git@host/owner/name(.git)
// - git@host:owner/name(.git)
// - owner/name (shorthand)
func ParseRemoteURL(url string) (owner string, name string, err error) {
	rest := strings.TrimSpace(url)

	switch {
	case strings.Contains(rest, "://"):
		rest = rest[strings.Index(rest, "://")+3:]
		slash := strings.Index(rest, "/")
		if slash < 0 {
			return "", "", fmt.Errorf("invalid remote url: %s", url)
		}
		rest = rest[slash+1:]
	case strings.Contains(rest, "@") && strings.Contains(rest, ":"):
		rest = rest[strings.Index(rest, ":")+1:]
	}

	rest = strings.TrimSuffix(strings.TrimSuffix(rest, "/"), ".git")

	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[len(parts)-2] == "" || parts[len(parts)-1] == "" {
		return "", "", fmt.Errorf("invalid remote url: %s (expected owner/name)", url)
	}
	return parts[len(parts)-2], parts[len(parts)-1], nil
}
