package contracts

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Cloner produces a local checkout of a repository. cleanup removes it.
type Cloner interface {
	Clone(ctx context.Context, repoURL string) (dir string, cleanup func(), err error)
}

// GitCloner shells out to the git binary for a shallow clone into a
// temporary working directory.
type GitCloner struct {
	Binary string
	logger *slog.Logger
}

// NewGitCloner uses "git" from PATH.
func NewGitCloner(logger *slog.Logger) *GitCloner {
	return &GitCloner{Binary: "git", logger: logger}
}

// Clone implements Cloner.
func (g *GitCloner) Clone(ctx context.Context, repoURL string) (string, func(), error) {
	if strings.HasPrefix(strings.TrimSpace(repoURL), "-") {
		return "", nil, fmt.Errorf("invalid repository url %q", repoURL)
	}
	dir, err := os.MkdirTemp("", "auditagent-repo-*")
	if err != nil {
		return "", nil, fmt.Errorf("create work dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			g.logger.Warn("failed to remove work dir", "dir", dir, "error", err)
		}
	}

	g.logger.InfoContext(ctx, "cloning repository", "repo_url", repoURL)
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, g.Binary, "clone", "--depth", "1", "--", repoURL, dir)
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if err := cmd.Run(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("git clone: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return dir, cleanup, nil
}

// RepoFetcher clones src.RepoURL and reads it like a directory. The
// checkout is removed before Fetch returns.
type RepoFetcher struct {
	cloner Cloner
	dir    *DirFetcher
}

// NewRepoFetcher combines a Cloner with a DirFetcher.
func NewRepoFetcher(cloner Cloner, dir *DirFetcher) *RepoFetcher {
	return &RepoFetcher{cloner: cloner, dir: dir}
}

// Fetch implements Fetcher.
func (f *RepoFetcher) Fetch(ctx context.Context, src Source) ([]File, error) {
	if src.RepoURL == "" {
		return nil, ErrNoSource
	}
	dir, cleanup, err := f.cloner.Clone(ctx, src.RepoURL)
	if err != nil {
		return nil, unreachable(src.RepoURL, err)
	}
	defer cleanup()
	return f.dir.Fetch(ctx, Source{Dir: dir, Files: src.Files})
}
