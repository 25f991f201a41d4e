// Package contracts resolves a task's contract sources into File records.
// Individual file failures are logged and skipped; only a wholly unreachable
// source is reported as an error.
package contracts

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// File is one fetched source file. Immutable once fetched.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Source describes where a session's contracts come from. Exactly one of
// URL, RepoURL or Dir is expected to be set.
type Source struct {
	URL     string
	RepoURL string
	Dir     string
	// Files restricts the result to these paths when non-empty.
	Files []string
}

// String returns the location used for logging.
func (s Source) String() string {
	switch {
	case s.URL != "":
		return s.URL
	case s.RepoURL != "":
		return s.RepoURL
	default:
		return s.Dir
	}
}

//go:generate mockgen -source=contracts.go -destination=mocks/fetcher_mock.go -package=mocks Fetcher

// Fetcher resolves a Source into files.
type Fetcher interface {
	Fetch(ctx context.Context, src Source) ([]File, error)
}

// ErrSourceUnreachable means nothing at all could be obtained from the source.
var ErrSourceUnreachable = errors.New("contracts source unreachable")

// ErrNoSource is returned when a Source names no location.
var ErrNoSource = errors.New("contracts source not specified")

// SourceError wraps a whole-source failure with its location.
type SourceError struct {
	Location string
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Location, e.Err)
}

func (e *SourceError) Unwrap() []error {
	return []error{ErrSourceUnreachable, e.Err}
}

func unreachable(location string, err error) error {
	return &SourceError{Location: location, Err: err}
}

// NormalizePath makes requested and returned paths comparable.
func NormalizePath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, `\`, "/"))
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	return strings.TrimPrefix(strings.TrimPrefix(p, "./"), "/")
}

// Paths lists file paths in order.
func Paths(files []File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

// Router dispatches a Source to the fetcher for its kind.
type Router struct {
	HTTP Fetcher
	Repo Fetcher
	Dir  Fetcher
}

// Fetch implements Fetcher.
func (r Router) Fetch(ctx context.Context, src Source) ([]File, error) {
	var f Fetcher
	switch {
	case src.URL != "":
		f = r.HTTP
	case src.RepoURL != "":
		f = r.Repo
	case src.Dir != "":
		f = r.Dir
	default:
		return nil, ErrNoSource
	}
	if f == nil {
		return nil, fmt.Errorf("no fetcher configured for %s", src)
	}
	return f.Fetch(ctx, src)
}
