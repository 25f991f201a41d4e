package contracts

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"auditagent/internal/platform/metrics"
)

// SolidityExt is the extension discovered when no file list is given.
const SolidityExt = ".sol"

var skipDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
}

// DirFetcher reads files from a local checkout.
type DirFetcher struct {
	logger      *slog.Logger
	metrics     *metrics.Metrics
	concurrency int
}

// NewDirFetcher builds a DirFetcher reading up to 8 files at a time.
func NewDirFetcher(logger *slog.Logger, m *metrics.Metrics) *DirFetcher {
	return &DirFetcher{logger: logger, metrics: m, concurrency: 8}
}

// Discover lists every Solidity file under root as slash-separated
// relative paths, sorted.
func Discover(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if _, skip := skipDirs[d.Name()]; skip && p != root {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(p), SolidityExt) {
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Fetch reads src.Files (or every discovered .sol file) below src.Dir.
// Unreadable files are logged and skipped.
func (f *DirFetcher) Fetch(ctx context.Context, src Source) ([]File, error) {
	if src.Dir == "" {
		return nil, ErrNoSource
	}
	info, err := os.Stat(src.Dir)
	if err != nil {
		return nil, unreachable(src.Dir, err)
	}
	if !info.IsDir() {
		return nil, unreachable(src.Dir, fmt.Errorf("not a directory"))
	}

	paths := src.Files
	if len(paths) == 0 {
		if paths, err = Discover(src.Dir); err != nil {
			return nil, unreachable(src.Dir, err)
		}
	}

	results := make([]*File, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, p := range paths {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			file, err := readLocal(src.Dir, p)
			if err != nil {
				f.logger.ErrorContext(ctx, "error reading contract", "path", p, "error", err)
				return nil
			}
			results[i] = file
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	files := make([]File, 0, len(results))
	for _, r := range results {
		if r != nil {
			files = append(files, *r)
		}
	}
	f.metrics.AddFiles(len(files), len(paths)-len(files))
	return files, nil
}

func readLocal(root, rel string) (*File, error) {
	clean := NormalizePath(rel)
	local := filepath.FromSlash(clean)
	if clean == "" || !filepath.IsLocal(local) {
		return nil, fmt.Errorf("path %q escapes source directory", rel)
	}
	data, err := os.ReadFile(filepath.Join(root, local))
	if err != nil {
		return nil, err
	}
	return &File{Path: clean, Content: string(data)}, nil
}
