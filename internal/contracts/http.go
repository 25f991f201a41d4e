package contracts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"auditagent/internal/platform/metrics"
)

// maxSourceBytes caps a contracts response body.
const maxSourceBytes = 64 << 20

// HTTPFetcher reads a JSON array of {path, content} from a task API.
type HTTPFetcher struct {
	client  *http.Client
	apiKey  string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewHTTPFetcher builds a fetcher that authenticates with X-API-Key when
// apiKey is set.
func NewHTTPFetcher(apiKey string, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *HTTPFetcher {
	return &HTTPFetcher{
		client:  &http.Client{Timeout: timeout},
		apiKey:  apiKey,
		logger:  logger,
		metrics: m,
	}
}

// Fetch issues one GET against src.URL. No retry is performed.
func (f *HTTPFetcher) Fetch(ctx context.Context, src Source) ([]File, error) {
	if src.URL == "" {
		return nil, ErrNoSource
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, unreachable(src.URL, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if f.apiKey != "" {
		req.Header.Set("X-API-Key", f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.ErrorContext(ctx, "contracts fetch failed", "url", src.URL, "error", err)
		return nil, unreachable(src.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.logger.ErrorContext(ctx, "contracts fetch rejected", "url", src.URL, "status", resp.StatusCode)
		return nil, unreachable(src.URL, fmt.Errorf("status %d", resp.StatusCode))
	}

	var entries []File
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSourceBytes)).Decode(&entries); err != nil {
		f.logger.ErrorContext(ctx, "contracts response not decodable", "url", src.URL, "error", err)
		return nil, unreachable(src.URL, fmt.Errorf("decode response: %w", err))
	}

	files, skipped := f.selectFiles(ctx, entries, src.Files)
	f.metrics.AddFiles(len(files), skipped)
	return files, nil
}

// selectFiles drops unusable entries and, when requested is non-empty,
// keeps only requested paths in requested order.
func (f *HTTPFetcher) selectFiles(ctx context.Context, entries []File, requested []string) ([]File, int) {
	usable := make(map[string]File, len(entries))
	order := make([]string, 0, len(entries))
	skipped := 0
	for _, e := range entries {
		p := NormalizePath(e.Path)
		if p == "" || strings.TrimSpace(e.Content) == "" {
			f.logger.WarnContext(ctx, "skipping unusable contract entry", "path", e.Path)
			skipped++
			continue
		}
		if _, dup := usable[p]; !dup {
			order = append(order, p)
		}
		usable[p] = File{Path: p, Content: e.Content}
	}

	if len(requested) == 0 {
		out := make([]File, 0, len(order))
		for _, p := range order {
			out = append(out, usable[p])
		}
		return out, skipped
	}

	out := make([]File, 0, len(requested))
	seen := make(map[string]struct{}, len(requested))
	for _, r := range requested {
		p := NormalizePath(r)
		if _, dup := seen[p]; dup || p == "" {
			continue
		}
		seen[p] = struct{}{}
		file, ok := usable[p]
		if !ok {
			f.logger.WarnContext(ctx, "requested contract not returned by source", "path", r)
			skipped++
			continue
		}
		out = append(out, file)
	}
	return out, skipped
}
