package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const maxBodyBytes = 10 << 20

// FetchReport is the outcome of fetching a list of feeds.
type FetchReport struct {
	Items   []Item
	Fetched int
	Failed  []string
}

// Fetcher downloads feeds concurrently and normalizes their payloads.
type Fetcher struct {
	client        *http.Client
	normalizer    *Normalizer
	maxConcurrent int
	timeout       time.Duration
	userAgent     string
	logger        zerolog.Logger
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	Client        *http.Client
	MaxConcurrent int
	Timeout       time.Duration
	UserAgent     string
	Logger        zerolog.Logger
}

// NewFetcher creates a new Fetcher.
func NewFetcher(n *Normalizer, opts FetcherOptions) *Fetcher {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "sigint/1.0"
	}
	return &Fetcher{
		client:        opts.Client,
		normalizer:    n,
		maxConcurrent: opts.MaxConcurrent,
		timeout:       opts.Timeout,
		userAgent:     opts.UserAgent,
		logger:        opts.Logger,
	}
}

// Fetch downloads every URL and returns the combined items, deduplicated by
// id with the first occurrence winning. Items keep the order of urls, so the
// configured feed order acts as source priority. A failing source yields no
// items and is listed in the report; it never fails the whole fetch.
func (f *Fetcher) Fetch(ctx context.Context, urls []string) FetchReport {
	results := make([][]Item, len(urls))
	errs := make([]error, len(urls))

	var g errgroup.Group
	g.SetLimit(f.maxConcurrent)
	for i, u := range urls {
		g.Go(func() error {
			results[i], errs[i] = f.fetchOne(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	report := FetchReport{Items: make([]Item, 0)}
	seen := make(map[string]bool)
	for i, u := range urls {
		if errs[i] != nil {
			f.logger.Warn().Err(errs[i]).Str("url", u).Msg("source failed")
			report.Failed = append(report.Failed, u)
			continue
		}
		report.Fetched++
		for _, item := range results[i] {
			if seen[item.ID] {
				continue
			}
			seen[item.ID] = true
			report.Items = append(report.Items, item)
		}
	}

	f.logger.Debug().
		Int("sources", len(urls)).
		Int("failed", len(report.Failed)).
		Int("items", len(report.Items)).
		Msg("fetch complete")
	return report
}

func (f *Fetcher) fetchOne(ctx context.Context, feedURL string) ([]Item, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	target := stripProxy(feedURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request %s: %w", target, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}

	// Items keep the configured URL as source_url even when a proxy prefix
	// was stripped for the request.
	return f.normalizer.Normalize(body, feedURL)
}
