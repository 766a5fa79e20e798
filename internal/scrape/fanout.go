package scrape

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Source is a named page to scrape.
type Source struct {
	Name string
	URL  string
}

// SourceResult is the outcome for one source of a fan-out.
type SourceResult struct {
	Source Source
	Result Result
	Err    error
}

// FanOut scrapes every source concurrently, at most concurrency at a time.
// A failing source never cancels its siblings. It returns the successful
// results and the per-source failures, and errors only when nothing succeeded.
func (g *Gateway) FanOut(ctx context.Context, sources []Source, concurrency int) ([]SourceResult, []SourceResult, error) {
	if len(sources) == 0 {
		return nil, nil, errors.New("no sources to scrape")
	}
	if concurrency <= 0 {
		concurrency = 4
	}

	results := make([]SourceResult, len(sources))

	var eg errgroup.Group
	eg.SetLimit(concurrency)
	for i, src := range sources {
		eg.Go(func() error {
			res, err := g.Scrape(ctx, src.URL)
			results[i] = SourceResult{Source: src, Result: res, Err: err}
			return nil
		})
	}
	_ = eg.Wait()

	var ok, failed []SourceResult
	for _, r := range results {
		if r.Err != nil {
			g.logger.Warn("source scrape failed", "source", r.Source.Name, "error", r.Err)
			failed = append(failed, r)
			continue
		}
		ok = append(ok, r)
	}

	if len(ok) == 0 {
		return nil, failed, fmt.Errorf("all %d sources failed: %w", len(failed), failed[0].Err)
	}
	return ok, failed, nil
}
