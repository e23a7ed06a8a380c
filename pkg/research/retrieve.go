package research

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Searcher fans queries out to a Retriever.
type Searcher struct {
	Retriever   Retriever
	Concurrency int
	Logger      *slog.Logger
}

func NewSearcher(r Retriever, concurrency int) *Searcher {
	return &Searcher{Retriever: r, Concurrency: concurrency, Logger: slog.Default()}
}

// Retrieve runs one search per query and returns the concatenated results,
// deduplicated by URL. Order follows the query order, not completion order.
// Failing queries are logged and skipped. onProgress, if set, is called on the
// caller's goroutine as each query is dispatched; with a concurrency limit it
// waits until a slot is free.
func (s *Searcher) Retrieve(ctx context.Context, queries []string, perQueryLimit int, onProgress func(Progress)) []SearchResult {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	slots := make([][]SearchResult, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	var sem chan struct{}
	if s.Concurrency > 0 {
		sem = make(chan struct{}, s.Concurrency)
	}
dispatch:
	for i, q := range queries {
		if gctx.Err() != nil {
			break
		}
		if sem != nil {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				break dispatch
			}
		}
		if onProgress != nil {
			onProgress(Progress{Index: i + 1, Total: len(queries), Query: q})
		}
		g.Go(func() error {
			if sem != nil {
				defer func() { <-sem }()
			}
			results, err := s.Retriever.Search(gctx, q, perQueryLimit)
			if err != nil {
				logger.Error("Search failed", "query", q, "error", err)
				return nil
			}
			if perQueryLimit > 0 && len(results) > perQueryLimit {
				results = results[:perQueryLimit]
			}
			logger.Info("Search successful", "query", q, "count", len(results))
			slots[i] = results
			return nil
		})
	}
	_ = g.Wait()

	var all []SearchResult
	for _, r := range slots {
		all = append(all, r...)
	}
	return Dedup(all)
}

// Dedup keeps the first result for every URL, preserving order.
func Dedup(results []SearchResult) []SearchResult {
	unique := make([]SearchResult, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		if seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		unique = append(unique, r)
	}
	return unique
}
