package content

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Prefetch fetches locators concurrently, at most limit at a time, and keeps
// the decoded documents for the next Fetch of the same locator. Failures are
// logged and left for Fetch to report again. Nothing is kept once ctx is
// cancelled. It returns how many were cached.
func (l *Loader) Prefetch(ctx context.Context, locators []string, limit int) int {
	if limit <= 0 {
		limit = 1
	}
	seen := make(map[string]bool, len(locators))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	results := make(chan *Document, len(locators))
	for _, loc := range locators {
		if loc == "" || seen[loc] {
			continue
		}
		seen[loc] = true
		g.Go(func() error {
			doc, err := l.Fetch(gctx, loc)
			if err != nil {
				l.logger.Warn("prefetch failed", "locator", loc, "error", err)
				return nil
			}
			results <- doc
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	l.mu.Lock()
	defer l.mu.Unlock()
	// A cancelled prefetch belongs to a superseded activation. Checked under
	// mu so it cannot land after the ClearPrefetched that follows the cancel.
	if ctx.Err() != nil {
		l.logger.Debug("prefetch cancelled, dropping documents", "count", len(results))
		return 0
	}
	n := 0
	for doc := range results {
		l.prefetched[doc.Locator] = doc
		n++
	}
	return n
}
