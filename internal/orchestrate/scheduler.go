package orchestrate

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Scheduler decides how independent patterns are interleaved. Chunks within
// one pattern always run in order; only whole patterns are scheduled.
type Scheduler interface {
	// Each calls fn for every index in [0, n). It returns ctx.Err() if the
	// context ended before every index was started.
	Each(ctx context.Context, n int, fn func(ctx context.Context, i int)) error
}

// Compile-time interface compliance checks.
var (
	_ Scheduler = Sequential{}
	_ Scheduler = Concurrent{}
)

// Sequential runs one pattern at a time, checking for cancellation between
// patterns. It keeps a single call in flight, which is what free-tier quotas
// want.
type Sequential struct{}

// Each implements Scheduler.
func (Sequential) Each(ctx context.Context, n int, fn func(ctx context.Context, i int)) error {
	for i := range n {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(ctx, i)
	}
	return nil
}

// Concurrent fans patterns out with at most Limit in flight. Patterns share
// the provider quota, so a small limit is advised.
type Concurrent struct {
	Limit int
}

// Each implements Scheduler.
func (c Concurrent) Each(ctx context.Context, n int, fn func(ctx context.Context, i int)) error {
	limit := max(c.Limit, 1)

	// Semaphore channel for concurrency control.
	sem := make(chan struct{}, limit)
	g, gctx := errgroup.WithContext(ctx)

	for i := range n {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			if err := gctx.Err(); err != nil {
				return err
			}
			fn(gctx, i)
			return nil
		})
	}
	return g.Wait()
}
