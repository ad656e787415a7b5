package collector

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Governor combines a token-bucket rate limiter with a concurrency cap. One
// Governor is constructed per Collect invocation and shared by every worker
// of that run, so the request rate is enforced globally rather than
// per-worker. Safe for concurrent use.
type Governor struct {
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	metrics Metrics
}

// NewGovernor builds a Governor. A non-positive ratePerSec means unlimited;
// a non-positive concurrency defaults to 1.
func NewGovernor(ratePerSec float64, concurrency int, metrics Metrics) *Governor {
	limit := rate.Limit(ratePerSec)
	if ratePerSec <= 0 {
		limit = rate.Inf
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Governor{
		limiter: rate.NewLimiter(limit, 1),
		sem:     semaphore.NewWeighted(int64(concurrency)),
		metrics: metrics,
	}
}

// Wait blocks until the token bucket admits one request, respecting the
// context. Used where the fetch library enforces parallelism itself.
func (g *Governor) Wait(ctx context.Context) error {
	start := time.Now()
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if g.metrics != nil {
		if delay := time.Since(start); delay > time.Millisecond {
			g.metrics.ObserveGovernorDelay(delay)
		}
	}
	return nil
}

// Acquire claims one in-flight fetch slot and one rate token. Callers must
// Release the slot when the fetch finishes.
func (g *Governor) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("concurrency acquire: %w", err)
	}
	if err := g.Wait(ctx); err != nil {
		g.sem.Release(1)
		return err
	}
	return nil
}

// Release returns an in-flight fetch slot claimed by Acquire.
func (g *Governor) Release() {
	g.sem.Release(1)
}
