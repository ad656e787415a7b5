package collector

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// concurrentVisitTracker provides thread-safe visited URL tracking so link
// following is a bounded traversal instead of unbounded recursion.
type concurrentVisitTracker struct {
	seen sync.Map
}

func newConcurrentVisitTracker() *concurrentVisitTracker {
	return &concurrentVisitTracker{}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (t *concurrentVisitTracker) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := t.seen.LoadOrStore(url, struct{}{})
	return !loaded
}

// Hostile responses for one URL are retried at most this many times after
// the backoff cool-down elapses.
const maxHostileRetries = 2

// retryBudget caps per-URL retries after hostile responses.
type retryBudget struct {
	mu       sync.Mutex
	attempts map[string]int
	limit    int
}

func newRetryBudget(limit int) *retryBudget {
	if limit <= 0 {
		limit = maxHostileRetries
	}
	return &retryBudget{
		attempts: make(map[string]int),
		limit:    limit,
	}
}

// Allow consumes one retry attempt for url and reports whether the budget
// still permits a retry.
func (r *retryBudget) Allow(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempts[url] >= r.limit {
		return false
	}
	r.attempts[url]++
	return true
}

// paginationSet remembers URLs scheduled as pagination hops so backoff
// escalation can tell them apart from first fetches.
type paginationSet struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

func newPaginationSet() *paginationSet {
	return &paginationSet{urls: make(map[string]struct{})}
}

func (p *paginationSet) add(url string) {
	if url == "" {
		return
	}
	p.mu.Lock()
	p.urls[url] = struct{}{}
	p.mu.Unlock()
}

func (p *paginationSet) contains(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.urls[url]
	return ok
}

// sleepJitter pauses for a random duration in [min, max], honoring the
// context. Used between dependent fetches on hardened sources.
func sleepJitter(ctx context.Context, min, max time.Duration) error {
	if min < 0 {
		min = 0
	}
	delay := min
	if max > min {
		delay += time.Duration(rand.Int63n(int64(max - min)))
	}
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
