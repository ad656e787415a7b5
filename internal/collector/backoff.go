package collector

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Default cool-down intervals after a hostile-source signal.
const (
	defaultBackoffBase      = 10 * time.Second
	defaultBackoffEscalated = 30 * time.Second
)

// Backoff tracks the shared cool-down armed when a source signals
// rate-limiting or blocking (HTTP 429/403). State is scoped to one Collect
// invocation and safe for concurrent use by that run's workers; it never
// persists across runs.
type Backoff struct {
	mu        sync.Mutex
	until     time.Time
	base      time.Duration
	escalated time.Duration
	clock     Clock
	logger    *zap.Logger
	metrics   Metrics
}

// NewBackoff builds a Backoff. Non-positive durations fall back to the
// defaults (10s base, 30s for a rate-limited pagination hop).
func NewBackoff(base, escalated time.Duration, clock Clock, logger *zap.Logger, metrics Metrics) *Backoff {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if escalated <= 0 {
		escalated = defaultBackoffEscalated
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backoff{
		base:      base,
		escalated: escalated,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// hostileStatus reports whether an HTTP status is a blocking signal rather
// than an ordinary transport failure.
func hostileStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusForbidden
}

// Observe inspects a response status and arms the cool-down when hostile.
// A 429 during a pagination hop escalates to the longer interval. Returns
// true when the status armed (or extended) the cool-down.
func (b *Backoff) Observe(status int, pagination bool) bool {
	if !hostileStatus(status) {
		return false
	}
	delay := b.base
	if pagination && status == http.StatusTooManyRequests {
		delay = b.escalated
	}
	deadline := b.clock.Now().Add(delay)

	b.mu.Lock()
	extended := deadline.After(b.until)
	if extended {
		b.until = deadline
	}
	b.mu.Unlock()

	if extended {
		b.logger.Warn("hostile response, backing off",
			zap.Int("status", status),
			zap.Duration("delay", delay),
			zap.Bool("pagination", pagination),
		)
		if b.metrics != nil {
			b.metrics.RecordBackoff(status)
		}
	}
	return true
}

// Wait blocks until any armed cool-down has elapsed, honoring the context.
func (b *Backoff) Wait(ctx context.Context) error {
	b.mu.Lock()
	remaining := b.until.Sub(b.clock.Now())
	b.mu.Unlock()
	if remaining <= 0 {
		return nil
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
