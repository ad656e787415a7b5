// Package collector implements the multi-source text collection engine: a
// single Collect operation that drives a per-source fetch strategy while
// applying the configured filter pipeline and streaming accepted records
// into a caller-owned bounded channel.
package collector

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Collector is the public contract of the engine. Collect emits at most
// cfg.MaxCount filter-passing records into out, returns nil on normal
// completion (source exhausted or cap reached), and returns an error only
// for setup failures or cancellation before progress. Records delivered
// before cancellation remain valid.
type Collector interface {
	Collect(ctx context.Context, source *Source, cfg *Config, out chan<- *RawRecord) error
}

// Engine dispatches Collect calls to the strategy matching the source type.
// All mutable per-run state (governor, backoff, emission counter) is
// constructed fresh inside Collect, so one Engine is safe for concurrent
// runs.
type Engine struct {
	logger     *zap.Logger
	ids        IDGenerator
	clock      Clock
	metrics    Metrics
	userAgents []string
	defaults   map[SourceType]Defaults

	backoffBase      time.Duration
	backoffEscalated time.Duration
	jitterMin        time.Duration
	jitterMax        time.Duration
}

// Option customizes an Engine.
type Option func(*Engine)

// WithMetrics attaches a metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithUserAgents sets the user-agent pool used by network strategies.
func WithUserAgents(agents []string) Option {
	return func(e *Engine) { e.userAgents = agents }
}

// WithDefaults overrides the built-in per-source-type config defaults.
func WithDefaults(d map[SourceType]Defaults) Option {
	return func(e *Engine) { e.defaults = d }
}

// WithBackoffIntervals overrides the hostile-source cool-down intervals.
// Intended for tests; production runs use the 10s/30s defaults.
func WithBackoffIntervals(base, escalated time.Duration) Option {
	return func(e *Engine) {
		e.backoffBase = base
		e.backoffEscalated = escalated
	}
}

// WithPaginationJitter overrides the extra delay range inserted before
// hardened-strategy pagination hops.
func WithPaginationJitter(min, max time.Duration) Option {
	return func(e *Engine) {
		e.jitterMin = min
		e.jitterMax = max
	}
}

// NewEngine builds an Engine. ids and clock must be non-nil.
func NewEngine(logger *zap.Logger, ids IDGenerator, clock Clock, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		logger:    logger,
		ids:       ids,
		clock:     clock,
		defaults:  builtinDefaults,
		jitterMin: 2 * time.Second,
		jitterMax: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Collect validates the source, normalizes the config, and runs the
// matching strategy.
func (e *Engine) Collect(ctx context.Context, source *Source, cfg *Config, out chan<- *RawRecord) error {
	if source == nil {
		return fmt.Errorf("nil collection source")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("collect aborted before start: %w", err)
	}

	runCfg := cfg.normalized(source.Type, e.defaults)
	pipeline, err := NewFilterPipeline(source.Type, runCfg.Filters)
	if err != nil {
		return fmt.Errorf("build filter pipeline: %w", err)
	}
	em := &emitter{
		ids:        e.ids,
		clock:      e.clock,
		out:        out,
		pipeline:   pipeline,
		max:        int64(runCfg.MaxCount),
		metrics:    e.metrics,
		sourceType: source.Type,
	}
	governor := NewGovernor(runCfg.RateLimit, runCfg.Concurrency, e.metrics)
	backoff := NewBackoff(e.backoffBase, e.backoffEscalated, e.clock, e.logger, e.metrics)

	logger := e.logger.With(zap.String("source_type", string(source.Type)))

	switch source.Type {
	case SourceWeb:
		if err := validateHTTPURL(source.URL); err != nil {
			return err
		}
		s := &webStrategy{
			logger:     logger,
			userAgents: e.userAgents,
			governor:   governor,
			backoff:    backoff,
			metrics:    e.metrics,
		}
		return s.collect(ctx, source, runCfg, em)
	case SourceZhihu:
		s := &zhihuStrategy{
			logger:     logger,
			userAgents: e.userAgents,
			governor:   governor,
			backoff:    backoff,
			metrics:    e.metrics,
			jitterMin:  e.jitterMin,
			jitterMax:  e.jitterMax,
		}
		return s.collect(ctx, source, runCfg, em)
	case SourceAPI:
		if err := validateHTTPURL(source.URL); err != nil {
			return err
		}
		s := &apiStrategy{
			logger:     logger,
			userAgents: e.userAgents,
			governor:   governor,
			timeout:    runCfg.Timeout,
			metrics:    e.metrics,
		}
		return s.collect(ctx, source, runCfg, em)
	case SourceFile:
		if _, err := os.Stat(source.FilePath); err != nil {
			return fmt.Errorf("source file %s: %w", source.FilePath, err)
		}
		s := &fileStrategy{logger: logger}
		return s.collect(ctx, source, runCfg, em)
	default:
		return fmt.Errorf("unsupported source type %q", source.Type)
	}
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid source url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid source url %q: expected absolute http(s) url", raw)
	}
	return nil
}

// emitter owns the emission path of one run: cap accounting, filter
// evaluation, record construction, and the blocking push into the output
// channel. Safe for concurrent use by a run's workers.
type emitter struct {
	ids        IDGenerator
	clock      Clock
	out        chan<- *RawRecord
	pipeline   *FilterPipeline
	max        int64
	count      atomic.Int64
	metrics    Metrics
	sourceType SourceType
}

// full reports whether the emission cap has been reached.
func (e *emitter) full() bool {
	return e.count.Load() >= e.max
}

// emitted returns how many records have been delivered so far.
func (e *emitter) emitted() int64 {
	return e.count.Load()
}

// emit filters content and, if accepted, delivers a record. It blocks on a
// full output channel (backpressure) and aborts on context cancellation.
// Returns true when a record was delivered.
func (e *emitter) emit(ctx context.Context, content, provenance string, meta map[string]string) (bool, error) {
	if !e.pipeline.Accept(content) {
		return false, nil
	}
	// Reserve a slot before the blocking push so concurrent workers never
	// exceed the cap.
	if n := e.count.Add(1); n > e.max {
		e.count.Add(-1)
		return false, nil
	}
	id, err := e.ids.NewID()
	if err != nil {
		e.count.Add(-1)
		return false, fmt.Errorf("generate record id: %w", err)
	}
	rec := &RawRecord{
		ID:        id,
		Content:   content,
		Source:    provenance,
		Timestamp: e.clock.Now().UnixMilli(),
		Metadata:  meta,
	}
	select {
	case e.out <- rec:
		if e.metrics != nil {
			e.metrics.RecordEmitted(string(e.sourceType))
		}
		return true, nil
	case <-ctx.Done():
		e.count.Add(-1)
		return false, ctx.Err()
	}
}
