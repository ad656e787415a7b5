// Package collector defines core types shared across the collection engine.
package collector

import (
	"time"
)

// SourceType identifies which fetch strategy a collection run uses.
type SourceType string

// Source type values accepted in a CollectionSource.
const (
	SourceWeb   SourceType = "web"
	SourceZhihu SourceType = "zhihu"
	SourceAPI   SourceType = "api"
	SourceFile  SourceType = "file"
)

// Source describes where a run collects from. It is constructed once per
// Collect invocation and read-only thereafter.
type Source struct {
	Type       SourceType        `json:"type"`
	URL        string            `json:"url,omitempty"`
	FilePath   string            `json:"file_path,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Param returns a named source parameter, or empty when unset.
func (s *Source) Param(key string) string {
	if s.Parameters == nil {
		return ""
	}
	return s.Parameters[key]
}

// Config captures run-wide collection policy. Zero values are replaced with
// per-source-type defaults before the run starts.
type Config struct {
	MaxCount    int           `json:"max_count"`
	Concurrency int           `json:"concurrency"`
	RateLimit   float64       `json:"rate_limit"`
	Timeout     time.Duration `json:"timeout"`
	Filters     []FilterSpec  `json:"filters,omitempty"`
}

// RawRecord is one unit of collected text plus provenance metadata. Records
// are constructed transiently inside a run and handed to the consumer via
// the output channel; the engine keeps no record state of its own.
type RawRecord struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Source    string            `json:"source"`
	Timestamp int64             `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Defaults holds the per-source-type fallbacks applied when a Config field
// is zero. The values come from external configuration; the engine carries
// built-in defaults matching the historical behavior of each source.
type Defaults struct {
	MaxCount    int
	Concurrency int
	RateLimit   float64
	Timeout     time.Duration
}

// Built-in per-source defaults. Zhihu values are also hard ceilings: the
// hardened strategy never exceeds 5 rps / 2 concurrent fetches.
var builtinDefaults = map[SourceType]Defaults{
	SourceWeb:   {MaxCount: 100, Concurrency: 4, RateLimit: 10, Timeout: 15 * time.Second},
	SourceZhihu: {MaxCount: 1000, Concurrency: 2, RateLimit: 5, Timeout: 20 * time.Second},
	SourceAPI:   {MaxCount: 1000, Concurrency: 2, RateLimit: 10, Timeout: 15 * time.Second},
	SourceFile:  {MaxCount: 10000, Concurrency: 1, RateLimit: 0, Timeout: 0},
}

const (
	zhihuMaxRate        = 5
	zhihuMaxConcurrency = 2
)

// normalized returns a copy of cfg with zero fields replaced by the defaults
// for the given source type, and zhihu ceilings enforced.
func (c Config) normalized(t SourceType, overrides map[SourceType]Defaults) Config {
	def, ok := overrides[t]
	if !ok {
		def = builtinDefaults[t]
	}
	out := c
	if out.MaxCount <= 0 {
		out.MaxCount = def.MaxCount
	}
	if out.Concurrency <= 0 {
		out.Concurrency = def.Concurrency
	}
	if out.RateLimit <= 0 {
		out.RateLimit = def.RateLimit
	}
	if out.Timeout <= 0 {
		out.Timeout = def.Timeout
	}
	if t == SourceZhihu {
		if out.RateLimit <= 0 || out.RateLimit > zhihuMaxRate {
			out.RateLimit = zhihuMaxRate
		}
		if out.Concurrency <= 0 || out.Concurrency > zhihuMaxConcurrency {
			out.Concurrency = zhihuMaxConcurrency
		}
	}
	return out
}

// Clock returns the current time; injectable for tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Metrics receives engine observations. Implementations must be safe for
// concurrent use. A nil Metrics disables observation.
type Metrics interface {
	RecordEmitted(sourceType string)
	RecordFetch(sourceType, statusClass string, duration time.Duration)
	RecordBackoff(status int)
	ObserveGovernorDelay(duration time.Duration)
}
