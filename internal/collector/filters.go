package collector

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// FilterSpec names one configured filter plus its optional threshold, parsed
// from strings like "no_short" or "no_short:30".
type FilterSpec struct {
	Name      string `json:"name"`
	Threshold int    `json:"threshold,omitempty"`
}

// ParseFilterSpec parses a "name" or "name:threshold" filter expression.
func ParseFilterSpec(raw string) (FilterSpec, error) {
	name, arg, hasArg := strings.Cut(strings.TrimSpace(raw), ":")
	spec := FilterSpec{Name: name}
	if !hasArg {
		return spec, nil
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 {
		return FilterSpec{}, fmt.Errorf("filter %q: invalid threshold %q", name, arg)
	}
	spec.Threshold = n
	return spec, nil
}

// lengthBounds carries the per-source-type character thresholds. Baseline
// bounds apply unconditionally; short/long are the defaults for the
// no_short/no_long filters when no explicit threshold is configured.
type lengthBounds struct {
	baselineMin int
	baselineMax int
	short       int
	long        int
}

var boundsByType = map[SourceType]lengthBounds{
	SourceWeb:   {baselineMin: 5, baselineMax: 1000, short: 20, long: 500},
	SourceZhihu: {baselineMin: 20, baselineMax: 5000, short: 50, long: 2000},
	SourceAPI:   {baselineMin: 5, baselineMax: 500, short: 10, long: 200},
	SourceFile:  {baselineMin: 5, baselineMax: 2000, short: 10, long: 500},
}

// filterFunc reports whether content passes one predicate.
type filterFunc func(content string) bool

// FilterPipeline evaluates the configured predicates in order; all must
// accept for a candidate to be emitted. Every pipeline also applies the
// unconditional baseline: trimmed length within the source's bounds and not
// purely numeric/symbolic content.
type FilterPipeline struct {
	bounds  lengthBounds
	filters []filterFunc
}

// NewFilterPipeline builds a pipeline for the given source type. Unknown
// filter names are a setup error.
func NewFilterPipeline(t SourceType, specs []FilterSpec) (*FilterPipeline, error) {
	bounds, ok := boundsByType[t]
	if !ok {
		return nil, fmt.Errorf("no filter bounds for source type %q", t)
	}
	p := &FilterPipeline{bounds: bounds}
	for _, spec := range specs {
		f, err := buildFilter(spec, bounds)
		if err != nil {
			return nil, err
		}
		p.filters = append(p.filters, f)
	}
	return p, nil
}

func buildFilter(spec FilterSpec, bounds lengthBounds) (filterFunc, error) {
	threshold := func(fallback int) int {
		if spec.Threshold > 0 {
			return spec.Threshold
		}
		return fallback
	}
	switch spec.Name {
	case "no_empty":
		return func(content string) bool {
			return strings.TrimSpace(content) != ""
		}, nil
	case "no_short":
		min := threshold(bounds.short)
		return func(content string) bool {
			return utf8.RuneCountInString(content) >= min
		}, nil
	case "no_long":
		max := threshold(bounds.long)
		return func(content string) bool {
			return utf8.RuneCountInString(content) <= max
		}, nil
	case "no_url":
		return func(content string) bool {
			return !strings.Contains(content, "http://") && !strings.Contains(content, "https://")
		}, nil
	case "no_email":
		return func(content string) bool {
			return !(strings.Contains(content, "@") && strings.Contains(content, "."))
		}, nil
	case "chinese_only":
		return containsChinese, nil
	default:
		return nil, fmt.Errorf("unknown filter %q", spec.Name)
	}
}

// Accept reports whether content passes the baseline checks and every
// configured filter. It is a pure function of its input.
func (p *FilterPipeline) Accept(content string) bool {
	content = strings.TrimSpace(content)
	n := utf8.RuneCountInString(content)
	if n < p.bounds.baselineMin || n > p.bounds.baselineMax {
		return false
	}
	if isOnlyNumbersOrSymbols(content) {
		return false
	}
	for _, f := range p.filters {
		if !f(content) {
			return false
		}
	}
	return true
}
