package collector

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Default extraction rules covering generic comment/content/paragraph-like
// regions, used when the source does not configure its own selector list.
var defaultWebSelectors = []string{
	"p",
	".comment",
	".content",
	".text",
	".description",
	".review",
	"[class*='comment']",
	"[class*='content']",
	"[class*='text']",
	"article",
	".post",
	".message",
	".reply",
}

// webStrategy fetches generic web pages, extracts candidate strings via CSS
// selectors, and optionally follows same-domain links. Every outbound fetch
// is gated by the run's governor and the shared backoff cool-down.
type webStrategy struct {
	logger     *zap.Logger
	userAgents []string
	governor   *Governor
	backoff    *Backoff
	metrics    Metrics
}

func (s *webStrategy) collect(ctx context.Context, source *Source, cfg Config, em *emitter) error {
	base, err := url.Parse(source.URL)
	if err != nil {
		return fmt.Errorf("parse source url: %w", err)
	}

	c := colly.NewCollector(
		colly.UserAgent(pickUserAgent(s.userAgents)),
		colly.Async(true),
	)
	c.SetRequestTimeout(cfg.Timeout)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Concurrency,
	}); err != nil {
		return fmt.Errorf("set crawl limits: %w", err)
	}

	retries := newRetryBudget(maxHostileRetries)
	visited := newConcurrentVisitTracker()

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil || em.full() {
			r.Abort()
			return
		}
		if err := s.backoff.Wait(ctx); err != nil {
			r.Abort()
			return
		}
		if err := s.governor.Wait(ctx); err != nil {
			r.Abort()
			return
		}
		r.Headers.Set("User-Agent", pickUserAgent(s.userAgents))
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "zh-CN,zh;q=0.8,zh-TW;q=0.7,zh-HK;q=0.5,en-US;q=0.3,en;q=0.2")
		r.Headers.Set("Accept-Encoding", "gzip, deflate")
		r.Headers.Set("Connection", "keep-alive")
		r.Ctx.Put("fetch_start", time.Now())
	})

	c.OnResponse(func(r *colly.Response) {
		s.observeFetch(r)
		s.logger.Debug("fetched page",
			zap.String("url", r.Request.URL.String()),
			zap.Int("status", r.StatusCode),
			zap.Int("bytes", len(r.Body)),
		)
	})

	for _, selector := range selectorsFrom(source) {
		c.OnHTML(selector, func(e *colly.HTMLElement) {
			if em.full() {
				return
			}
			content := cleanText(e.Text)
			meta := map[string]string{
				"url":      e.Request.URL.String(),
				"selector": selector,
				"tag":      e.Name,
			}
			if _, err := em.emit(ctx, content, "web:"+e.Request.URL.Host, meta); err != nil {
				return
			}
		})
	}

	if followLinks(source) {
		c.OnHTML("a[href]", func(e *colly.HTMLElement) {
			if em.full() {
				return
			}
			link := e.Attr("href")
			if !isFollowableLink(link, base) {
				return
			}
			abs := e.Request.AbsoluteURL(link)
			if abs == "" || !visited.MarkIfNew(abs) {
				return
			}
			if err := e.Request.Visit(link); err != nil {
				s.logger.Debug("skip link", zap.String("url", abs), zap.Error(err))
			}
		})
	}

	c.OnError(func(r *colly.Response, err error) {
		absorbFetchError(ctx, r, err, s.backoff, retries, nil, s.metrics, s.logger, SourceWeb)
	})

	visited.MarkIfNew(source.URL)
	if err := c.Visit(source.URL); err != nil {
		return fmt.Errorf("start crawl %s: %w", source.URL, err)
	}
	return waitCrawl(ctx, c, em, s.logger)
}

// absorbFetchError routes hostile-source signals (429/403) into the backoff
// policy and retries the unit within budget; ordinary transport failures are
// logged and the unit skipped. Shared by the web and hardened strategies.
func absorbFetchError(
	ctx context.Context,
	r *colly.Response,
	err error,
	back *Backoff,
	retries *retryBudget,
	pagination *paginationSet,
	metrics Metrics,
	logger *zap.Logger,
	t SourceType,
) {
	target := r.Request.URL.String()
	if hostileStatus(r.StatusCode) {
		paged := pagination != nil && pagination.contains(target)
		back.Observe(r.StatusCode, paged)
		if ctx.Err() == nil && retries.Allow(target) {
			if rerr := r.Request.Retry(); rerr != nil {
				logger.Warn("retry after backoff failed", zap.String("url", target), zap.Error(rerr))
			}
		}
		return
	}
	if metrics != nil {
		metrics.RecordFetch(string(t), "error", 0)
	}
	logger.Warn("fetch failed, skipping unit",
		zap.String("url", target),
		zap.Int("status", r.StatusCode),
		zap.Error(err),
	)
}

func (s *webStrategy) observeFetch(r *colly.Response) {
	observeCollyFetch(s.metrics, r, SourceWeb)
}

func observeCollyFetch(metrics Metrics, r *colly.Response, t SourceType) {
	if metrics == nil {
		return
	}
	var dur time.Duration
	if v := r.Ctx.GetAny("fetch_start"); v != nil {
		if start, ok := v.(time.Time); ok {
			dur = time.Since(start)
		}
	}
	metrics.RecordFetch(string(t), statusClass(r.StatusCode), dur)
}

func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "other"
	}
}

func selectorsFrom(source *Source) []string {
	raw := source.Param("selectors")
	if raw == "" {
		return defaultWebSelectors
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultWebSelectors
	}
	return out
}

func followLinks(source *Source) bool {
	v := source.Param("follow_links")
	return v == "true" || v == "1"
}

// waitCrawl joins the collector's async workers before returning. On
// cancellation the workers abort at their next checkpoint; records already
// delivered stay valid, and the run only fails when no progress was made.
func waitCrawl(ctx context.Context, c *colly.Collector, em *emitter, logger *zap.Logger) error {
	done := make(chan struct{})
	go func() {
		c.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		<-done
	}
	logger.Info("crawl finished", zap.Int64("collected", em.emitted()))
	if ctx.Err() != nil && em.emitted() == 0 {
		return fmt.Errorf("collection canceled before progress: %w", ctx.Err())
	}
	return nil
}
