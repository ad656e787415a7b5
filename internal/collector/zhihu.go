package collector

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Mode-specific minimum lengths (runes) the original platform crawler used
// to drop boilerplate before the filter pipeline even runs.
const (
	zhihuQuestionAnswerMinLen = 50
	zhihuAnswerModeMinLen     = 100
	zhihuGeneralMinLen        = 20
)

var zhihuGeneralSelectors = []string{
	".RichContent-inner",
	".QuestionHeader-title",
	".SearchResult-excerpt",
	".ContentItem-title",
}

// zhihuStrategy is the hardened specialization of the web strategy for an
// adversarial source: stricter governor ceilings, full browser-like headers,
// a random user agent per request, mode-specific extraction, and jittered
// pagination hops. Collection mode comes from the "type" source parameter.
type zhihuStrategy struct {
	logger     *zap.Logger
	userAgents []string
	governor   *Governor
	backoff    *Backoff
	metrics    Metrics
	jitterMin  time.Duration
	jitterMax  time.Duration
}

func (s *zhihuStrategy) collect(ctx context.Context, source *Source, cfg Config, em *emitter) error {
	mode := source.Param("type")
	if mode == "" {
		mode = "general"
	}

	startURL := source.URL
	if mode == "search" {
		keyword := firstParam(source, "keyword", "q")
		if keyword == "" {
			return fmt.Errorf("search mode requires a keyword parameter")
		}
		startURL = fmt.Sprintf("https://www.zhihu.com/search?type=content&q=%s", url.QueryEscape(keyword))
	}
	if err := validateHTTPURL(startURL); err != nil {
		return err
	}

	pagination := newPaginationSet()
	retries := newRetryBudget(maxHostileRetries)
	c, err := s.newCollector(ctx, cfg, em, pagination, retries)
	if err != nil {
		return err
	}

	switch mode {
	case "questions":
		s.registerQuestionHandlers(ctx, em, c)
	case "answers":
		s.registerAnswerHandlers(ctx, em, c)
	case "search":
		s.registerSearchHandlers(ctx, em, c, firstParam(source, "keyword", "q"))
	case "topic":
		s.registerTopicHandlers(ctx, em, c)
	default:
		s.registerGeneralHandlers(ctx, em, c)
	}
	s.registerPagination(ctx, em, c, pagination)

	s.logger.Info("starting hardened collection",
		zap.String("mode", mode),
		zap.String("url", startURL),
	)
	if err := c.Visit(startURL); err != nil {
		return fmt.Errorf("start crawl %s: %w", startURL, err)
	}
	return waitCrawl(ctx, c, em, s.logger)
}

func (s *zhihuStrategy) newCollector(
	ctx context.Context,
	cfg Config,
	em *emitter,
	pagination *paginationSet,
	retries *retryBudget,
) (*colly.Collector, error) {
	c := colly.NewCollector(
		colly.UserAgent(pickUserAgent(s.userAgents)),
		colly.Async(true),
	)
	c.SetRequestTimeout(cfg.Timeout)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Concurrency,
	}); err != nil {
		return nil, fmt.Errorf("set crawl limits: %w", err)
	}

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
		r.Headers.Set("Accept-Language", "zh-CN,zh;q=0.8,en-US;q=0.5,en;q=0.3")
		r.Headers.Set("Accept-Encoding", "gzip, deflate, br")
		r.Headers.Set("Connection", "keep-alive")
		r.Headers.Set("Upgrade-Insecure-Requests", "1")
		r.Headers.Set("Sec-Fetch-Dest", "document")
		r.Headers.Set("Sec-Fetch-Mode", "navigate")
		r.Headers.Set("Sec-Fetch-Site", "none")
		r.Headers.Set("Cache-Control", "max-age=0")
		if strings.HasSuffix(r.URL.Hostname(), "zhihu.com") {
			r.Headers.Set("Referer", "https://www.zhihu.com/")
		}
		r.Ctx.Put("fetch_start", time.Now())
	})

	c.OnResponse(func(r *colly.Response) {
		observeCollyFetch(s.metrics, r, SourceZhihu)
		if hostileStatus(r.StatusCode) {
			s.backoff.Observe(r.StatusCode, pagination.contains(r.Request.URL.String()))
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		absorbFetchError(ctx, r, err, s.backoff, retries, pagination, s.metrics, s.logger, SourceZhihu)
	})

	return c, nil
}

func (s *zhihuStrategy) registerQuestionHandlers(ctx context.Context, em *emitter, c *colly.Collector) {
	c.OnHTML(".QuestionHeader-title", func(e *colly.HTMLElement) {
		if em.full() {
			return
		}
		title := strings.TrimSpace(e.Text)
		if title == "" {
			return
		}
		detail := ""
		e.DOM.Parents().Find(".QuestionRichText").Each(func(_ int, sel *goquery.Selection) {
			detail = strings.TrimSpace(sel.Text())
		})
		meta := map[string]string{
			"url":      e.Request.URL.String(),
			"title":    title,
			"type":     "question",
			"platform": "zhihu",
		}
		content := fmt.Sprintf("问题: %s\n详情: %s", title, detail)
		if _, err := em.emit(ctx, content, "zhihu:question", meta); err != nil {
			return
		}
	})

	c.OnHTML(".RichContent-inner", func(e *colly.HTMLElement) {
		if em.full() {
			return
		}
		content := cleanText(e.Text)
		if utf8.RuneCountInString(content) < zhihuQuestionAnswerMinLen {
			return
		}
		author := ""
		e.DOM.Parents().Find(".AuthorInfo-name").Each(func(_ int, sel *goquery.Selection) {
			author = strings.TrimSpace(sel.Text())
		})
		meta := map[string]string{
			"url":      e.Request.URL.String(),
			"author":   author,
			"type":     "answer",
			"platform": "zhihu",
		}
		if _, err := em.emit(ctx, content, "zhihu:answer", meta); err != nil {
			return
		}
	})
}

func (s *zhihuStrategy) registerAnswerHandlers(ctx context.Context, em *emitter, c *colly.Collector) {
	c.OnHTML(".RichContent-inner", func(e *colly.HTMLElement) {
		if em.full() {
			return
		}
		content := cleanText(e.Text)
		if utf8.RuneCountInString(content) < zhihuAnswerModeMinLen {
			return
		}
		voteCount := 0
		e.DOM.Parents().Find(".VoteButton--up .Button-label").Each(func(_ int, sel *goquery.Selection) {
			if n, err := strconv.Atoi(strings.TrimSpace(sel.Text())); err == nil {
				voteCount = n
			}
		})
		meta := map[string]string{
			"url":        e.Request.URL.String(),
			"vote_count": strconv.Itoa(voteCount),
			"type":       "answer",
			"platform":   "zhihu",
		}
		if _, err := em.emit(ctx, content, "zhihu:answer", meta); err != nil {
			return
		}
	})
}

func (s *zhihuStrategy) registerSearchHandlers(ctx context.Context, em *emitter, c *colly.Collector, keyword string) {
	c.OnHTML(".SearchResult-Card", func(e *colly.HTMLElement) {
		if em.full() {
			return
		}
		title := strings.TrimSpace(e.ChildText(".SearchResult-title"))
		excerpt := strings.TrimSpace(e.ChildText(".SearchResult-excerpt"))
		if title == "" && excerpt == "" {
			return
		}
		meta := map[string]string{
			"url":      e.Request.URL.String(),
			"keyword":  keyword,
			"title":    title,
			"type":     "search_result",
			"platform": "zhihu",
		}
		content := cleanText(title + "\n" + excerpt)
		if _, err := em.emit(ctx, content, "zhihu:search", meta); err != nil {
			return
		}
	})
}

func (s *zhihuStrategy) registerTopicHandlers(ctx context.Context, em *emitter, c *colly.Collector) {
	c.OnHTML(".ContentItem", func(e *colly.HTMLElement) {
		if em.full() {
			return
		}
		title := strings.TrimSpace(e.ChildText(".ContentItem-title"))
		content := cleanText(e.ChildText(".RichContent-inner"))
		if content == "" {
			return
		}
		meta := map[string]string{
			"url":      e.Request.URL.String(),
			"title":    title,
			"type":     "topic_content",
			"platform": "zhihu",
		}
		if _, err := em.emit(ctx, content, "zhihu:topic", meta); err != nil {
			return
		}
	})
}

func (s *zhihuStrategy) registerGeneralHandlers(ctx context.Context, em *emitter, c *colly.Collector) {
	for _, selector := range zhihuGeneralSelectors {
		c.OnHTML(selector, func(e *colly.HTMLElement) {
			if em.full() {
				return
			}
			content := cleanText(e.Text)
			if utf8.RuneCountInString(content) < zhihuGeneralMinLen {
				return
			}
			meta := map[string]string{
				"url":      e.Request.URL.String(),
				"selector": selector,
				"type":     "general",
				"platform": "zhihu",
			}
			if _, err := em.emit(ctx, content, "zhihu:general", meta); err != nil {
				return
			}
		})
	}
}

// registerPagination follows the "next page" link with an extra jitter delay
// on every hop, independent of the token bucket.
func (s *zhihuStrategy) registerPagination(ctx context.Context, em *emitter, c *colly.Collector, pagination *paginationSet) {
	c.OnHTML(".Pagination-next", func(e *colly.HTMLElement) {
		if em.full() {
			return
		}
		next := e.Attr("href")
		if next == "" {
			return
		}
		abs := e.Request.AbsoluteURL(next)
		if abs == "" {
			return
		}
		pagination.add(abs)
		if err := sleepJitter(ctx, s.jitterMin, s.jitterMax); err != nil {
			return
		}
		if err := e.Request.Visit(next); err != nil {
			s.logger.Debug("skip pagination hop", zap.String("url", abs), zap.Error(err))
		}
	})
}

func firstParam(source *Source, keys ...string) string {
	for _, k := range keys {
		if v := source.Param(k); v != "" {
			return v
		}
	}
	return ""
}
