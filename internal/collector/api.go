package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// apiEnvelope is the structured page shape a paginated endpoint returns.
// Endpoints that do not speak it fall back to a bare array or string.
type apiEnvelope struct {
	Data    []apiItem `json:"data"`
	HasMore bool      `json:"has_more"`
	NextURL string    `json:"next_url"`
}

type apiItem struct {
	ID      string            `json:"id"`
	Content string            `json:"content"`
	Source  string            `json:"source"`
	Meta    map[string]string `json:"meta"`
}

// apiStrategy walks a paginated remote endpoint: GET with source-supplied
// query parameters, following next_url until absent or the cap is reached.
// Each page fetch is governor-gated.
type apiStrategy struct {
	logger     *zap.Logger
	userAgents []string
	governor   *Governor
	timeout    time.Duration
	metrics    Metrics
}

func (s *apiStrategy) collect(ctx context.Context, source *Source, cfg Config, em *emitter) error {
	client := &http.Client{
		Timeout:   s.timeout,
		Transport: newHTTPTransport(),
	}

	current := source.URL
	page := 0
	for current != "" && !em.full() {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := s.governor.Acquire(ctx); err != nil {
			break
		}
		items, next, err := s.fetchPage(ctx, client, current, source.Parameters)
		s.governor.Release()
		if err != nil {
			// The initial page failing means the source cannot start; a
			// later page failing ends pagination with the records already
			// delivered.
			if page == 0 {
				return fmt.Errorf("fetch api page %s: %w", current, err)
			}
			s.logger.Warn("api page failed, stopping pagination",
				zap.String("url", current),
				zap.Int("page", page),
				zap.Error(err),
			)
			break
		}
		host := hostOf(current)
		for _, item := range items {
			if em.full() {
				break
			}
			provenance := item.Source
			if provenance == "" {
				provenance = host
			}
			meta := map[string]string{
				"url":  current,
				"page": strconv.Itoa(page),
			}
			for k, v := range item.Meta {
				meta[k] = v
			}
			if _, err := em.emit(ctx, item.Content, "api:"+provenance, meta); err != nil {
				break
			}
		}
		current = next
		page++
	}

	s.logger.Info("api collection finished",
		zap.Int("pages", page),
		zap.Int64("collected", em.emitted()),
	)
	if ctx.Err() != nil && em.emitted() == 0 {
		return fmt.Errorf("collection canceled before progress: %w", ctx.Err())
	}
	return nil
}

func (s *apiStrategy) fetchPage(
	ctx context.Context,
	client *http.Client,
	pageURL string,
	params map[string]string,
) ([]apiItem, string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, "", fmt.Errorf("parse url: %w", err)
	}
	query := u.Query()
	for key, value := range params {
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", pickUserAgent(s.userAgents))
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordFetch(string(SourceAPI), "error", time.Since(start))
		}
		return nil, "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if s.metrics != nil {
		s.metrics.RecordFetch(string(SourceAPI), statusClass(resp.StatusCode), time.Since(start))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read response: %w", err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Data != nil {
		next := envelope.NextURL
		if !envelope.HasMore {
			next = ""
		}
		return envelope.Data, next, nil
	}
	items, err := parseBareResponse(body)
	if err != nil {
		return nil, "", err
	}
	return items, "", nil
}

// parseBareResponse handles endpoints that return a plain string array or a
// single string instead of the envelope.
func parseBareResponse(body []byte) ([]apiItem, error) {
	var texts []string
	if err := json.Unmarshal(body, &texts); err != nil {
		var text string
		if err := json.Unmarshal(body, &text); err != nil {
			return nil, fmt.Errorf("unrecognized response shape")
		}
		texts = []string{text}
	}
	items := make([]apiItem, 0, len(texts))
	for i, text := range texts {
		items = append(items, apiItem{
			ID:      fmt.Sprintf("api_%d", i),
			Content: text,
		})
	}
	return items, nil
}

func hostOf(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return "api"
}

// newHTTPTransport returns a pooled transport with conservative timeouts.
func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
