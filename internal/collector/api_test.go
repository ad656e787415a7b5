package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func apiConfig() *Config {
	return &Config{
		MaxCount:    50,
		Concurrency: 2,
		RateLimit:   1000,
		Timeout:     5 * time.Second,
	}
}

func serveJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestAPICollectSinglePageEnvelope(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveJSON(w, map[string]any{
			"data": []map[string]any{
				{"content": "first item with enough text", "source": "forum"},
				{"content": "second item with enough text", "meta": map[string]string{"lang": "en"}},
				{"content": "x"},
			},
			"has_more": false,
		})
	}))
	defer srv.Close()

	e := newTestEngine(t)
	out := make(chan *RawRecord, 16)
	require.NoError(t, e.Collect(context.Background(), &Source{Type: SourceAPI, URL: srv.URL}, apiConfig(), out))

	records := drain(out)
	require.Len(t, records, 2, "the sub-minimum item must be dropped")
	require.Equal(t, "api:forum", records[0].Source)
	require.Contains(t, records[1].Source, "api:127.0.0.1")
	require.Equal(t, "en", records[1].Metadata["lang"])
	require.Equal(t, "0", records[0].Metadata["page"])
}

func TestAPICollectFollowsPagination(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/items", func(w http.ResponseWriter, r *http.Request) {
		serveJSON(w, map[string]any{
			"data":     []map[string]any{{"content": "page zero item with enough text"}},
			"has_more": true,
			"next_url": srv.URL + "/items2",
		})
	})
	mux.HandleFunc("/items2", func(w http.ResponseWriter, r *http.Request) {
		serveJSON(w, map[string]any{
			"data":     []map[string]any{{"content": "page one item with enough text"}},
			"has_more": false,
			"next_url": srv.URL + "/items3",
		})
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	e := newTestEngine(t)
	out := make(chan *RawRecord, 16)
	require.NoError(t, e.Collect(context.Background(), &Source{Type: SourceAPI, URL: srv.URL + "/items"}, apiConfig(), out))

	records := drain(out)
	require.Len(t, records, 2, "has_more=false ends pagination even with next_url set")
	require.Equal(t, "0", records[0].Metadata["page"])
	require.Equal(t, "1", records[1].Metadata["page"])
}

func TestAPICollectMergesQueryParameters(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "abc" || r.URL.Query().Get("limit") != "10" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		serveJSON(w, map[string]any{
			"data":     []map[string]any{{"content": "authorized item with enough text"}},
			"has_more": false,
		})
	}))
	defer srv.Close()

	e := newTestEngine(t)
	out := make(chan *RawRecord, 16)
	source := &Source{
		Type:       SourceAPI,
		URL:        srv.URL + "?limit=10",
		Parameters: map[string]string{"token": "abc"},
	}
	require.NoError(t, e.Collect(context.Background(), source, apiConfig(), out))
	require.Len(t, drain(out), 1)
}

func TestAPICollectBareArrayFallback(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveJSON(w, []string{
			"bare array item with enough text",
			"another bare array item with text",
		})
	}))
	defer srv.Close()

	e := newTestEngine(t)
	out := make(chan *RawRecord, 16)
	require.NoError(t, e.Collect(context.Background(), &Source{Type: SourceAPI, URL: srv.URL}, apiConfig(), out))
	require.Len(t, drain(out), 2)
}

func TestAPICollectBareStringFallback(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveJSON(w, "a single bare string with enough text")
	}))
	defer srv.Close()

	e := newTestEngine(t)
	out := make(chan *RawRecord, 16)
	require.NoError(t, e.Collect(context.Background(), &Source{Type: SourceAPI, URL: srv.URL}, apiConfig(), out))

	records := drain(out)
	require.Len(t, records, 1)
	require.Equal(t, "a single bare string with enough text", records[0].Content)
}

func TestAPICollectFirstPageFailureIsFatal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := newTestEngine(t)
	out := make(chan *RawRecord, 4)
	err := e.Collect(context.Background(), &Source{Type: SourceAPI, URL: srv.URL}, apiConfig(), out)
	require.ErrorContains(t, err, "status 500")
}

func TestAPICollectLaterPageFailureKeepsRecords(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/items", func(w http.ResponseWriter, r *http.Request) {
		serveJSON(w, map[string]any{
			"data":     []map[string]any{{"content": "page zero item with enough text"}},
			"has_more": true,
			"next_url": srv.URL + "/broken",
		})
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	e := newTestEngine(t)
	out := make(chan *RawRecord, 16)
	require.NoError(t, e.Collect(context.Background(), &Source{Type: SourceAPI, URL: srv.URL + "/items"}, apiConfig(), out))
	require.Len(t, drain(out), 1, "records before the failed page survive")
}

func TestAPICollectUnrecognizedShapeIsFatal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveJSON(w, map[string]any{"weird": true})
	}))
	defer srv.Close()

	e := newTestEngine(t)
	out := make(chan *RawRecord, 4)
	err := e.Collect(context.Background(), &Source{Type: SourceAPI, URL: srv.URL}, apiConfig(), out)
	require.ErrorContains(t, err, "unrecognized response shape")
}

func TestAPICollectHonorsCapAcrossPages(t *testing.T) {
	t.Parallel()

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		items := make([]map[string]any, 10)
		for i := range items {
			items[i] = map[string]any{"content": fmt.Sprintf("endless item %d with enough text", i)}
		}
		serveJSON(w, map[string]any{
			"data":     items,
			"has_more": true,
			"next_url": srv.URL,
		})
	}))
	defer srv.Close()

	e := newTestEngine(t)
	out := make(chan *RawRecord, 64)
	cfg := apiConfig()
	cfg.MaxCount = 25
	require.NoError(t, e.Collect(context.Background(), &Source{Type: SourceAPI, URL: srv.URL}, cfg, out))
	require.Len(t, drain(out), 25)
}
