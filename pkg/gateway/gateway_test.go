package gateway_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/pario-ai/semcache/pkg/config"
	"github.com/pario-ai/semcache/pkg/embedding"
	"github.com/pario-ai/semcache/pkg/gateway"
	"github.com/pario-ai/semcache/pkg/models"
	"github.com/pario-ai/semcache/pkg/semcache"
	"github.com/pario-ai/semcache/pkg/store/memory"
)

type recordingTracker struct {
	records chan models.RequestRecord
}

func (r *recordingTracker) Record(_ context.Context, rec models.RequestRecord) error {
	r.records <- rec
	return nil
}
func (r *recordingTracker) Recent(context.Context, int) ([]models.RequestRecord, error) {
	return nil, nil
}
func (r *recordingTracker) Summary(context.Context, time.Time) ([]models.RequestSummary, error) {
	return nil, nil
}
func (r *recordingTracker) Close() error { return nil }

func (r *recordingTracker) next(t *testing.T) models.RequestRecord {
	t.Helper()
	select {
	case rec := <-r.records:
		return rec
	case <-time.After(5 * time.Second):
		t.Fatal("request was not tracked")
		return models.RequestRecord{}
	}
}

type fixture struct {
	srv     *httptest.Server
	cache   *semcache.Manager
	tracker *recordingTracker
}

func newFixture(t *testing.T, mutate func(*config.Config), upstreams ...http.Handler) *fixture {
	t.Helper()
	cfg := config.Default()
	for i, h := range upstreams {
		up := httptest.NewServer(h)
		t.Cleanup(up.Close)
		cfg.Providers = append(cfg.Providers, config.ProviderConfig{
			Name:  fmt.Sprintf("p%d", i),
			URL:   up.URL,
			Type:  "ollama",
			Model: "codellama",
		})
	}
	if len(cfg.Providers) > 1 {
		targets := make([]config.RouteTarget, 0, len(cfg.Providers))
		for _, p := range cfg.Providers {
			targets = append(targets, config.RouteTarget{Provider: p.Name})
		}
		cfg.Router.Routes = []config.RouteConfig{
			{Kind: "completion", Targets: targets},
			{Kind: "chat", Targets: targets},
		}
	}
	if mutate != nil {
		mutate(cfg)
	}

	mgr := semcache.New(memory.New(), embedding.NewService(embedding.HashingLoader(cfg.Embedding.Dimensions), cfg.Embedding.Dimensions), semcache.Config{
		Prefix:      cfg.Store.Prefix,
		TTL:         cfg.Cache.TTL,
		MaxEntries:  cfg.Cache.MaxEntries,
		EvictMargin: cfg.Cache.EvictMargin,
		Threshold:   cfg.Cache.Threshold,
	})
	tr := &recordingTracker{records: make(chan models.RequestRecord, 16)}

	srv := httptest.NewServer(gateway.New(cfg, mgr, gateway.WithTracker(tr)))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, cache: mgr, tracker: tr}
}

// ollamaStream writes each line as one NDJSON frame.
func ollamaStream(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, l := range lines {
			fmt.Fprintln(w, l)
			w.(http.Flusher).Flush()
		}
	}
}

func codeBody(content string, column int) string {
	b, _ := json.Marshal(map[string]any{
		"fileContent":    content,
		"cursorLine":     0,
		"cursorColumn":   column,
		"suggestionType": "completion",
		"fileName":       "math.js",
	})
	return string(b)
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	gt.NoError(t, err).Required()
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readEvents(t *testing.T, resp *http.Response) []models.StreamEvent {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	gt.NoError(t, err).Required()

	var events []models.StreamEvent
	for _, block := range strings.Split(string(data), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		payload, ok := strings.CutPrefix(block, "data: ")
		gt.Bool(t, ok).True()
		var ev models.StreamEvent
		gt.NoError(t, json.Unmarshal([]byte(payload), &ev)).Required()
		events = append(events, ev)
	}
	return events
}

func chunks(events []models.StreamEvent) string {
	var b strings.Builder
	for _, ev := range events {
		b.WriteString(ev.Chunk)
	}
	return b.String()
}

func assertSingleTerminal(t *testing.T, events []models.StreamEvent) models.StreamEvent {
	t.Helper()
	gt.Bool(t, len(events) > 0).True()
	for _, ev := range events[:len(events)-1] {
		gt.Bool(t, ev.Done).False()
	}
	last := events[len(events)-1]
	gt.Bool(t, last.Done).True()
	return last
}

func cacheTotal(t *testing.T, m *semcache.Manager) int64 {
	t.Helper()
	stats, err := m.Stats(context.Background())
	gt.NoError(t, err).Required()
	return stats.Total
}

func TestCompletionMissThenHit(t *testing.T) {
	f := newFixture(t, nil, ollamaStream(
		`{"response":"a + ","done":false}`,
		`{"response":"b;","done":true,"eval_count":2}`,
	))

	resp := post(t, f.srv.URL+"/api/completions", codeBody("function add(a,b){return ", 25))
	gt.Value(t, resp.StatusCode).Equal(http.StatusOK)
	gt.String(t, resp.Header.Get("Content-Type")).Contains("text/event-stream")

	events := readEvents(t, resp)
	gt.Value(t, chunks(events)).Equal("a + b;")
	done := assertSingleTerminal(t, events)
	gt.Value(t, *done.Cached).Equal(false)
	gt.Value(t, *done.Tokens).Equal(2)
	gt.Value(t, done.Error).Equal("")

	rec := f.tracker.next(t)
	gt.Value(t, rec.Outcome).Equal(models.OutcomeMiss)
	gt.Value(t, rec.Category).Equal("JavaScript/None")
	gt.Value(t, rec.Provider).Equal("p0")
	gt.Number(t, cacheTotal(t, f.cache)).Equal(1)

	resp = post(t, f.srv.URL+"/api/completions", codeBody("function add(a, b) { return ", 28))
	events = readEvents(t, resp)
	gt.Array(t, events).Length(2)
	gt.Value(t, events[0].Chunk).Equal("a + b;")
	done = assertSingleTerminal(t, events)
	gt.Value(t, *done.Cached).Equal(true)
	gt.Bool(t, *done.ResponseTime < 200).True()

	gt.Value(t, f.tracker.next(t).Outcome).Equal(models.OutcomeHit)
	gt.Number(t, cacheTotal(t, f.cache)).Equal(1)
}

func TestChatMissThenHit(t *testing.T) {
	f := newFixture(t, nil, ollamaStream(
		`{"message":{"role":"assistant","content":"Use a map."},"done":true}`,
	))
	body := `{"message":"How do I dedupe a list?","mode":"chat","history":[{"role":"user","content":"hi"}]}`

	events := readEvents(t, post(t, f.srv.URL+"/api/chat", body))
	gt.Value(t, chunks(events)).Equal("Use a map.")
	gt.Value(t, *assertSingleTerminal(t, events).Cached).Equal(false)

	events = readEvents(t, post(t, f.srv.URL+"/api/chat", body))
	gt.Value(t, chunks(events)).Equal("Use a map.")
	gt.Value(t, *assertSingleTerminal(t, events).Cached).Equal(true)
}

func TestValidation(t *testing.T) {
	f := newFixture(t, nil, ollamaStream(`{"response":"x","done":true}`))

	tests := map[string]struct {
		path string
		body string
	}{
		"invalid json":         {"/api/completions", `{`},
		"missing fileContent":  {"/api/completions", `{"cursorLine":0,"cursorColumn":0,"suggestionType":"completion"}`},
		"negative cursor":      {"/api/completions", `{"fileContent":"x","cursorLine":-1,"cursorColumn":0,"suggestionType":"completion"}`},
		"missing cursor":       {"/api/completions", `{"fileContent":"x","cursorColumn":0,"suggestionType":"completion"}`},
		"missing type":         {"/api/completions", `{"fileContent":"x","cursorLine":0,"cursorColumn":0}`},
		"empty message":        {"/api/chat", `{"message":"   "}`},
		"invalid history role": {"/api/chat", `{"message":"hi","history":[{"role":"system","content":"x"}]}`},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			resp := post(t, f.srv.URL+tc.path, tc.body)
			gt.Value(t, resp.StatusCode).Equal(http.StatusBadRequest)

			var envelope struct {
				Error struct {
					Message string `json:"message"`
					Type    string `json:"type"`
					Code    int    `json:"code"`
				} `json:"error"`
			}
			gt.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope)).Required()
			gt.Value(t, envelope.Error.Code).Equal(http.StatusBadRequest)
			gt.Value(t, envelope.Error.Type).Equal("semcache_error")
			gt.String(t, envelope.Error.Message).NotEqual("")
		})
	}
}

func TestEmptyFileContentIsAccepted(t *testing.T) {
	f := newFixture(t, nil, ollamaStream(`{"response":"package main","done":true}`))

	resp := post(t, f.srv.URL+"/api/completions", `{"fileContent":"","cursorLine":0,"cursorColumn":0,"suggestionType":"completion"}`)
	gt.Value(t, resp.StatusCode).Equal(http.StatusOK)
	gt.Value(t, chunks(readEvents(t, resp))).Equal("package main")
}

func TestMalformedFrameIsSkipped(t *testing.T) {
	f := newFixture(t, nil, ollamaStream(
		`{"response":"a + ","done":false}`,
		`{this is not json`,
		`{"response":"b;","done":true}`,
	))

	events := readEvents(t, post(t, f.srv.URL+"/api/completions", codeBody("function add(a,b){return ", 25)))
	gt.Value(t, chunks(events)).Equal("a + b;")
	done := assertSingleTerminal(t, events)
	gt.Value(t, done.Error).Equal("")
	gt.Value(t, *done.Tokens).Equal(2)
	gt.Number(t, cacheTotal(t, f.cache)).Equal(1)
}

func TestUpstreamErrorIsNotCached(t *testing.T) {
	f := newFixture(t, nil, ollamaStream(
		`{"response":"a + ","done":false}`,
		`{"error":"model crashed"}`,
	))

	events := readEvents(t, post(t, f.srv.URL+"/api/completions", codeBody("function add(a,b){return ", 25)))
	done := assertSingleTerminal(t, events)
	gt.String(t, done.Error).Contains("model crashed")
	gt.Value(t, done.Cached).Nil()

	gt.Value(t, f.tracker.next(t).Outcome).Equal(models.OutcomeError)
	gt.Number(t, cacheTotal(t, f.cache)).Equal(0)
}

func TestIncompleteStreamIsNotCached(t *testing.T) {
	f := newFixture(t, nil, ollamaStream(`{"response":"a + ","done":false}`))

	events := readEvents(t, post(t, f.srv.URL+"/api/completions", codeBody("function add(a,b){return ", 25)))
	done := assertSingleTerminal(t, events)
	gt.String(t, done.Error).NotEqual("")
	gt.Number(t, cacheTotal(t, f.cache)).Equal(0)
}

func TestUpstreamUnavailable(t *testing.T) {
	f := newFixture(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))

	resp := post(t, f.srv.URL+"/api/completions", codeBody("x", 0))
	gt.Value(t, resp.StatusCode).Equal(http.StatusOK)
	events := readEvents(t, resp)
	gt.Array(t, events).Length(1)
	gt.Value(t, events[0].Error).Equal("generation backend unavailable")
	gt.Bool(t, events[0].Done).True()
	gt.Number(t, cacheTotal(t, f.cache)).Equal(0)
}

func TestFallbackToNextProvider(t *testing.T) {
	f := newFixture(t, nil,
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusInternalServerError)
		}),
		ollamaStream(`{"response":"ok","done":true}`),
	)

	events := readEvents(t, post(t, f.srv.URL+"/api/completions", codeBody("x", 0)))
	gt.Value(t, chunks(events)).Equal("ok")
	gt.Value(t, f.tracker.next(t).Provider).Equal("p1")
}

func blockingUpstream(first string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		fmt.Fprintln(w, first)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}
}

func TestGenerationTimeout(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Generation.Timeout = 200 * time.Millisecond
	}, blockingUpstream(`{"response":"a + ","done":false}`))

	events := readEvents(t, post(t, f.srv.URL+"/api/completions", codeBody("function add(a,b){return ", 25)))
	gt.Value(t, events[0].Chunk).Equal("a + ")
	done := assertSingleTerminal(t, events)
	gt.Value(t, done.Error).Equal("generation timed out")
	gt.Number(t, cacheTotal(t, f.cache)).Equal(0)
}

func TestClientCancellation(t *testing.T) {
	f := newFixture(t, nil, blockingUpstream(`{"response":"a + ","done":false}`))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.srv.URL+"/api/completions",
		bytes.NewReader([]byte(codeBody("function add(a,b){return ", 25))))
	gt.NoError(t, err).Required()
	resp, err := http.DefaultClient.Do(req)
	gt.NoError(t, err).Required()
	defer func() { _ = resp.Body.Close() }()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	gt.NoError(t, err).Required()
	gt.String(t, line).Contains(`"chunk":"a + "`)

	cancel()

	gt.Value(t, f.tracker.next(t).Outcome).Equal(models.OutcomeCancelled)
	gt.Number(t, cacheTotal(t, f.cache)).Equal(0)
}

func TestCacheDisabled(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Cache.Enabled = false
	}, ollamaStream(`{"response":"x","done":true}`))

	for range 2 {
		events := readEvents(t, post(t, f.srv.URL+"/api/completions", codeBody("x", 0)))
		gt.Value(t, *assertSingleTerminal(t, events).Cached).Equal(false)
	}
	gt.Number(t, cacheTotal(t, f.cache)).Equal(0)
}

func TestCacheStatsEndpoint(t *testing.T) {
	f := newFixture(t, nil, ollamaStream(`{"response":"a + b;","done":true}`))
	readEvents(t, post(t, f.srv.URL+"/api/completions", codeBody("function add(a,b){return ", 25)))

	resp, err := http.Get(f.srv.URL + "/api/cache/stats")
	gt.NoError(t, err).Required()
	defer func() { _ = resp.Body.Close() }()

	var stats models.CacheStats
	gt.NoError(t, json.NewDecoder(resp.Body).Decode(&stats)).Required()
	gt.Number(t, stats.Total).Equal(1)
	gt.Number(t, stats.ByCategory["JavaScript/None"]).Equal(1)
	gt.Value(t, stats.Oldest).NotNil()
}

func TestHealthzAndRequestID(t *testing.T) {
	f := newFixture(t, nil, ollamaStream(`{"response":"x","done":true}`))

	resp, err := http.Get(f.srv.URL + "/healthz")
	gt.NoError(t, err).Required()
	defer func() { _ = resp.Body.Close() }()
	gt.Value(t, resp.StatusCode).Equal(http.StatusOK)
	gt.String(t, resp.Header.Get("X-Request-ID")).NotEqual("")

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/healthz", nil)
	gt.NoError(t, err).Required()
	req.Header.Set("X-Request-ID", "req-123")
	resp2, err := http.DefaultClient.Do(req)
	gt.NoError(t, err).Required()
	defer func() { _ = resp2.Body.Close() }()
	gt.Value(t, resp2.Header.Get("X-Request-ID")).Equal("req-123")
}
