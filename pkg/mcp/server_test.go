package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pario-ai/semcache/pkg/models"
)

// fakeTracker implements tracker.Tracker for testing.
type fakeTracker struct {
	summaries []models.RequestSummary
	records   []models.RequestRecord
	since     time.Time
	limit     int
}

func (f *fakeTracker) Record(_ context.Context, _ models.RequestRecord) error { return nil }
func (f *fakeTracker) Recent(_ context.Context, limit int) ([]models.RequestRecord, error) {
	f.limit = limit
	return f.records, nil
}
func (f *fakeTracker) Summary(_ context.Context, since time.Time) ([]models.RequestSummary, error) {
	f.since = since
	return f.summaries, nil
}
func (f *fakeTracker) Close() error { return nil }

// fakeCache implements CacheStatter for testing.
type fakeCache struct {
	stats models.CacheStats
}

func (f *fakeCache) Stats(_ context.Context) (models.CacheStats, error) { return f.stats, nil }

func sendAndReceive(t *testing.T, srv *Server, req Request) Response {
	t.Helper()
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	line = append(line, '\n')

	var out bytes.Buffer
	if err := srv.Run(context.Background(), bytes.NewReader(line), &out); err != nil {
		t.Fatal(err)
	}

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v (raw: %s)", err, out.String())
	}
	return resp
}

func callTool(t *testing.T, srv *Server, name, args string) ToolCallResult {
	t.Helper()
	p := ToolCallParams{Name: name}
	if args != "" {
		p.Arguments = json.RawMessage(args)
	}
	params, _ := json.Marshal(p)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "tools/call",
		Params:  params,
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result ToolCallResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected content")
	}
	return result
}

func TestInitialize(t *testing.T) {
	srv := New(&fakeTracker{}, nil, "1.0.0")
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "initialize",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result InitializeResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if result.ServerInfo.Name != "semcache" {
		t.Errorf("server name = %q, want %q", result.ServerInfo.Name, "semcache")
	}
	if result.ServerInfo.Version != "1.0.0" {
		t.Errorf("version = %q, want %q", result.ServerInfo.Version, "1.0.0")
	}
	if result.ProtocolVersion != protocolVersion {
		t.Errorf("protocol version = %q, want %q", result.ProtocolVersion, protocolVersion)
	}
}

func TestToolsList(t *testing.T) {
	srv := New(&fakeTracker{}, nil, "test")
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`2`),
		Method:  "tools/list",
	})

	data, _ := json.Marshal(resp.Result)
	var result ToolsListResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}

	names := make(map[string]bool)
	for _, tool := range result.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"semcache_cache_stats", "semcache_request_stats", "semcache_recent_requests"} {
		if !names[want] {
			t.Errorf("missing tool: %s", want)
		}
	}
}

func TestToolCallCacheStats(t *testing.T) {
	now := time.Now()
	oldest := now.Add(-3 * time.Hour)
	cache := &fakeCache{stats: models.CacheStats{
		Total:      42,
		ByCategory: map[string]int64{"javascript:react": 40, "chat:review": 2},
		Oldest:     &oldest,
		Newest:     &now,
		Hits:       10,
		Misses:     5,
	}}
	srv := New(&fakeTracker{}, cache, "test")

	text := callTool(t, srv, "semcache_cache_stats", "").Content[0].Text
	for _, want := range []string{"42", "66.7%", "javascript:react", "chat:review", "3 hours ago"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got: %s", want, text)
		}
	}
}

func TestToolCallCacheNotConfigured(t *testing.T) {
	srv := New(&fakeTracker{}, nil, "test")

	result := callTool(t, srv, "semcache_cache_stats", "")
	if !strings.Contains(result.Content[0].Text, "not configured") {
		t.Errorf("expected 'not configured', got: %s", result.Content[0].Text)
	}
}

func TestToolCallRequestStats(t *testing.T) {
	tr := &fakeTracker{
		summaries: []models.RequestSummary{
			{Category: "python:django", RequestCount: 4, Hits: 3, Misses: 1, AvgLatencyMs: 120, TotalTokens: 90},
		},
	}
	srv := New(tr, nil, "test")

	text := callTool(t, srv, "semcache_request_stats", `{"since":"2026-01-02"}`).Content[0].Text
	if !strings.Contains(text, "python:django") || !strings.Contains(text, "75.0%") {
		t.Errorf("unexpected request stats output: %s", text)
	}
	want := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	if !tr.since.Equal(want) {
		t.Errorf("since = %v, want %v", tr.since, want)
	}
}

func TestToolCallRequestStatsBadDate(t *testing.T) {
	srv := New(&fakeTracker{}, nil, "test")

	result := callTool(t, srv, "semcache_request_stats", `{"since":"yesterday"}`)
	if !result.IsError {
		t.Error("expected isError=true for malformed date")
	}
}

func TestToolCallRecentRequests(t *testing.T) {
	tr := &fakeTracker{
		records: []models.RequestRecord{
			{Kind: "completion", Category: "go:none", Outcome: models.OutcomeHit, Provider: "cache", LatencyMs: 4, CreatedAt: time.Now()},
		},
	}
	srv := New(tr, nil, "test")

	text := callTool(t, srv, "semcache_recent_requests", `{"limit":1000}`).Content[0].Text
	if !strings.Contains(text, "go:none") {
		t.Errorf("expected go:none in output, got: %s", text)
	}
	if tr.limit != 20 {
		t.Errorf("limit = %d, want clamp to 20", tr.limit)
	}
}

func TestToolCallUnknownTool(t *testing.T) {
	srv := New(&fakeTracker{}, nil, "test")

	result := callTool(t, srv, "semcache_budget", "")
	if !result.IsError {
		t.Error("expected isError=true for unknown tool")
	}
}

func TestNotificationNoResponse(t *testing.T) {
	srv := New(&fakeTracker{}, nil, "test")

	line, _ := json.Marshal(Request{
		JSONRPC: "2.0",
		Method:  "notifications/initialized",
	})
	line = append(line, '\n')

	var out bytes.Buffer
	_ = srv.Run(context.Background(), bytes.NewReader(line), &out)

	if out.Len() != 0 {
		t.Errorf("expected no output for notification, got: %s", out.String())
	}
}

func TestParseError(t *testing.T) {
	srv := New(&fakeTracker{}, nil, "test")

	var out bytes.Buffer
	_ = srv.Run(context.Background(), strings.NewReader("{not json\n"), &out)

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Fatalf("expected parse error, got %+v", resp.Error)
	}
}

func TestUnknownMethod(t *testing.T) {
	srv := New(&fakeTracker{}, nil, "test")
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`9`),
		Method:  "unknown/method",
	})

	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}
