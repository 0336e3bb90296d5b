package mcp

import (
	"context"
	"encoding/json"
	"time"
)

type requestStatsArgs struct {
	Since string `json:"since"`
}

type recentArgs struct {
	Limit int `json:"limit"`
}

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"semcache_cache_stats":     handleCacheStats,
	"semcache_request_stats":   handleRequestStats,
	"semcache_recent_requests": handleRecentRequests,
}

var allTools = []ToolDefinition{
	{
		Name:        "semcache_cache_stats",
		Description: "Show semantic cache contents: entry count per language/framework or chat mode, entry ages, and hit/miss counters.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "semcache_request_stats",
		Description: "Show gateway requests per category with hit rate, errors, cancellations, latency and tokens.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"since": map[string]any{
					"type":        "string",
					"description": "Start date in YYYY-MM-DD format (optional, defaults to the last 24 hours)",
				},
			},
		},
	},
	{
		Name:        "semcache_recent_requests",
		Description: "List the most recent gateway requests.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of requests to return (default 20)",
				},
			},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Cache is not configured.")
	}
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats, time.Now()))
}

func handleRequestStats(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.tracker == nil {
		return textResult("Request tracking is not configured.")
	}
	var args requestStatsArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		since = t
	}

	rows, err := s.tracker.Summary(ctx, since)
	if err != nil {
		return errorResult("Error fetching request stats: " + err.Error())
	}
	return textResult(formatRequestSummary(rows))
}

func handleRecentRequests(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.tracker == nil {
		return textResult("Request tracking is not configured.")
	}
	args := recentArgs{Limit: 20}
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.Limit <= 0 || args.Limit > 500 {
		args.Limit = 20
	}

	records, err := s.tracker.Recent(ctx, args.Limit)
	if err != nil {
		return errorResult("Error fetching requests: " + err.Error())
	}
	return textResult(formatRecords(records))
}
