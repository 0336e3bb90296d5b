package mcp

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/pario-ai/semcache/pkg/models"
)

// formatCacheStats renders cache stats as text. Entry ages are shown
// relative to now.
func formatCacheStats(stats models.CacheStats, now time.Time) string {
	var b strings.Builder
	b.WriteString("Cache Statistics\n")
	fmt.Fprintf(&b, "  Entries:  %s\n", humanize.Comma(stats.Total))

	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	fmt.Fprintf(&b, "  Hits:     %s\n", humanize.Comma(stats.Hits))
	fmt.Fprintf(&b, "  Misses:   %s\n", humanize.Comma(stats.Misses))
	fmt.Fprintf(&b, "  Hit Rate: %.1f%%\n", hitRate)

	if stats.Oldest != nil && stats.Newest != nil {
		fmt.Fprintf(&b, "  Oldest:   %s\n", humanize.RelTime(*stats.Oldest, now, "ago", "from now"))
		fmt.Fprintf(&b, "  Newest:   %s\n", humanize.RelTime(*stats.Newest, now, "ago", "from now"))
	}

	if len(stats.ByCategory) > 0 {
		cats := make([]string, 0, len(stats.ByCategory))
		for c := range stats.ByCategory {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		b.WriteString("\n")
		fmt.Fprintf(&b, "%-30s %10s\n", "Category", "Entries")
		b.WriteString(strings.Repeat("-", 41) + "\n")
		for _, c := range cats {
			fmt.Fprintf(&b, "%-30s %10d\n", c, stats.ByCategory[c])
		}
	}
	return b.String()
}

// formatRequestSummary renders per-category request summaries as a table.
func formatRequestSummary(rows []models.RequestSummary) string {
	if len(rows) == 0 {
		return "No requests found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-25s %8s %8s %8s %8s %8s %10s %10s\n",
		"Category", "Requests", "Hits", "Misses", "Errors", "Hit%", "Avg ms", "Tokens")
	b.WriteString(strings.Repeat("-", 92) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-25s %8d %8d %8d %8d %7.1f%% %10.0f %10d\n",
			r.Category, r.RequestCount, r.Hits, r.Misses, r.Errors, r.HitRate()*100, r.AvgLatencyMs, r.TotalTokens)
	}
	return b.String()
}

// formatRecords renders request records as a table.
func formatRecords(records []models.RequestRecord) string {
	if len(records) == 0 {
		return "No requests found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-12s %-25s %-10s %-12s %8s %8s\n",
		"Time", "Kind", "Category", "Outcome", "Provider", "ms", "Tokens")
	b.WriteString(strings.Repeat("-", 101) + "\n")
	for _, r := range records {
		fmt.Fprintf(&b, "%-20s %-12s %-25s %-10s %-12s %8d %8d\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"),
			r.Kind, r.Category, r.Outcome, r.Provider, r.LatencyMs, r.Tokens)
	}
	return b.String()
}
