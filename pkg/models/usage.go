package models

import "time"

// Outcome classifies how a gateway request finished.
type Outcome string

const (
	OutcomeHit       Outcome = "hit"
	OutcomeMiss      Outcome = "miss"
	OutcomeError     Outcome = "error"
	OutcomeCancelled Outcome = "cancelled"
)

// RequestRecord tracks a single gateway request.
type RequestRecord struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Category  string    `json:"category"`
	Outcome   Outcome   `json:"outcome"`
	Provider  string    `json:"provider,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	Tokens    int       `json:"tokens"`
	CreatedAt time.Time `json:"created_at"`
}

// RequestSummary aggregates request records per category.
type RequestSummary struct {
	Category     string  `json:"category"`
	RequestCount int     `json:"request_count"`
	Hits         int     `json:"hits"`
	Misses       int     `json:"misses"`
	Errors       int     `json:"errors"`
	Cancelled    int     `json:"cancelled"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	TotalTokens  int     `json:"total_tokens"`
}

// HitRate returns the share of hits among requests that reached a cache decision.
func (s RequestSummary) HitRate() float64 {
	decided := s.Hits + s.Misses
	if decided == 0 {
		return 0
	}
	return float64(s.Hits) / float64(decided)
}
