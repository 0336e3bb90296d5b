package models

// StreamEvent is a single server-sent event emitted to the editor.
// Exactly one event per response carries Done.
type StreamEvent struct {
	Chunk        string `json:"chunk,omitempty"`
	Done         bool   `json:"done,omitempty"`
	Cached       *bool  `json:"cached,omitempty"`
	ResponseTime *int64 `json:"responseTime,omitempty"`
	Tokens       *int   `json:"tokens,omitempty"`
	Error        string `json:"error,omitempty"`
}
