package models

import "encoding/json"

// CodeRequest is an inbound code-completion request from the editor.
type CodeRequest struct {
	FileContent    *string `json:"fileContent"`
	CursorLine     *int    `json:"cursorLine"`
	CursorColumn   *int    `json:"cursorColumn"`
	SuggestionType string  `json:"suggestionType"`
	FileName       string  `json:"fileName,omitempty"`
}

// ChatTurn is a single prior message in a conversation.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is an inbound chat request from the editor.
type ChatRequest struct {
	Message string     `json:"message"`
	History []ChatTurn `json:"history,omitempty"`
	Mode    string     `json:"mode,omitempty"`
}

// ChatMessage represents a single message in an OpenAI-compatible conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is an OpenAI-compatible chat completion request.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// ChatCompletionChunk is an OpenAI streaming chunk.
type ChatCompletionChunk struct {
	ID      string          `json:"id"`
	Model   string          `json:"model"`
	Choices []ChunkChoice   `json:"choices"`
	Usage   *Usage          `json:"usage,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// ChunkChoice is a choice within a streaming chunk.
type ChunkChoice struct {
	Index        int         `json:"index"`
	Delta        ChatMessage `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// Usage represents token usage reported by an OpenAI-compatible backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OllamaGenerateRequest maps to POST /api/generate.
type OllamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

// OllamaChatRequest maps to POST /api/chat.
type OllamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// OllamaChunk is one NDJSON line from /api/generate or /api/chat.
// Generate streams carry Response, chat streams carry Message.
type OllamaChunk struct {
	Model     string          `json:"model"`
	Response  string          `json:"response,omitempty"`
	Message   *ChatMessage    `json:"message,omitempty"`
	Done      bool            `json:"done"`
	EvalCount int             `json:"eval_count,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
}
