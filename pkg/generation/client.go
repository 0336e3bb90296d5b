// Package generation streams completions from a generation backend. Two
// wire formats are supported: Ollama's NDJSON streams and OpenAI-compatible
// server-sent events.
package generation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/pario-ai/semcache/pkg/config"
	"github.com/pario-ai/semcache/pkg/models"
)

// Format identifies a backend wire format.
type Format string

const (
	FormatOllama Format = "ollama"
	FormatOpenAI Format = "openai"
)

const maxFrameSize = 1 << 20

// Request is a provider-neutral generation request. Completions set Prompt;
// chats set Messages.
type Request struct {
	Model    string
	System   string
	Prompt   string
	Messages []models.ChatMessage
}

// IsChat reports whether the request carries a conversation.
func (r Request) IsChat() bool {
	return len(r.Messages) > 0
}

// Client talks to a single provider.
type Client struct {
	name    string
	baseURL string
	apiKey  string
	format  Format
	http    *http.Client
}

// NewClient creates a Client for provider p. Streaming calls are bounded by
// their context, not by a client timeout.
func NewClient(p config.ProviderConfig) *Client {
	format := Format(p.Type)
	if format == "" {
		format = FormatOllama
	}
	return &Client{
		name:    p.Name,
		baseURL: strings.TrimRight(p.URL, "/"),
		apiKey:  p.APIKey,
		format:  format,
		http:    &http.Client{},
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

// Format returns the provider wire format.
func (c *Client) Format() Format { return c.format }

// Stream is an open upstream response. Frames yields raw payloads in
// arrival order and is closed when the body ends or ctx is cancelled. Err
// yields at most one transport error after Frames is closed.
type Stream struct {
	format Format
	frames <-chan []byte
	errs   <-chan error
	body   io.Closer
}

// Format returns the wire format the frames are encoded in.
func (s *Stream) Format() Format { return s.format }

// Frames returns the frame channel.
func (s *Stream) Frames() <-chan []byte { return s.frames }

// Err returns the error channel.
func (s *Stream) Err() <-chan error { return s.errs }

// Close releases the upstream connection.
func (s *Stream) Close() error { return s.body.Close() }

// Open sends req and returns once the backend has accepted it. A non-200
// status is an error, so callers can fall back to another provider before
// anything reaches the client.
func (c *Client) Open(ctx context.Context, req Request) (*Stream, error) {
	path, body, err := c.encode(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "create generation request", goerr.V("provider", c.name))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, goerr.Wrap(err, "generation request", goerr.V("provider", c.name), goerr.V("path", path))
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, goerr.New("generation backend rejected request",
			goerr.V("provider", c.name), goerr.V("status", resp.StatusCode), goerr.V("body", string(msg)))
	}

	frames := make(chan []byte)
	errs := make(chan error, 1)
	go c.scan(ctx, resp.Body, frames, errs)

	return &Stream{format: c.format, frames: frames, errs: errs, body: resp.Body}, nil
}

func (c *Client) scan(ctx context.Context, body io.Reader, frames chan<- []byte, errs chan<- error) {
	defer close(errs)
	defer close(frames)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	for scanner.Scan() {
		frame, ok := c.payload(scanner.Bytes())
		if !ok {
			continue
		}
		select {
		case frames <- frame:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		errs <- goerr.Wrap(err, "read generation stream", goerr.V("provider", c.name))
	}
}

// payload extracts the frame carried by one line of the body.
func (c *Client) payload(line []byte) ([]byte, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false
	}
	if c.format == FormatOpenAI {
		data, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			return nil, false
		}
		line = bytes.TrimSpace(data)
	}
	return append([]byte(nil), line...), true
}

func (c *Client) encode(req Request) (string, []byte, error) {
	var (
		path    string
		payload any
	)
	switch c.format {
	case FormatOpenAI:
		path = "/v1/chat/completions"
		payload = models.ChatCompletionRequest{
			Model:    req.Model,
			Messages: conversation(req),
			Stream:   true,
		}
	case FormatOllama:
		if req.IsChat() {
			path = "/api/chat"
			payload = models.OllamaChatRequest{Model: req.Model, Messages: conversation(req), Stream: true}
		} else {
			path = "/api/generate"
			payload = models.OllamaGenerateRequest{Model: req.Model, Prompt: req.Prompt, System: req.System, Stream: true}
		}
	default:
		return "", nil, goerr.New("unsupported provider format", goerr.V("provider", c.name), goerr.V("format", c.format))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", nil, goerr.Wrap(err, "marshal generation request")
	}
	return path, body, nil
}

// conversation renders req as a message list with the system prompt first.
func conversation(req Request) []models.ChatMessage {
	msgs := make([]models.ChatMessage, 0, len(req.Messages)+2)
	if req.System != "" {
		msgs = append(msgs, models.ChatMessage{Role: "system", Content: req.System})
	}
	if req.IsChat() {
		return append(msgs, req.Messages...)
	}
	return append(msgs, models.ChatMessage{Role: "user", Content: req.Prompt})
}
