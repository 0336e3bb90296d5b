package generation

import (
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/pario-ai/semcache/pkg/models"
)

const doneMarker = "[DONE]"

// Delta is the decoded content of one frame.
type Delta struct {
	Text string
	Done bool
	// Tokens is the generated token count when the backend reports it.
	Tokens int
	// Err is an error the backend reported inside the stream.
	Err string
}

// Decode parses a single frame. A frame that cannot be parsed yields an
// error and should be skipped by the caller.
func Decode(format Format, raw []byte) (Delta, error) {
	switch format {
	case FormatOllama:
		return decodeOllama(raw)
	case FormatOpenAI:
		return decodeOpenAI(raw)
	}
	return Delta{}, goerr.New("unsupported frame format", goerr.V("format", format))
}

func decodeOllama(raw []byte) (Delta, error) {
	var chunk models.OllamaChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return Delta{}, goerr.Wrap(err, "decode ollama frame")
	}
	if msg := errorText(chunk.Error); msg != "" {
		return Delta{Err: msg}, nil
	}

	d := Delta{Text: chunk.Response, Done: chunk.Done, Tokens: chunk.EvalCount}
	if chunk.Message != nil {
		d.Text += chunk.Message.Content
	}
	return d, nil
}

func decodeOpenAI(raw []byte) (Delta, error) {
	if string(raw) == doneMarker {
		return Delta{Done: true}, nil
	}

	var chunk models.ChatCompletionChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return Delta{}, goerr.Wrap(err, "decode openai frame")
	}
	if msg := errorText(chunk.Error); msg != "" {
		return Delta{Err: msg}, nil
	}

	var b strings.Builder
	for _, c := range chunk.Choices {
		b.WriteString(c.Delta.Content)
	}
	d := Delta{Text: b.String()}
	if chunk.Usage != nil {
		d.Tokens = chunk.Usage.CompletionTokens
	}
	return d, nil
}

// errorText flattens the error shapes backends use: a plain string or an
// object with a message field.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}
