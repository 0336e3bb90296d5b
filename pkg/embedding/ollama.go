package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pario-ai/semcache/pkg/logging"
)

// Ollama embeds text through an Ollama server's /api/embeddings endpoint.
type Ollama struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

// NewOllama creates an Ollama model. dims is the vector length the model is
// expected to produce.
func NewOllama(baseURL, model string, dims int, timeout time.Duration) *Ollama {
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: timeout},
	}
}

// Dimensions implements Model.
func (o *Ollama) Dimensions() int { return o.dims }

// Name implements Model.
func (o *Ollama) Name() string { return "ollama/" + o.model }

type embeddingsRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingsResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed implements Model.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp embeddingsResponse
	if err := o.post(ctx, "/api/embeddings", embeddingsRequest{Model: o.model, Prompt: text}, &resp); err != nil {
		return nil, err
	}
	v := make([]float32, len(resp.Embedding))
	for i, x := range resp.Embedding {
		v[i] = float32(x)
	}
	return v, nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type pullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

// OllamaLoader returns a Loader that makes sure the model is present on the
// server, pulling it when missing, and checks the vector length it produces.
func OllamaLoader(o *Ollama) Loader {
	return func(ctx context.Context) (Model, error) {
		present, err := o.hasModel(ctx)
		if err != nil {
			return nil, err
		}
		if !present {
			logging.From(ctx).Info("pulling embedding model", slog.String("model", o.model))
			// Pulls can be slow; the client timeout is for inference calls.
			pull := &Ollama{baseURL: o.baseURL, model: o.model, dims: o.dims, client: &http.Client{}}
			if err := pull.post(ctx, "/api/pull", pullRequest{Name: o.model}, nil); err != nil {
				return nil, goerr.Wrap(err, "pull embedding model", goerr.V("model", o.model))
			}
		}

		probe, err := o.Embed(ctx, "probe")
		if err != nil {
			return nil, goerr.Wrap(err, "probe embedding model", goerr.V("model", o.model))
		}
		if len(probe) != o.dims {
			return nil, goerr.New("embedding model dimension mismatch",
				goerr.V("model", o.model), goerr.V("want", o.dims), goerr.V("got", len(probe)))
		}
		return o, nil
	}
}

func (o *Ollama) hasModel(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return false, goerr.Wrap(err, "create tags request")
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false, goerr.Wrap(err, "list ollama models", goerr.V("url", o.baseURL))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, goerr.New("list ollama models failed", goerr.V("status", resp.StatusCode))
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false, goerr.Wrap(err, "decode ollama tags")
	}
	for _, m := range tags.Models {
		if m.Name == o.model || strings.HasPrefix(m.Name, o.model+":") {
			return true, nil
		}
	}
	return false, nil
}

func (o *Ollama) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return goerr.Wrap(err, "marshal request", goerr.V("path", path))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return goerr.Wrap(err, "create request", goerr.V("path", path))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return goerr.Wrap(err, "ollama request", goerr.V("path", path))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return goerr.New(fmt.Sprintf("ollama returned %d", resp.StatusCode),
			goerr.V("path", path), goerr.V("body", string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerr.Wrap(err, "decode response", goerr.V("path", path))
	}
	return nil
}
