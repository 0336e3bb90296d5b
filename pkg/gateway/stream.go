package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/pario-ai/semcache/pkg/ctxbuild"
	"github.com/pario-ai/semcache/pkg/generation"
	"github.com/pario-ai/semcache/pkg/logging"
	"github.com/pario-ai/semcache/pkg/models"
)

var (
	errIncomplete   = goerr.New("generation stream ended before completion")
	errUpstream     = goerr.New("generation backend reported an error")
	errNoFlush      = goerr.New("response writer does not support flushing")
	errStreamClosed = goerr.New("event stream already finished")
)

// transcript is the accumulated result of a relay. Values are never
// modified; with returns the next state.
type transcript struct {
	text     string
	chunks   int
	reported int
}

func (t transcript) with(d generation.Delta) transcript {
	next := t
	if d.Text != "" {
		next.text += d.Text
		next.chunks++
	}
	if d.Tokens > 0 {
		next.reported = d.Tokens
	}
	return next
}

// tokens prefers the backend's own count and falls back to the number of
// non-empty chunks.
func (t transcript) tokens() int {
	if t.reported > 0 {
		return t.reported
	}
	return t.chunks
}

// eventWriter writes "data: <json>\n\n" events and refuses to write after
// the terminal event.
type eventWriter struct {
	w        http.ResponseWriter
	f        http.Flusher
	finished bool
}

func newEventWriter(w http.ResponseWriter) (*eventWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, errNoFlush
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &eventWriter{w: w, f: f}, nil
}

func (e *eventWriter) send(ev models.StreamEvent) error {
	if e.finished {
		return errStreamClosed
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return goerr.Wrap(err, "marshal event")
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		return goerr.Wrap(err, "write event")
	}
	e.f.Flush()
	if ev.Done {
		e.finished = true
	}
	return nil
}

func (e *eventWriter) fail(message string) error {
	return e.send(models.StreamEvent{Error: message, Done: true})
}

func ptr[T any](v T) *T { return &v }

// serve runs one request through lookup, generation and commit.
func (s *Server) serve(w http.ResponseWriter, r *http.Request, c ctxbuild.Context, kinds []string, build func(model string) generation.Request) {
	ctx := r.Context()
	logger := logging.From(ctx)
	start := s.now()

	rec := models.RequestRecord{Kind: c.Kind(), Category: c.Category().String()}
	defer func() { s.track(ctx, rec, start) }()

	sse, err := newEventWriter(w)
	if err != nil {
		logger.Error("cannot stream response", logging.ErrorAttr(err))
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		rec.Outcome = models.OutcomeError
		return
	}

	if s.cfg.Cache.Enabled {
		if suggestion, ok := s.cache.Lookup(ctx, c); ok {
			rec.Outcome = models.OutcomeHit
			if err := sse.send(models.StreamEvent{Chunk: suggestion}); err != nil {
				rec.Outcome = models.OutcomeCancelled
				return
			}
			_ = sse.send(models.StreamEvent{
				Done:         true,
				Cached:       ptr(true),
				ResponseTime: ptr(s.since(start)),
			})
			return
		}
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.Generation.Timeout)
	defer cancel()

	stream, provider, err := s.open(genCtx, kinds, build)
	if err != nil {
		if ctx.Err() != nil {
			rec.Outcome = models.OutcomeCancelled
			return
		}
		logger.Warn("generation unavailable", logging.ErrorAttr(err))
		rec.Outcome = models.OutcomeError
		_ = sse.fail(clientMessage(genCtx, err))
		return
	}
	defer func() { _ = stream.Close() }()
	rec.Provider = provider

	tr, err := s.relay(genCtx, stream, sse)
	rec.Tokens = tr.tokens()
	if ctx.Err() != nil {
		logger.Debug("client went away, dropping generation", slog.Int("chunks", tr.chunks))
		rec.Outcome = models.OutcomeCancelled
		return
	}
	if err != nil {
		logger.Warn("generation failed", slog.String("provider", provider), logging.ErrorAttr(err))
		rec.Outcome = models.OutcomeError
		_ = sse.fail(clientMessage(genCtx, err))
		return
	}

	if s.cfg.Cache.Enabled && tr.text != "" {
		if err := s.cache.Store(ctx, c, tr.text); err != nil {
			logger.Warn("cache commit failed", logging.ErrorAttr(err))
		}
	}

	rec.Outcome = models.OutcomeMiss
	_ = sse.send(models.StreamEvent{
		Done:         true,
		Cached:       ptr(false),
		ResponseTime: ptr(s.since(start)),
		Tokens:       ptr(tr.tokens()),
	})
}

// open tries each route in order until one backend accepts the request.
func (s *Server) open(ctx context.Context, kinds []string, build func(model string) generation.Request) (*generation.Stream, string, error) {
	routes, err := s.router.Resolve(kinds...)
	if err != nil {
		return nil, "", err
	}

	logger := logging.From(ctx)
	var lastErr error
	for _, route := range routes {
		client, ok := s.clients[route.Provider.Name]
		if !ok {
			continue
		}
		stream, err := client.Open(ctx, build(route.Model))
		if err == nil {
			return stream, route.Provider.Name, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		logger.Warn("provider failed, trying next",
			slog.String("provider", route.Provider.Name),
			slog.String("model", route.Model),
			logging.ErrorAttr(err),
		)
	}
	if lastErr == nil {
		lastErr = goerr.New("no usable provider")
	}
	return nil, "", goerr.Wrap(lastErr, "all upstream providers failed")
}

// relay folds the upstream frames into a transcript, forwarding each piece
// of text to the client as it arrives. Frames that fail to decode are
// skipped.
func (s *Server) relay(ctx context.Context, stream *generation.Stream, sse *eventWriter) (transcript, error) {
	logger := logging.From(ctx)
	var acc transcript

	for {
		select {
		case <-ctx.Done():
			return acc, ctx.Err()
		case raw, ok := <-stream.Frames():
			if !ok {
				if err := <-stream.Err(); err != nil {
					return acc, err
				}
				if ctx.Err() != nil {
					return acc, ctx.Err()
				}
				return acc, errIncomplete
			}

			d, err := generation.Decode(stream.Format(), raw)
			if err != nil {
				logger.Warn("skip malformed frame", slog.String("frame", truncate(string(raw), 200)), logging.ErrorAttr(err))
				continue
			}
			if d.Err != "" {
				return acc, goerr.Wrap(errUpstream, d.Err)
			}
			if d.Text != "" {
				if err := sse.send(models.StreamEvent{Chunk: d.Text}); err != nil {
					return acc, err
				}
			}
			acc = acc.with(d)
			if d.Done {
				return acc, nil
			}
		}
	}
}

// clientMessage is the error text sent to the editor.
func clientMessage(genCtx context.Context, err error) string {
	switch {
	case errors.Is(genCtx.Err(), context.DeadlineExceeded):
		return "generation timed out"
	case errors.Is(err, errUpstream):
		return err.Error()
	case errors.Is(err, errIncomplete):
		return errIncomplete.Error()
	default:
		return "generation backend unavailable"
	}
}

func (s *Server) since(start time.Time) int64 {
	return s.now().Sub(start).Milliseconds()
}

func (s *Server) track(ctx context.Context, rec models.RequestRecord, start time.Time) {
	if s.tracker == nil {
		return
	}
	rec.LatencyMs = s.since(start)
	rec.CreatedAt = start.UTC()
	if err := s.tracker.Record(context.WithoutCancel(ctx), rec); err != nil {
		logging.From(ctx).Warn("track request failed", logging.ErrorAttr(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
