// Package embedding maps context text to fixed-length, L2-normalized vectors.
//
// A Service owns one lazily loaded Model. The first callers block until the
// model is ready and share a single load; later calls go straight to the
// loaded model. Embedding never fails from the caller's point of view: any
// problem yields the zero vector, which matches nothing and therefore
// degrades to a cache miss.
package embedding

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pario-ai/semcache/pkg/logging"
	"golang.org/x/sync/singleflight"
)

// Model produces raw embeddings for text.
type Model interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Name() string
}

// Loader prepares a Model. It is called at most once per successful load.
type Loader func(ctx context.Context) (Model, error)

type loadedModel struct {
	model Model
}

// Service is the embedding entry point used by the semantic cache.
type Service struct {
	load   Loader
	dims   int
	group  singleflight.Group
	loaded atomic.Pointer[loadedModel]
	loads  atomic.Int64
}

// NewService creates a Service producing vectors of length dims.
func NewService(load Loader, dims int) *Service {
	return &Service{load: load, dims: dims}
}

// Dimensions returns the vector length produced by Embed.
func (s *Service) Dimensions() int {
	return s.dims
}

// Loads reports how many times the model has been loaded successfully.
func (s *Service) Loads() int64 {
	return s.loads.Load()
}

// Model returns the loaded model, loading it on first use.
func (s *Service) Model(ctx context.Context) (Model, error) {
	if l := s.loaded.Load(); l != nil {
		return l.model, nil
	}

	v, err, _ := s.group.Do("load", func() (any, error) {
		if l := s.loaded.Load(); l != nil {
			return l.model, nil
		}
		// One caller giving up must not fail the load for everyone waiting.
		m, err := s.load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, goerr.Wrap(err, "load embedding model")
		}
		if m.Dimensions() != s.dims {
			return nil, goerr.New("embedding model dimension mismatch",
				goerr.V("model", m.Name()), goerr.V("want", s.dims), goerr.V("got", m.Dimensions()))
		}
		s.loaded.Store(&loadedModel{model: m})
		s.loads.Add(1)
		logging.From(ctx).Info("embedding model loaded",
			slog.String("model", m.Name()), slog.Int("dimensions", m.Dimensions()))
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Model), nil
}

// Embed returns the normalized embedding of text, or the zero vector when
// the model is unavailable or misbehaves.
func (s *Service) Embed(ctx context.Context, text string) []float32 {
	logger := logging.From(ctx)

	m, err := s.Model(ctx)
	if err != nil {
		logger.Warn("embedding model unavailable", logging.ErrorAttr(err))
		return Zero(s.dims)
	}

	v, err := m.Embed(ctx, text)
	if err != nil {
		logger.Warn("embedding failed", slog.String("model", m.Name()), logging.ErrorAttr(err))
		return Zero(s.dims)
	}
	if len(v) != s.dims {
		logger.Warn("embedding has wrong dimension",
			slog.String("model", m.Name()), slog.Int("want", s.dims), slog.Int("got", len(v)))
		return Zero(s.dims)
	}
	return Normalize(v)
}

// Zero returns the "no signal" sentinel of length dims.
func Zero(dims int) []float32 {
	return make([]float32, dims)
}

// IsZero reports whether v carries no signal.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// Normalize scales v to unit length in place and returns it. Zero vectors
// are returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
