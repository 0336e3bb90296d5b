package embedding

import (
	"context"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Hashing is a local, deterministic embedding model based on signed feature
// hashing. Word tokens capture vocabulary; whitespace-free character
// trigrams capture code shape, so formatting changes barely move the vector.
type Hashing struct {
	dims int
}

// NewHashing returns a Hashing model with the given dimensionality.
func NewHashing(dims int) *Hashing {
	return &Hashing{dims: dims}
}

// HashingLoader returns a Loader for a Hashing model.
func HashingLoader(dims int) Loader {
	return func(context.Context) (Model, error) {
		return NewHashing(dims), nil
	}
}

// Dimensions implements Model.
func (h *Hashing) Dimensions() int { return h.dims }

// Name implements Model.
func (h *Hashing) Name() string { return "hashing" }

const (
	tokenWeight   = 1.0
	trigramWeight = 0.5
)

// Embed implements Model.
func (h *Hashing) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, h.dims)
	lower := strings.ToLower(text)

	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, tok := range tokens {
		h.add(v, "w:"+tok, tokenWeight)
	}

	compact := []rune(strings.Join(strings.Fields(lower), ""))
	for i := 0; i+3 <= len(compact); i++ {
		h.add(v, "g:"+string(compact[i:i+3]), trigramWeight)
	}

	return Normalize(v), nil
}

func (h *Hashing) add(v []float32, feature string, weight float32) {
	sum := xxhash.Sum64String(feature)
	idx := sum % uint64(len(v))
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}
