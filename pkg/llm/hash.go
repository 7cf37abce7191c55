package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

// HashEmbedder is a deterministic, offline embedder. Each lower-cased word
// is hashed into one of a fixed number of buckets and the resulting counts
// are L2 normalized, so texts sharing words end up close together.
type HashEmbedder struct {
	dims int

	mu    sync.Mutex
	calls map[Intent]int
	err   error
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims, calls: make(map[Intent]int)}
}

// FailWith makes every later call fail with err wrapped in ErrEmbedding. A nil err restores normal
// behaviour.
func (h *HashEmbedder) FailWith(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

// Calls reports how many requests were made with the given intent.
func (h *HashEmbedder) Calls(intent Intent) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[intent]
}

func (h *HashEmbedder) record(intent Intent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls[intent]++
	if h.err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrEmbedding, ProviderHash, intent, h.err)
	}
	return nil
}

func (h *HashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if err := h.record(IntentDocument); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if err := h.record(IntentQuery); err != nil {
		return nil, err
	}
	return h.vector(text), nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, h.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		f := fnv.New32a()
		f.Write([]byte(w))
		v[f.Sum32()%uint32(h.dims)]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		// Texts without words all map to the same unit vector.
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}
