package store

import (
	"context"
	"fmt"
	"maps"
	"math"
	"sort"
	"sync"

	"github.com/xhad/docqa/internal/models"
)

type memoryEntry struct {
	entry models.Entry
	norm  float64
}

// MemoryIndex keeps entries in process memory and ranks them by cosine
// similarity. Writers are serialized; readers run concurrently.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries []memoryEntry
	ids     map[string]struct{}
	dim     int
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{ids: make(map[string]struct{})}
}

// Add stores all entries or none of them.
func (m *MemoryIndex) Add(_ context.Context, entries []models.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dim, err := checkBatch(entries, m.dim)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, ok := m.ids[e.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
		}
	}

	for _, e := range entries {
		stored := models.Entry{
			ID:        e.ID,
			Embedding: append([]float32(nil), e.Embedding...),
			Text:      e.Text,
			Metadata:  maps.Clone(e.Metadata),
		}
		m.entries = append(m.entries, memoryEntry{entry: stored, norm: norm(stored.Embedding)})
		m.ids[e.ID] = struct{}{}
	}
	m.dim = dim
	return nil
}

// Query returns the k entries most similar to vector, nearest first. Equal
// scores keep insertion order.
func (m *MemoryIndex) Query(_ context.Context, vector []float32, k int) ([]models.Match, error) {
	k = normalizeK(k)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return []models.Match{}, nil
	}
	if len(vector) != m.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, want %d", ErrDimensionMismatch, len(vector), m.dim)
	}

	qn := norm(vector)
	matches := make([]models.Match, len(m.entries))
	for i, me := range m.entries {
		matches[i] = models.Match{
			ID:       me.entry.ID,
			Text:     me.entry.Text,
			Score:    cosine(vector, qn, me.entry.Embedding, me.norm),
			Metadata: maps.Clone(me.entry.Metadata),
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

func (m *MemoryIndex) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = nil
	m.ids = make(map[string]struct{})
	m.dim = 0
	return nil
}

func (m *MemoryIndex) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *MemoryIndex) Close() {}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (an * bn)
}
