package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
)

const (
	ProviderMemory   = "memory"
	ProviderPGVector = "pgvector"

	// DefaultK is the number of matches returned when a caller asks for none.
	DefaultK = 5
)

var (
	ErrDuplicateID       = errors.New("duplicate entry id")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrInvalidEntry      = errors.New("invalid entry")
)

type Config struct {
	Provider string
	PGVector VectorStoreConfig
}

// New opens the index named by cfg.Provider.
func New(ctx context.Context, cfg Config) (types.Index, error) {
	switch cfg.Provider {
	case "", ProviderMemory:
		return NewMemoryIndex(), nil
	case ProviderPGVector:
		return NewWithConfig(ctx, cfg.PGVector)
	default:
		return nil, fmt.Errorf("unknown index provider %q", cfg.Provider)
	}
}

// checkBatch rejects empty ids, empty vectors, ids repeated inside the batch
// and vectors whose length differs from dim. A dim of zero adopts the length
// of the first vector. The resulting dimension is returned.
func checkBatch(entries []models.Entry, dim int) (int, error) {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			return dim, fmt.Errorf("%w: empty id", ErrInvalidEntry)
		}
		if len(e.Embedding) == 0 {
			return dim, fmt.Errorf("%w: %s has no embedding", ErrInvalidEntry, e.ID)
		}
		if _, ok := seen[e.ID]; ok {
			return dim, fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
		}
		seen[e.ID] = struct{}{}

		if dim == 0 {
			dim = len(e.Embedding)
		}
		if len(e.Embedding) != dim {
			return dim, fmt.Errorf("%w: %s has %d dimensions, want %d",
				ErrDimensionMismatch, e.ID, len(e.Embedding), dim)
		}
	}
	return dim, nil
}

func normalizeK(k int) int {
	if k <= 0 {
		return DefaultK
	}
	return k
}
