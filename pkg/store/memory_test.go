package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/store"
)

func entry(id, text string, v ...float32) models.Entry {
	return models.Entry{ID: id, Text: text, Embedding: v, Metadata: map[string]any{"source": "test.pdf"}}
}

func TestMemoryIndex_Query(t *testing.T) {
	ctx := context.Background()

	t.Run("Should return an empty result for an empty index", func(t *testing.T) {
		idx := store.NewMemoryIndex()
		got, err := idx.Query(ctx, []float32{1, 0}, 3)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("Should return the stored text for an identical vector", func(t *testing.T) {
		idx := store.NewMemoryIndex()
		require.NoError(t, idx.Add(ctx, []models.Entry{entry("id1", "a", 0.2, 0.9)}))

		got, err := idx.Query(ctx, []float32{0.2, 0.9}, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, models.Texts(got))
		assert.InDelta(t, 1.0, got[0].Score, 1e-6)
		assert.Equal(t, "test.pdf", got[0].Metadata["source"])
	})

	t.Run("Should rank nearest first and cap at k", func(t *testing.T) {
		idx := store.NewMemoryIndex()
		require.NoError(t, idx.Add(ctx, []models.Entry{
			entry("far", "far", 0, 1),
			entry("near", "near", 1, 0.1),
			entry("mid", "mid", 1, 1),
		}))

		got, err := idx.Query(ctx, []float32{1, 0}, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"near", "mid"}, models.Texts(got))
	})

	t.Run("Should keep insertion order for equal scores", func(t *testing.T) {
		idx := store.NewMemoryIndex()
		require.NoError(t, idx.Add(ctx, []models.Entry{
			entry("x", "first", 1, 0),
			entry("y", "second", 2, 0),
			entry("z", "third", 3, 0),
		}))

		got, err := idx.Query(ctx, []float32{1, 0}, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"first", "second", "third"}, models.Texts(got))
	})

	t.Run("Should default k to five", func(t *testing.T) {
		idx := store.NewMemoryIndex()
		var entries []models.Entry
		for i := 0; i < 8; i++ {
			entries = append(entries, entry(fmt.Sprintf("e%d", i), "t", 1, float32(i)))
		}
		require.NoError(t, idx.Add(ctx, entries))

		got, err := idx.Query(ctx, []float32{1, 0}, 0)
		require.NoError(t, err)
		assert.Len(t, got, store.DefaultK)
	})

	t.Run("Should reject a query of the wrong dimension", func(t *testing.T) {
		idx := store.NewMemoryIndex()
		require.NoError(t, idx.Add(ctx, []models.Entry{entry("a", "a", 1, 0)}))

		_, err := idx.Query(ctx, []float32{1, 0, 0}, 1)
		assert.ErrorIs(t, err, store.ErrDimensionMismatch)
	})
}

func TestMemoryIndex_Add(t *testing.T) {
	ctx := context.Background()

	t.Run("Should reject a stored id without adding anything", func(t *testing.T) {
		idx := store.NewMemoryIndex()
		require.NoError(t, idx.Add(ctx, []models.Entry{entry("doc_0", "a", 1, 0)}))

		err := idx.Add(ctx, []models.Entry{entry("doc_1", "b", 0, 1), entry("doc_0", "c", 1, 1)})
		assert.ErrorIs(t, err, store.ErrDuplicateID)

		n, err := idx.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("Should reject an id repeated in one batch", func(t *testing.T) {
		idx := store.NewMemoryIndex()
		err := idx.Add(ctx, []models.Entry{entry("d", "a", 1, 0), entry("d", "b", 0, 1)})
		assert.ErrorIs(t, err, store.ErrDuplicateID)

		n, _ := idx.Count(ctx)
		assert.Zero(t, n)
	})

	t.Run("Should reject mixed dimensions", func(t *testing.T) {
		idx := store.NewMemoryIndex()
		require.NoError(t, idx.Add(ctx, []models.Entry{entry("a", "a", 1, 0)}))

		err := idx.Add(ctx, []models.Entry{entry("b", "b", 1, 0, 0)})
		assert.ErrorIs(t, err, store.ErrDimensionMismatch)
	})

	t.Run("Should reject entries without an embedding", func(t *testing.T) {
		idx := store.NewMemoryIndex()
		err := idx.Add(ctx, []models.Entry{{ID: "a", Text: "a"}})
		assert.ErrorIs(t, err, store.ErrInvalidEntry)
	})

	t.Run("Should not share the caller's vector", func(t *testing.T) {
		idx := store.NewMemoryIndex()
		v := []float32{1, 0}
		require.NoError(t, idx.Add(ctx, []models.Entry{{ID: "a", Text: "a", Embedding: v}}))
		v[0], v[1] = 0, 1

		got, err := idx.Query(ctx, []float32{1, 0}, 1)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	})
}

func TestMemoryIndex_Clear(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex()
	require.NoError(t, idx.Add(ctx, []models.Entry{entry("a", "a", 1, 0), entry("b", "b", 0, 1)}))

	require.NoError(t, idx.Clear(ctx))
	got, err := idx.Query(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, idx.Clear(ctx))

	// A cleared index accepts a new dimension and the old ids.
	require.NoError(t, idx.Add(ctx, []models.Entry{entry("a", "again", 1, 0, 0)}))
	got, err = idx.Query(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"again"}, models.Texts(got))
}

func TestMemoryIndex_Concurrent(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = idx.Add(ctx, []models.Entry{entry(fmt.Sprintf("w%d_%d", w, i), "t", 1, float32(i))})
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := idx.Query(ctx, []float32{1, 0}, 3)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200, n)
}
