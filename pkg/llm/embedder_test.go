package llm_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docqa/pkg/llm"
)

type shortEmbedder struct{}

func (shortEmbedder) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return [][]float32{{1, 0}}, nil
}

func (shortEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestNewEmbedderWithConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("Should build the default ollama embedder", func(t *testing.T) {
		emb, err := llm.NewEmbedderWithConfig(ctx, llm.EmbedderConfig{BaseURL: "http://localhost:1234"})
		require.NoError(t, err)
		assert.Equal(t, llm.ProviderOllama, emb.Provider())
	})

	t.Run("Should build the hash embedder", func(t *testing.T) {
		emb, err := llm.NewEmbedderWithConfig(ctx, llm.EmbedderConfig{Provider: llm.ProviderHash, Dimensions: 32})
		require.NoError(t, err)

		v, err := emb.EmbedQuery(ctx, "hello")
		require.NoError(t, err)
		assert.Len(t, v, 32)
	})

	t.Run("Should reject an unknown provider", func(t *testing.T) {
		_, err := llm.NewEmbedderWithConfig(ctx, llm.EmbedderConfig{Provider: "nope"})
		assert.Error(t, err)
	})
}

func TestEmbedder_EmbedDocuments(t *testing.T) {
	ctx := context.Background()

	t.Run("Should return one vector per text in a single call", func(t *testing.T) {
		hash := llm.NewHashEmbedder(64)
		emb, err := llm.WrapEmbedder(hash, llm.EmbedderConfig{CacheSize: 8})
		require.NoError(t, err)

		vectors, err := emb.EmbedDocuments(ctx, []string{"first chunk", "second chunk", "third"})
		require.NoError(t, err)
		assert.Len(t, vectors, 3)

		_, err = emb.EmbedDocuments(ctx, []string{"first chunk"})
		require.NoError(t, err)
		assert.Equal(t, 2, hash.Calls(llm.IntentDocument))
		assert.Equal(t, 0, hash.Calls(llm.IntentQuery))
	})

	t.Run("Should not call the service for an empty batch", func(t *testing.T) {
		hash := llm.NewHashEmbedder(64)
		emb, err := llm.WrapEmbedder(hash, llm.EmbedderConfig{})
		require.NoError(t, err)

		vectors, err := emb.EmbedDocuments(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, vectors)
		assert.Equal(t, 0, hash.Calls(llm.IntentDocument))
	})

	t.Run("Should wrap service failures", func(t *testing.T) {
		hash := llm.NewHashEmbedder(64)
		hash.FailWith(errors.New("connection refused"))
		emb, err := llm.WrapEmbedder(hash, llm.EmbedderConfig{})
		require.NoError(t, err)

		_, err = emb.EmbedDocuments(ctx, []string{"a"})
		assert.ErrorIs(t, err, llm.ErrEmbedding)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("Should reject a vector count mismatch", func(t *testing.T) {
		emb, err := llm.WrapEmbedder(shortEmbedder{}, llm.EmbedderConfig{})
		require.NoError(t, err)

		_, err = emb.EmbedDocuments(ctx, []string{"a", "b"})
		assert.ErrorIs(t, err, llm.ErrEmbedding)
	})
}

func TestEmbedder_EmbedQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("Should serve repeated questions from the cache", func(t *testing.T) {
		hash := llm.NewHashEmbedder(64)
		emb, err := llm.WrapEmbedder(hash, llm.EmbedderConfig{CacheSize: 4})
		require.NoError(t, err)

		first, err := emb.EmbedQuery(ctx, "what is the deadline?")
		require.NoError(t, err)
		second, err := emb.EmbedQuery(ctx, "what is the deadline?")
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, hash.Calls(llm.IntentQuery))
	})

	t.Run("Should fail fast when the context is cancelled while rate limited", func(t *testing.T) {
		emb, err := llm.WrapEmbedder(llm.NewHashEmbedder(8), llm.EmbedderConfig{RateLimit: 0.001})
		require.NoError(t, err)

		_, err = emb.EmbedQuery(ctx, "first")
		require.NoError(t, err)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err = emb.EmbedQuery(cancelled, "second")
		assert.ErrorIs(t, err, llm.ErrEmbedding)
	})
}

func TestHashEmbedder(t *testing.T) {
	ctx := context.Background()
	h := llm.NewHashEmbedder(128)

	a, err := h.EmbedQuery(ctx, "The budget for the project is ten thousand dollars.")
	require.NoError(t, err)
	again, err := h.EmbedQuery(ctx, "The budget for the project is ten thousand dollars.")
	require.NoError(t, err)
	related, err := h.EmbedQuery(ctx, "What is the project budget?")
	require.NoError(t, err)
	unrelated, err := h.EmbedQuery(ctx, "Penguins swim quickly")
	require.NoError(t, err)

	assert.Equal(t, a, again)
	assert.InDelta(t, 1.0, cosine(a, a), 1e-6)
	assert.Greater(t, cosine(a, related), cosine(a, unrelated))

	empty, err := h.EmbedQuery(ctx, "...")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cosine(empty, empty), 1e-6)
}
