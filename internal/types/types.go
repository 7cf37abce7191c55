package types

import (
	"context"

	"github.com/xhad/docqa/internal/models"
)

// Core interfaces
type Embedder interface {
	// EmbedDocuments embeds texts for storage, one vector per text, in order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single question for retrieval.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Index interface {
	Add(ctx context.Context, entries []models.Entry) error
	Query(ctx context.Context, vector []float32, k int) ([]models.Match, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Close()
}

type Generator interface {
	Answer(ctx context.Context, query, passages string) string
	AnswerStream(ctx context.Context, query, passages string, onChunk func(string) error) string
}

type Extractor interface {
	Extract(data []byte) (string, error)
}

// UploadStore keeps the raw source files of ingested documents.
type UploadStore interface {
	Save(filename string, data []byte) (string, error)
	Clear() error
}
