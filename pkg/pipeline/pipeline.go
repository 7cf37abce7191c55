package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
	"github.com/xhad/docqa/pkg/extract"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/logger"
	"github.com/xhad/docqa/pkg/processor"
	"github.com/xhad/docqa/pkg/store"
)

// NoInformation is the answer given when retrieval finds nothing.
const NoInformation = "I cannot find any relevant information for that question in the documents."

const (
	// InteractiveK is the number of chunks retrieved to answer a question.
	InteractiveK = 3
)

var (
	ErrEmptyQuery = errors.New("no query provided")
	ErrStorage    = errors.New("failed to store embeddings")
)

// Upload is one file received for ingestion.
type Upload struct {
	Filename string
	Data     []byte
}

// IngestResult summarizes a successful ingestion.
type IngestResult struct {
	Filename   string
	DocumentID string
	TextLength int
	ChunkSize  int
	Overlap    int
	Chunks     int
	FirstChunk string
	LastChunk  string
}

type Config struct {
	Extractors *extract.Registry
	Processor  processor.ProcessorConfig
	Embedder   types.Embedder
	Index      types.Index
	Generator  types.Generator
	// Uploads is optional; when set, raw files are kept until Clear.
	Uploads types.UploadStore
	// TopK overrides InteractiveK for Query.
	TopK int
	// NewDocumentID overrides the upload-scoped id generator.
	NewDocumentID func(filename string) string
}

// Pipeline wires extraction, chunking, embedding, indexing and answer
// generation together. It keeps no corpus state of its own.
type Pipeline struct {
	extractors *extract.Registry
	processor  processor.Processor
	embedder   types.Embedder
	index      types.Index
	generator  types.Generator
	uploads    types.UploadStore
	topK       int
	newID      func(string) string

	// mu lets many queries read while ingestion and clearing write alone.
	mu sync.RWMutex
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Embedder == nil {
		return nil, errors.New("pipeline: embedder is required")
	}
	if cfg.Index == nil {
		return nil, errors.New("pipeline: index is required")
	}
	if cfg.Extractors == nil {
		cfg.Extractors = extract.Default()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = InteractiveK
	}
	if cfg.NewDocumentID == nil {
		cfg.NewDocumentID = uploadID
	}

	return &Pipeline{
		extractors: cfg.Extractors,
		processor:  processor.NewWithConfig(cfg.Processor),
		embedder:   cfg.Embedder,
		index:      cfg.Index,
		generator:  cfg.Generator,
		uploads:    cfg.Uploads,
		topK:       cfg.TopK,
		newID:      cfg.NewDocumentID,
	}, nil
}

func uploadID(filename string) string {
	return fmt.Sprintf("%s-%s", filename, uuid.NewString()[:8])
}

// Accepted lists the file extensions Ingest accepts.
func (p *Pipeline) Accepted() []string {
	return p.extractors.Accepted()
}

// Ingest extracts, chunks and embeds an uploaded file and adds every chunk
// to the index. If embedding fails nothing is added.
func (p *Pipeline) Ingest(ctx context.Context, up Upload) (*IngestResult, error) {
	log := logger.FromContext(ctx).With("filename", up.Filename)

	if err := p.extractors.Check(up.Filename); err != nil {
		return nil, err
	}

	if p.uploads != nil {
		path, err := p.uploads.Save(up.Filename, up.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorage, err)
		}
		log.Debug("Stored upload", "path", path)
	}

	res, err := p.extractors.Extract(up.Filename, up.Data)
	if err != nil {
		return nil, err
	}

	doc := models.Document{
		ID:          p.newID(up.Filename),
		Filename:    up.Filename,
		ContentType: res.ContentType,
		Content:     res.Text,
	}
	plan := p.processor.Process(doc)
	if len(plan.Chunks) == 0 {
		return nil, fmt.Errorf("%w from %s: document contains no text", extract.ErrExtraction, up.Filename)
	}

	texts := make([]string, len(plan.Chunks))
	for i, c := range plan.Chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d chunks", llm.ErrEmbedding, len(vectors), len(texts))
	}

	entries := make([]models.Entry, len(plan.Chunks))
	for i, c := range plan.Chunks {
		entries[i] = models.Entry{
			ID:        c.ID,
			Embedding: vectors[i],
			Text:      c.Text,
			Metadata: map[string]any{
				"source":       c.Source,
				"document_id":  c.DocumentID,
				"chunk_index":  c.Index,
				"content_type": doc.ContentType,
			},
		}
	}

	p.mu.Lock()
	err = p.index.Add(ctx, entries)
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	result := &IngestResult{
		Filename:   up.Filename,
		DocumentID: doc.ID,
		TextLength: plan.TextLength,
		ChunkSize:  plan.ChunkSize,
		Overlap:    plan.Overlap,
		Chunks:     len(plan.Chunks),
		FirstChunk: plan.Chunks[0].Text,
		LastChunk:  plan.Chunks[len(plan.Chunks)-1].Text,
	}
	log.Info("Document ingested",
		"document_id", result.DocumentID,
		"text_length", result.TextLength,
		"chunk_size", result.ChunkSize,
		"chunks", result.Chunks)
	log.Debug("Chunk boundaries", "first", result.FirstChunk, "last", result.LastChunk)

	return result, nil
}

// Retrieve returns the k chunks closest to question, nearest first. A k of
// zero or less uses the index default.
func (p *Pipeline) Retrieve(ctx context.Context, question string, k int) ([]models.Match, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuery
	}

	vector, err := p.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	matches, err := p.index.Query(ctx, vector, k)
	p.mu.RUnlock()
	if err != nil {
		if errors.Is(err, store.ErrDimensionMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return matches, nil
}

// Query answers question from the most relevant chunks. When nothing is
// retrieved the generator is not called and NoInformation is returned.
func (p *Pipeline) Query(ctx context.Context, question string) (string, error) {
	passages, ok, err := p.passages(ctx, question)
	if err != nil || !ok {
		return passages, err
	}
	return p.generator.Answer(ctx, question, passages), nil
}

// QueryStream is Query with the answer streamed through onChunk. The
// NoInformation reply is returned without streaming.
func (p *Pipeline) QueryStream(ctx context.Context, question string, onChunk func(string) error) (string, error) {
	passages, ok, err := p.passages(ctx, question)
	if err != nil || !ok {
		return passages, err
	}
	return p.generator.AnswerStream(ctx, question, passages, onChunk), nil
}

// passages returns the joined context for question, or NoInformation and
// false when nothing matched.
func (p *Pipeline) passages(ctx context.Context, question string) (string, bool, error) {
	matches, err := p.Retrieve(ctx, question, p.topK)
	if err != nil {
		return "", false, err
	}
	if len(matches) == 0 {
		logger.FromContext(ctx).Info("No chunks retrieved", "query", question)
		return NoInformation, false, nil
	}
	if p.generator == nil {
		return "", false, errors.New("pipeline: no answer generator configured")
	}

	logger.FromContext(ctx).Debug("Retrieved chunks", "query", question, "count", len(matches))
	return strings.Join(models.Texts(matches), " "), true, nil
}

// Clear deletes the stored uploads and every index entry.
func (p *Pipeline) Clear(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.uploads != nil {
		if err := p.uploads.Clear(); err != nil {
			return fmt.Errorf("%w: %w", ErrStorage, err)
		}
	}
	if err := p.index.Clear(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}

	logger.FromContext(ctx).Info("Corpus cleared")
	return nil
}

// Count returns the number of indexed chunks.
func (p *Pipeline) Count(ctx context.Context) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.index.Count(ctx)
}
