package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/xhad/docqa/pkg/logger"
)

// Providers understood by NewEmbedderWithConfig and NewWithConfig.
const (
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
	ProviderHash     = "hash"
)

// Intent tells the embedding service how a text will be used.
type Intent string

const (
	IntentDocument Intent = "document"
	IntentQuery    Intent = "query"
)

var ErrEmbedding = errors.New("embedding failed")

type EmbedderConfig struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	BatchSize int
	// RateLimit caps outbound requests per second. Zero disables limiting.
	RateLimit float64
	// CacheSize is the number of query embeddings kept in memory. Document
	// embeddings are never cached.
	CacheSize int
	// Dimensions sizes the vectors of the hash provider.
	Dimensions int
}

// Embedder turns texts into vectors through a langchaingo embedder. Errors
// are returned to the caller wrapped in ErrEmbedding; nothing is retried.
type Embedder struct {
	config  EmbedderConfig
	impl    embeddings.Embedder
	limiter *rate.Limiter

	cacheMu sync.Mutex
	cache   *lru.Cache[string, []float32]
}

func NewEmbedderWithConfig(ctx context.Context, config EmbedderConfig) (*Embedder, error) {
	config = embedderDefaults(config)

	impl, err := newEmbeddingClient(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s embedder: %w", config.Provider, err)
	}
	return WrapEmbedder(impl, config)
}

// WrapEmbedder builds an Embedder around an existing implementation.
func WrapEmbedder(impl embeddings.Embedder, config EmbedderConfig) (*Embedder, error) {
	if impl == nil {
		return nil, errors.New("embedder implementation is required")
	}
	config = embedderDefaults(config)

	e := &Embedder{config: config, impl: impl}
	if config.RateLimit > 0 {
		burst := int(config.RateLimit)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	if config.CacheSize > 0 {
		cache, err := lru.New[string, []float32](config.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("init query cache: %w", err)
		}
		e.cache = cache
	}
	return e, nil
}

func embedderDefaults(config EmbedderConfig) EmbedderConfig {
	if config.Provider == "" {
		config.Provider = ProviderOllama
	}
	if config.Model == "" {
		switch config.Provider {
		case ProviderOpenAI:
			config.Model = "text-embedding-3-small"
		case ProviderGoogleAI:
			config.Model = "embedding-001"
		default:
			config.Model = "nomic-embed-text:latest"
		}
	}
	if config.BaseURL == "" && config.Provider == ProviderOllama {
		config.BaseURL = "http://localhost:11434"
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}
	if config.Dimensions <= 0 {
		config.Dimensions = 256
	}
	return config
}

func newEmbeddingClient(ctx context.Context, config EmbedderConfig) (embeddings.Embedder, error) {
	options := []embeddings.Option{embeddings.WithBatchSize(config.BatchSize)}

	var client embeddings.EmbedderClient
	switch config.Provider {
	case ProviderOllama:
		llm, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, err
		}
		client = llm
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithEmbeddingModel(config.Model)}
		if config.APIKey != "" {
			opts = append(opts, openai.WithToken(config.APIKey))
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, err
		}
		client = llm
	case ProviderGoogleAI:
		llm, err := googleai.New(ctx,
			googleai.WithAPIKey(config.APIKey),
			googleai.WithDefaultEmbeddingModel(config.Model))
		if err != nil {
			return nil, err
		}
		client = llm
	case ProviderHash:
		return NewHashEmbedder(config.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", config.Provider)
	}

	impl, err := embeddings.NewEmbedder(client, options...)
	if err != nil {
		return nil, err
	}
	return impl, nil
}

// Provider returns the configured provider name.
func (e *Embedder) Provider() string {
	return e.config.Provider
}

// EmbedDocuments embeds chunks for storage in a single batch.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := e.wait(ctx); err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Debug("Embedding texts",
		"intent", IntentDocument, "provider", e.config.Provider, "count", len(texts))

	vectors, err := e.impl.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, e.withContext(IntentDocument, err)
	}
	if len(vectors) != len(texts) {
		return nil, e.withContext(IntentDocument,
			fmt.Errorf("got %d vectors for %d texts", len(vectors), len(texts)))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, e.withContext(IntentDocument, fmt.Errorf("empty vector for text %d", i))
		}
	}
	return vectors, nil
}

// EmbedQuery embeds a question for retrieval.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.lookup(text); ok {
		return v, nil
	}
	if err := e.wait(ctx); err != nil {
		return nil, err
	}

	vector, err := e.impl.EmbedQuery(ctx, text)
	if err != nil {
		return nil, e.withContext(IntentQuery, err)
	}
	if len(vector) == 0 {
		return nil, e.withContext(IntentQuery, errors.New("empty vector"))
	}

	e.store(text, vector)
	return cloneVector(vector), nil
}

func (e *Embedder) wait(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %w", ErrEmbedding, err)
	}
	return nil
}

func (e *Embedder) withContext(intent Intent, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrEmbedding, e.config.Provider, intent, err)
}

func (e *Embedder) lookup(text string) ([]float32, bool) {
	if e.cache == nil {
		return nil, false
	}
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	v, ok := e.cache.Get(text)
	if !ok {
		return nil, false
	}
	return cloneVector(v), true
}

func (e *Embedder) store(text string, vector []float32) {
	if e.cache == nil {
		return
	}
	e.cacheMu.Lock()
	e.cache.Add(text, cloneVector(vector))
	e.cacheMu.Unlock()
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
