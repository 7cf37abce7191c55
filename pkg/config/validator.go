package config

import (
	"fmt"
	"net/url"
	"slices"

	"github.com/xhad/docqa/pkg/logger"
)

var (
	llmProviders      = []string{"ollama", "openai", "googleai"}
	embedderProviders = []string{"ollama", "openai", "googleai", "hash"}
	indexProviders    = []string{"memory", "pgvector"}
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	if !slices.Contains(llmProviders, c.LLM.Provider) {
		errors = append(errors, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider %q", c.LLM.Provider),
		})
	}

	if c.LLM.Provider == "ollama" && c.LLM.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "Ollama base URL is required",
		})
	}

	if c.LLM.BaseURL != "" {
		if _, err := url.Parse(c.LLM.BaseURL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "invalid base URL",
			})
		}
	}

	if needsKey(c.LLM.Provider) && c.LLM.APIKey == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.api_key",
			Message: fmt.Sprintf("api key is required for %s", c.LLM.Provider),
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 8192",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	// Validate Embedder config
	if !slices.Contains(embedderProviders, c.Embedder.Provider) {
		errors = append(errors, ValidationError{
			Field:   "embedder.provider",
			Message: fmt.Sprintf("unknown provider %q", c.Embedder.Provider),
		})
	}

	if needsKey(c.Embedder.Provider) && c.Embedder.APIKey == "" {
		errors = append(errors, ValidationError{
			Field:   "embedder.api_key",
			Message: fmt.Sprintf("api key is required for %s", c.Embedder.Provider),
		})
	}

	if c.Embedder.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedder.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Embedder.RateLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "embedder.rate_limit",
			Message: "rate_limit cannot be negative",
		})
	}

	if c.Embedder.CacheSize < 0 {
		errors = append(errors, ValidationError{
			Field:   "embedder.cache_size",
			Message: "cache_size cannot be negative",
		})
	}

	// Validate Index config
	if !slices.Contains(indexProviders, c.Index.Provider) {
		errors = append(errors, ValidationError{
			Field:   "index.provider",
			Message: fmt.Sprintf("unknown provider %q", c.Index.Provider),
		})
	}

	if c.Index.Provider == "pgvector" {
		if c.Index.URL == "" {
			errors = append(errors, ValidationError{
				Field:   "index.url",
				Message: "database URL is required for pgvector",
			})
		} else if _, err := url.Parse(c.Index.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "index.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Index.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "index.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	if c.Index.Provider == "pgvector" && c.Embedder.Provider == "hash" && c.Embedder.Dimensions != c.Index.VectorDim {
		errors = append(errors, ValidationError{
			Field:   "embedder.dimensions",
			Message: "dimensions must equal index.vector_dim",
		})
	}

	// Validate Processor config
	if c.Processor.OverlapRatio < 0 || c.Processor.OverlapRatio >= 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.overlap_ratio",
			Message: "overlap_ratio must be in [0, 1)",
		})
	}

	if c.Retrieval.TopK < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.top_k",
			Message: "top_k must be positive",
		})
	}

	// Validate Server config
	if c.Server.UploadDir == "" {
		errors = append(errors, ValidationError{
			Field:   "server.upload_dir",
			Message: "upload_dir is required",
		})
	}

	if c.Server.MaxUploadMB < 1 {
		errors = append(errors, ValidationError{
			Field:   "server.max_upload_mb",
			Message: "max_upload_mb must be positive",
		})
	}

	if !logger.LogLevel(c.Log.Level).Valid() {
		errors = append(errors, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("unknown level %q", c.Log.Level),
		})
	}

	return errors
}

func needsKey(provider string) bool {
	return provider == "openai" || provider == "googleai"
}
