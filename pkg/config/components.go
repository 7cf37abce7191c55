package config

import (
	"io"

	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/logger"
	"github.com/xhad/docqa/pkg/processor"
	"github.com/xhad/docqa/pkg/store"
)

func (c *Config) ChatConfig() llm.ChatConfig {
	return llm.ChatConfig{
		Provider:    c.LLM.Provider,
		Model:       c.LLM.Model,
		APIKey:      c.LLM.APIKey,
		BaseURL:     c.LLM.BaseURL,
		MaxTokens:   c.LLM.MaxTokens,
		Temperature: c.LLM.Temperature,
	}
}

func (c *Config) EmbedderConfig() llm.EmbedderConfig {
	return llm.EmbedderConfig{
		Provider:   c.Embedder.Provider,
		Model:      c.Embedder.Model,
		BaseURL:    c.Embedder.BaseURL,
		APIKey:     c.Embedder.APIKey,
		BatchSize:  c.Embedder.BatchSize,
		RateLimit:  c.Embedder.RateLimit,
		CacheSize:  c.Embedder.CacheSize,
		Dimensions: c.Embedder.Dimensions,
	}
}

func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Provider: c.Index.Provider,
		PGVector: store.VectorStoreConfig{
			ConnString: c.Index.URL,
			TableName:  c.Index.TableName,
			VectorDim:  c.Index.VectorDim,
			IndexLists: c.Index.IndexLists,
		},
	}
}

func (c *Config) ProcessorConfig() processor.ProcessorConfig {
	return processor.ProcessorConfig{
		OverlapRatio:   c.Processor.OverlapRatio,
		DisableOverlap: c.Processor.DisableOverlap,
	}
}

func (c *Config) LoggerConfig(out io.Writer) *logger.Config {
	cfg := logger.DefaultConfig()
	cfg.Level = logger.LogLevel(c.Log.Level)
	cfg.JSON = c.Log.JSON
	if out != nil {
		cfg.Output = out
	}
	return cfg
}
