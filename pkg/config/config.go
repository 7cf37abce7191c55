package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Index     IndexConfig     `yaml:"index"`
	Processor ProcessorConfig `yaml:"processor"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Server    ServerConfig    `yaml:"server"`
	UI        UIConfig        `yaml:"ui"`
	Log       LogConfig       `yaml:"log"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type EmbedderConfig struct {
	Provider   string  `yaml:"provider"`
	BaseURL    string  `yaml:"base_url"`
	Model      string  `yaml:"model"`
	APIKey     string  `yaml:"api_key"`
	BatchSize  int     `yaml:"batch_size"`
	RateLimit  float64 `yaml:"rate_limit"`
	CacheSize  int     `yaml:"cache_size"`
	Dimensions int     `yaml:"dimensions"`
}

type IndexConfig struct {
	Provider   string `yaml:"provider"`
	URL        string `yaml:"url"`
	TableName  string `yaml:"table_name"`
	VectorDim  int    `yaml:"vector_dim"`
	IndexLists int    `yaml:"index_lists"`
}

type ProcessorConfig struct {
	OverlapRatio   float64 `yaml:"overlap_ratio"`
	DisableOverlap bool    `yaml:"disable_overlap"`
}

type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	UploadDir   string `yaml:"upload_dir"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

type UIConfig struct {
	Streaming bool `yaml:"streaming"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/docqa/config.yaml"),
			"/etc/docqa/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	applyDefaults(&config)
	mergeWithEnv(&config)

	return &config, nil
}

func getDefaultConfig() *Config {
	config := &Config{}
	applyDefaults(config)
	mergeWithEnv(config)
	return config
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		switch config.LLM.Provider {
		case "googleai":
			config.LLM.Model = "gemini-1.5-flash"
		case "openai":
			config.LLM.Model = "gpt-4o-mini"
		default:
			config.LLM.Model = "mistral"
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Embedder.Provider == "" {
		config.Embedder.Provider = "ollama"
	}
	if config.Embedder.Model == "" {
		switch config.Embedder.Provider {
		case "googleai":
			config.Embedder.Model = "embedding-001"
		case "openai":
			config.Embedder.Model = "text-embedding-3-small"
		case "ollama":
			config.Embedder.Model = "nomic-embed-text:latest"
		}
	}
	if config.Embedder.BaseURL == "" && config.Embedder.Provider == "ollama" {
		config.Embedder.BaseURL = "http://localhost:11434"
	}
	if config.Embedder.BatchSize == 0 {
		config.Embedder.BatchSize = 64
	}
	if config.Embedder.CacheSize == 0 {
		config.Embedder.CacheSize = 128
	}
	if config.Embedder.Dimensions == 0 {
		config.Embedder.Dimensions = 256
	}

	if config.Index.Provider == "" {
		config.Index.Provider = "memory"
	}
	if config.Index.TableName == "" {
		config.Index.TableName = "chunks"
	}
	if config.Index.VectorDim == 0 {
		config.Index.VectorDim = 768
	}
	if config.Index.IndexLists == 0 {
		config.Index.IndexLists = 100
	}

	if config.Processor.OverlapRatio == 0 {
		config.Processor.OverlapRatio = 0.15
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 3
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Server.UploadDir == "" {
		config.Server.UploadDir = "uploads"
	}
	if config.Server.MaxUploadMB == 0 {
		config.Server.MaxUploadMB = 32
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		if config.LLM.Provider == "ollama" {
			config.LLM.BaseURL = baseURL
		}
		if config.Embedder.Provider == "ollama" {
			config.Embedder.BaseURL = baseURL
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Index.URL = dbURL
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Addr = ":" + port
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}

	keys := map[string]string{
		"googleai": os.Getenv("GOOGLE_API_KEY"),
		"openai":   os.Getenv("OPENAI_API_KEY"),
	}
	if key := keys[config.LLM.Provider]; key != "" && config.LLM.APIKey == "" {
		config.LLM.APIKey = key
	}
	if key := keys[config.Embedder.Provider]; key != "" && config.Embedder.APIKey == "" {
		config.Embedder.APIKey = key
	}
}
