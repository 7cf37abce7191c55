package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/xhad/docqa/pkg/logger"
)

// Apology is returned in place of an answer whenever generation fails.
const Apology = "Sorry, I am unable to generate a response at this time."

const (
	defaultSystemTemplate = "You are a helpful assistant. Answer the user's question based on the provided context only. " +
		"If the answer is not in the context, say 'I cannot find the answer in the provided document.'"
	defaultContextTemplate = "Context: %s\n\nQuestion: %s"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider        string
	Model           string
	APIKey          string
	Temperature     float64
	MaxTokens       int
	SystemTemplate  string
	ContextTemplate string
	BaseURL         string
}

// ChatEngine answers questions from retrieved context using an LLM.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(ctx context.Context, config ChatConfig) (*ChatEngine, error) {
	config, err := chatDefaults(config)
	if err != nil {
		return nil, err
	}

	model, err := newModel(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    model,
	}, nil
}

// NewWithModel creates a ChatEngine around an existing model.
func NewWithModel(model llms.Model, config ChatConfig) (*ChatEngine, error) {
	if model == nil {
		return nil, errors.New("model is required")
	}
	config, err := chatDefaults(config)
	if err != nil {
		return nil, err
	}
	return &ChatEngine{config: config, llm: model}, nil
}

func chatDefaults(config ChatConfig) (ChatConfig, error) {
	if config.Provider == "" {
		config.Provider = ProviderOllama
	}
	if config.Model == "" {
		switch config.Provider {
		case ProviderOpenAI:
			config.Model = "gpt-4o-mini"
		case ProviderGoogleAI:
			config.Model = "gemini-1.5-flash"
		default:
			config.Model = "mistral"
		}
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return config, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.Temperature == 0 {
		config.Temperature = 0.7
	}
	if config.MaxTokens < 0 {
		return config, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = defaultSystemTemplate
	}
	if config.ContextTemplate == "" {
		config.ContextTemplate = defaultContextTemplate
	}
	if config.BaseURL == "" && config.Provider == ProviderOllama {
		config.BaseURL = "http://localhost:11434"
	}
	return config, nil
}

func newModel(ctx context.Context, config ChatConfig) (llms.Model, error) {
	switch config.Provider {
	case ProviderOllama:
		return ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(config.Model)}
		if config.APIKey != "" {
			opts = append(opts, openai.WithToken(config.APIKey))
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		return openai.New(opts...)
	case ProviderGoogleAI:
		return googleai.New(ctx,
			googleai.WithAPIKey(config.APIKey),
			googleai.WithDefaultModel(config.Model))
	default:
		return nil, fmt.Errorf("unknown llm provider %q", config.Provider)
	}
}

// Answer generates a response to query grounded only in passages. Any model
// failure yields Apology.
func (ce *ChatEngine) Answer(ctx context.Context, query, passages string) string {
	resp, err := ce.llm.GenerateContent(ctx, ce.messages(query, passages), ce.options()...)
	return ce.result(ctx, resp, err)
}

// AnswerStream is Answer with each generated chunk passed to onChunk as it
// arrives. The complete answer (or Apology) is returned at the end. An error
// from onChunk stops generation.
func (ce *ChatEngine) AnswerStream(ctx context.Context, query, passages string, onChunk func(string) error) string {
	opts := append(ce.options(), llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		return onChunk(string(chunk))
	}))
	resp, err := ce.llm.GenerateContent(ctx, ce.messages(query, passages), opts...)
	return ce.result(ctx, resp, err)
}

func (ce *ChatEngine) messages(query, passages string) []llms.MessageContent {
	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemTemplate),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(ce.config.ContextTemplate, passages, query)),
	}
}

func (ce *ChatEngine) options() []llms.CallOption {
	return []llms.CallOption{
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	}
}

func (ce *ChatEngine) result(ctx context.Context, resp *llms.ContentResponse, err error) string {
	log := logger.FromContext(ctx)
	if err != nil {
		log.Error("Answer generation failed", "provider", ce.config.Provider, "model", ce.config.Model, "error", err)
		return Apology
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		log.Error("Answer generation returned no choices", "provider", ce.config.Provider, "model", ce.config.Model)
		return Apology
	}

	answer := strings.TrimSpace(resp.Choices[0].Content)
	if answer == "" {
		log.Warn("Answer generation returned empty content", "provider", ce.config.Provider)
		return Apology
	}
	return answer
}
