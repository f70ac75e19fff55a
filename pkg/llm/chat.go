package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/xhad/askdoc/internal/types"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider    string // ollama or openai (any OpenAI-compatible endpoint)
	Model       string
	Temperature float64
	MaxTokens   int
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
}

// ChatEngine is an engine that uses an LLM to generate chat responses.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Provider == "" {
		config.Provider = ProviderOllama
	}
	if err := applyChatDefaults(&config); err != nil {
		return nil, err
	}

	var (
		model llms.Model
		err   error
	)
	switch config.Provider {
	case ProviderOllama:
		if config.Model == "" {
			config.Model = "mistral" // Default Ollama model
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434" // Default Ollama URL
		}
		model, err = ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))

	case ProviderOpenAI:
		if config.Model == "" {
			config.Model = "deepseek-chat"
		}
		opts := []openai.Option{openai.WithToken(config.APIKey), openai.WithModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		model, err = openai.New(opts...)

	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", types.ErrInvalidArgument, config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{config: config, llm: model}, nil
}

// NewWithModel creates a ChatEngine over an already constructed model.
func NewWithModel(model llms.Model, config ChatConfig) (*ChatEngine, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: nil model", types.ErrInvalidArgument)
	}
	if err := applyChatDefaults(&config); err != nil {
		return nil, err
	}
	return &ChatEngine{config: config, llm: model}, nil
}

func applyChatDefaults(config *ChatConfig) error {
	if config.Temperature < 0 || config.Temperature > 1 {
		return fmt.Errorf("%w: temperature must be between 0 and 1", types.ErrInvalidArgument)
	}
	if config.MaxTokens < 0 {
		return fmt.Errorf("%w: max tokens cannot be negative", types.ErrInvalidArgument)
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	return nil
}

// Config returns the effective configuration.
func (ce *ChatEngine) Config() ChatConfig {
	return ce.config
}

// Generate sends the conversation and the available tool signatures to the
// model and returns its first choice. The choice either carries final text
// or a list of tool calls.
func (ce *ChatEngine) Generate(ctx context.Context, messages []llms.MessageContent, tools []llms.Tool) (*llms.ContentChoice, error) {
	opts := []llms.CallOption{
		llms.WithMaxTokens(ce.config.MaxTokens),
		llms.WithTemperature(ce.config.Temperature),
	}
	if len(tools) > 0 {
		opts = append(opts, llms.WithTools(tools))
	}

	response, err := callWithTimeout(ctx, ce.config.Timeout, func(ctx context.Context) (*llms.ContentResponse, error) {
		return ce.llm.GenerateContent(ctx, messages, opts...)
	})
	if err != nil {
		if errors.Is(err, types.ErrModelTimeout) {
			return nil, fmt.Errorf("failed to generate response: %w", err)
		}
		return nil, fmt.Errorf("failed to generate response: %w: %w", types.ErrGeneration, err)
	}
	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return nil, fmt.Errorf("failed to generate response: %w: no response from LLM", types.ErrGeneration)
	}

	return response.Choices[0], nil
}

// FormatSources formats the sources for citation.
func FormatSources(sources []string) string {
	var unique []string
	seen := make(map[string]bool)

	for _, src := range sources {
		if src != "" && !seen[src] {
			unique = append(unique, src)
			seen[src] = true
		}
	}

	if len(unique) == 0 {
		return ""
	}

	return fmt.Sprintf("\nSources:\n%s", strings.Join(unique, "\n"))
}
