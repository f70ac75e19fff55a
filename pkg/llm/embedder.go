package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/xhad/askdoc/internal/types"
)

// Embedding providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderHash   = "hash"
)

// EmbedderConfig represents the configuration for an embedder.
type EmbedderConfig struct {
	Provider   string
	Model      string
	BaseURL    string // Ollama server URL or OpenAI-compatible endpoint
	APIKey     string
	BatchSize  int
	Dimensions int // hash provider only
	Timeout    time.Duration
}

// Embedder turns chunk and query text into vectors. It wraps a langchaingo
// embedder and classifies every failure as types.ErrEmbeddingFailure.
type Embedder struct {
	config   EmbedderConfig
	embedder embeddings.Embedder
}

var _ types.Embedder = (*Embedder)(nil)

// NewEmbedderWithConfig creates an Embedder backed by the configured provider.
func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Provider == "" {
		config.Provider = ProviderOllama
	}
	if config.BatchSize < 0 {
		return nil, fmt.Errorf("%w: batch size cannot be negative", types.ErrInvalidArgument)
	} else if config.BatchSize == 0 {
		config.BatchSize = 32
	}

	var inner embeddings.Embedder
	switch config.Provider {
	case ProviderHash:
		inner = NewHashEmbedder(config.Dimensions)

	case ProviderOllama:
		if config.Model == "" {
			config.Model = "nomic-embed-text:latest" // Default Ollama model
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434" // Default Ollama URL
		}
		client, err := ollama.New(
			ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
		}
		if inner, err = embeddings.NewEmbedder(client, embeddings.WithBatchSize(config.BatchSize)); err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}

	case ProviderOpenAI:
		if config.Model == "" {
			config.Model = "text-embedding-3-small"
		}
		opts := []openai.Option{
			openai.WithToken(config.APIKey),
			openai.WithEmbeddingModel(config.Model),
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		client, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
		}
		if inner, err = embeddings.NewEmbedder(client, embeddings.WithBatchSize(config.BatchSize)); err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}

	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", types.ErrInvalidArgument, config.Provider)
	}

	return &Embedder{config: config, embedder: inner}, nil
}

// NewEmbedder wraps an existing langchaingo embedder.
func NewEmbedder(inner embeddings.Embedder, config EmbedderConfig) *Embedder {
	return &Embedder{config: config, embedder: inner}
}

// Config returns the effective configuration.
func (e *Embedder) Config() EmbedderConfig {
	return e.config
}

// EmbedDocuments returns one vector per text, in input order.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := callWithTimeout(ctx, e.config.Timeout, func(ctx context.Context) ([][]float32, error) {
		return e.embedder.EmbedDocuments(ctx, texts)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w: %w", types.ErrEmbeddingFailure, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("failed to embed documents: %w: got %d vectors for %d texts",
			types.ErrEmbeddingFailure, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("failed to embed documents: %w: empty vector for text %d",
				types.ErrEmbeddingFailure, i)
		}
	}

	return vectors, nil
}

// EmbedQuery embeds a single query text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := callWithTimeout(ctx, e.config.Timeout, func(ctx context.Context) ([]float32, error) {
		return e.embedder.EmbedQuery(ctx, text)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w: %w", types.ErrEmbeddingFailure, err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("failed to embed query: %w: empty vector", types.ErrEmbeddingFailure)
	}

	return vector, nil
}
