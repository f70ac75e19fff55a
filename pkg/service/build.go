package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/xhad/askdoc/internal/types"
	"github.com/xhad/askdoc/pkg/config"
	"github.com/xhad/askdoc/pkg/index"
	"github.com/xhad/askdoc/pkg/ingest"
	"github.com/xhad/askdoc/pkg/llm"
	"github.com/xhad/askdoc/pkg/processor"
	"github.com/xhad/askdoc/pkg/scraper"
	"github.com/xhad/askdoc/pkg/store"
	"github.com/xhad/askdoc/pkg/tools"
	"github.com/xhad/askdoc/pkg/workflow"
)

// App is a fully wired service together with the resources it owns.
type App struct {
	Service *Service
	Config  *config.Config
	Chat    *llm.ChatEngine

	vectors *store.VectorStore
}

// Close releases all sessions and closes the database pool.
func (a *App) Close() {
	a.Service.Close()
	if a.vectors != nil {
		a.vectors.Close()
	}
}

// Build validates cfg and wires every component it names.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("%w: invalid configuration: %s", types.ErrInvalidArgument, strings.Join(msgs, "; "))
	}

	proc, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    cfg.Processor.ChunkSize,
		ChunkOverlap: cfg.Processor.ChunkOverlap,
	})
	if err != nil {
		return nil, err
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:   cfg.Embedder.Provider,
		Model:      cfg.Embedder.Model,
		BaseURL:    cfg.Embedder.BaseURL,
		APIKey:     cfg.Embedder.APIKey,
		BatchSize:  cfg.Embedder.BatchSize,
		Dimensions: cfg.Embedder.Dimensions,
		Timeout:    cfg.Embedder.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	app := &App{Config: cfg}

	var builder types.IndexBuilder = index.MemoryBuilder{}
	if cfg.Index.Backend == "pgvector" {
		vs, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
			ConnString:   cfg.Database.URL,
			TableName:    cfg.Database.TableName,
			VectorDim:    cfg.Database.VectorDim,
			BatchSize:    cfg.Database.BatchSize,
			ResetOnStart: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open vector store: %w", err)
		}
		app.vectors = vs
		builder = vs
		log.Printf("Using pgvector table %s", cfg.Database.TableName)
	}

	pipeline, err := ingest.NewPipeline(proc, embedder, builder, ingest.PipelineConfig{
		MaxConcurrent: cfg.Server.MaxConcurrentIngest,
	})
	if err != nil {
		app.closeVectors()
		return nil, err
	}

	chat, err := llm.NewWithConfig(llm.ChatConfig{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		app.closeVectors()
		return nil, fmt.Errorf("failed to create chat engine: %w", err)
	}
	if cfg.LLM.Provider == llm.ProviderOllama {
		log.Printf("Tool calling is unavailable with the %s provider; arithmetic tools are ignored by the model", llm.ProviderOllama)
	}
	app.Chat = chat

	wf, err := workflow.New(chat, tools.NewArithmeticRegistry(), workflow.Config{
		K:             cfg.Retrieval.K,
		MaxToolRounds: cfg.Retrieval.MaxToolRounds,
	})
	if err != nil {
		app.closeVectors()
		return nil, err
	}

	svc, err := New(pipeline, wf, Config{
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		MaxHistory:     cfg.Session.MaxHistory,
		Scraper: scraper.ScraperConfig{
			MaxDepth:          cfg.Scraper.MaxDepth,
			MaxPages:          cfg.Scraper.MaxPages,
			RateLimit:         cfg.Scraper.RateLimit,
			IgnorePatterns:    cfg.Scraper.IgnorePatterns,
			AllowedExtensions: cfg.Scraper.AllowedExtensions,
			Timeout:           cfg.Scraper.Timeout,
		},
	})
	if err != nil {
		app.closeVectors()
		return nil, err
	}
	app.Service = svc

	return app, nil
}

func (a *App) closeVectors() {
	if a.vectors != nil {
		a.vectors.Close()
	}
}
