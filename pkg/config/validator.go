package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	add := func(field, message string) {
		errors = append(errors, ValidationError{Field: field, Message: message})
	}

	// Validate LLM config
	switch c.LLM.Provider {
	case "ollama":
		if c.LLM.BaseURL == "" {
			add("llm.base_url", "Ollama base URL is required")
		}
	case "openai":
		if c.LLM.APIKey == "" {
			add("llm.api_key", "api_key is required for the openai provider (or set LLM_API_KEY / DEEPSEEK_API_KEY)")
		}
	default:
		add("llm.provider", fmt.Sprintf("unknown provider %q, want ollama or openai", c.LLM.Provider))
	}

	if c.LLM.BaseURL != "" && !validHTTPURL(c.LLM.BaseURL) {
		add("llm.base_url", "invalid base URL")
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		add("llm.max_tokens", "max_tokens must be between 1 and 8192")
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		add("llm.temperature", "temperature must be between 0 and 1")
	}

	if c.LLM.Timeout < 0 {
		add("llm.timeout", "timeout cannot be negative")
	}

	// Validate Embedder config
	switch c.Embedder.Provider {
	case "ollama", "hash":
	case "openai":
		if c.Embedder.APIKey == "" {
			add("embedder.api_key", "api_key is required for the openai provider (or set OPENAI_API_KEY)")
		}
	default:
		add("embedder.provider", fmt.Sprintf("unknown provider %q, want ollama, openai or hash", c.Embedder.Provider))
	}

	if c.Embedder.BaseURL != "" && !validHTTPURL(c.Embedder.BaseURL) {
		add("embedder.base_url", "invalid base URL")
	}

	if c.Embedder.BatchSize < 1 {
		add("embedder.batch_size", "batch_size must be positive")
	}

	if c.Embedder.Dimensions < 0 {
		add("embedder.dimensions", "dimensions cannot be negative")
	}

	// Validate Index and Database config
	switch c.Index.Backend {
	case "memory":
	case "pgvector":
		if c.Database.URL == "" {
			add("database.url", "database URL is required for the pgvector backend")
		}
	default:
		add("index.backend", fmt.Sprintf("unknown backend %q, want memory or pgvector", c.Index.Backend))
	}

	if c.Database.URL != "" {
		if u, err := url.Parse(c.Database.URL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			add("database.url", "invalid database URL")
		}
	}

	if !tableNamePattern.MatchString(c.Database.TableName) {
		add("database.table_name", "table_name must be a plain SQL identifier")
	}

	if c.Database.VectorDim < 0 {
		add("database.vector_dim", "vector_dim cannot be negative")
	}

	if c.Database.BatchSize < 1 {
		add("database.batch_size", "batch_size must be positive")
	}

	// Validate Processor config
	if c.Processor.ChunkSize < 1 {
		add("processor.chunk_size", "chunk_size must be positive")
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		add("processor.chunk_overlap", "chunk_overlap must be non-negative and less than chunk_size")
	}

	// Validate Retrieval config
	if c.Retrieval.K < 1 {
		add("retrieval.k", "k must be positive")
	}

	if c.Retrieval.MaxToolRounds < 1 {
		add("retrieval.max_tool_rounds", "max_tool_rounds must be positive")
	}

	// Validate Session config
	if c.Session.MaxHistory < 2 {
		add("session.max_history", "max_history must hold at least one turn (2 messages)")
	}

	if c.Session.IdleTTL < 0 {
		add("session.idle_ttl", "idle_ttl cannot be negative")
	}

	// Validate Server config
	if c.Server.Addr == "" {
		add("server.addr", "addr is required")
	}

	if c.Server.MaxUploadMB < 1 {
		add("server.max_upload_mb", "max_upload_mb must be positive")
	}

	if c.Server.MaxConcurrentIngest < 1 {
		add("server.max_concurrent_ingest", "max_concurrent_ingest must be positive")
	}

	// Validate Scraper config
	if c.Scraper.MaxDepth < 0 {
		add("scraper.max_depth", "max_depth cannot be negative")
	}

	if c.Scraper.RateLimit <= 0 {
		add("scraper.rate_limit", "rate_limit must be positive")
	}

	// Validate extensions format
	for _, ext := range c.Scraper.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") && ext != "" && ext != "/" {
			add("scraper.allowed_extensions", fmt.Sprintf("invalid extension format: %s", ext))
		}
	}

	// Validate UI config
	if c.UI.Theme != "default" && c.UI.Theme != "plain" {
		add("ui.theme", fmt.Sprintf("unknown theme %q, want default or plain", c.UI.Theme))
	}

	return append(errors, c.envErrors...)
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
