package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"OLLAMA_BASE_URL", "DATABASE_URL", "DEEPSEEK_API_KEY", "LLM_API_KEY",
	"LLM_BASE_URL", "OPENAI_API_KEY", "VDB_SEARCH_K", "PORT",
}

// clearEnv blanks every variable mergeWithEnv reads for the duration of t.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)

	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
llm:
  provider: "ollama"
  base_url: "http://localhost:11434"
  model: "llama3.1"
  max_tokens: 1000
  temperature: 0.5
  timeout: 45s

embedder:
  provider: "hash"
  dimensions: 256

database:
  url: "postgres://localhost:5432/test"
  table_name: "test_docs"
  vector_dim: 768
  batch_size: 50

index:
  backend: "pgvector"

processor:
  chunk_size: 500
  chunk_overlap: 50

retrieval:
  k: 4
  max_tool_rounds: 3

session:
  max_history: 10
  idle_ttl: 30m

server:
  addr: ":9000"

scraper:
  max_depth: 2
  rate_limit: 1.5
  ignore_patterns:
    - "/test/"
  allowed_extensions:
    - ".html"
    - "/"

ui:
  theme: "plain"
  hide_sources: true
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	// Test loading config
	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	// Verify loaded values
	assert.Equal(t, "http://localhost:11434", config.LLM.BaseURL)
	assert.Equal(t, "llama3.1", config.LLM.Model)
	assert.Equal(t, 1000, config.LLM.MaxTokens)
	assert.Equal(t, 0.5, config.LLM.Temperature)
	assert.Equal(t, 45*time.Second, config.LLM.Timeout)
	assert.Equal(t, "hash", config.Embedder.Provider)
	assert.Equal(t, 256, config.Embedder.Dimensions)
	assert.Equal(t, "postgres://localhost:5432/test", config.Database.URL)
	assert.Equal(t, "pgvector", config.Index.Backend)
	assert.Equal(t, 500, config.Processor.ChunkSize)
	assert.Equal(t, 4, config.Retrieval.K)
	assert.Equal(t, 3, config.Retrieval.MaxToolRounds)
	assert.Equal(t, 30*time.Minute, config.Session.IdleTTL)
	assert.Equal(t, ":9000", config.Server.Addr)
	assert.Equal(t, 2, config.Scraper.MaxDepth)
	assert.True(t, config.UI.HideSources)

	// defaults fill the gaps
	assert.Equal(t, 32, config.Embedder.BatchSize)
	assert.Equal(t, 20, config.Server.MaxUploadMB)

	assert.Empty(t, config.Validate())
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("llm: [unclosed"), 0644))
	_, err = LoadConfig(bad)
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	clearEnv(t)

	config, err := getDefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, "ollama", config.LLM.Provider)
	assert.Equal(t, "mistral", config.LLM.Model)
	assert.Equal(t, "http://localhost:11434", config.LLM.BaseURL)
	assert.Equal(t, "nomic-embed-text:latest", config.Embedder.Model)
	assert.Equal(t, "memory", config.Index.Backend)
	assert.Equal(t, 512, config.Processor.ChunkSize)
	assert.Equal(t, 100, config.Processor.ChunkOverlap)
	assert.Equal(t, 3, config.Retrieval.K)
	assert.Equal(t, 5, config.Retrieval.MaxToolRounds)
	assert.Equal(t, ":8000", config.Server.Addr)
	assert.Empty(t, config.Validate())
}

func TestConfigValidation(t *testing.T) {
	clearEnv(t)

	valid := func() *Config {
		c, err := getDefaultConfig()
		require.NoError(t, err)
		return c
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		fields []string
	}{
		{"valid config", func(*Config) {}, nil},
		{
			name: "invalid llm",
			mutate: func(c *Config) {
				c.LLM.BaseURL = "invalid-url"
				c.LLM.MaxTokens = 50000
				c.LLM.Temperature = 3.0
			},
			fields: []string{"llm.base_url", "llm.max_tokens", "llm.temperature"},
		},
		{
			name:   "openai without key",
			mutate: func(c *Config) { c.LLM.Provider = "openai" },
			fields: []string{"llm.api_key"},
		},
		{
			name:   "unknown providers",
			mutate: func(c *Config) { c.LLM.Provider = "x"; c.Embedder.Provider = "y" },
			fields: []string{"llm.provider", "embedder.provider"},
		},
		{
			name:   "pgvector without database",
			mutate: func(c *Config) { c.Index.Backend = "pgvector" },
			fields: []string{"database.url"},
		},
		{
			name: "invalid database",
			mutate: func(c *Config) {
				c.Database.URL = "mysql://localhost"
				c.Database.TableName = "docs; drop"
				c.Database.VectorDim = -1
			},
			fields: []string{"database.url", "database.table_name", "database.vector_dim"},
		},
		{
			name:   "overlap too large",
			mutate: func(c *Config) { c.Processor.ChunkOverlap = c.Processor.ChunkSize },
			fields: []string{"processor.chunk_overlap"},
		},
		{
			name:   "retrieval bounds",
			mutate: func(c *Config) { c.Retrieval.K = -1; c.Retrieval.MaxToolRounds = -2 },
			fields: []string{"retrieval.k", "retrieval.max_tool_rounds"},
		},
		{
			name:   "bad extension",
			mutate: func(c *Config) { c.Scraper.AllowedExtensions = []string{"html"} },
			fields: []string{"scraper.allowed_extensions"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)

			var fields []string
			for _, e := range c.Validate() {
				fields = append(fields, e.Field)
			}
			assert.Equal(t, tt.fields, fields)
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("VDB_SEARCH_K", "7")
	t.Setenv("PORT", "9090")

	config := &Config{}
	mergeWithEnv(config)

	assert.Equal(t, "http://env-ollama:11434", config.LLM.BaseURL)
	assert.Equal(t, "http://env-ollama:11434", config.Embedder.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/test", config.Database.URL)
	assert.Equal(t, 7, config.Retrieval.K)
	assert.Equal(t, ":9090", config.Server.Addr)
}

func TestEnvironmentOverrides_DeepSeek(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEEPSEEK_API_KEY", "sk-test")

	config, err := getDefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, "openai", config.LLM.Provider)
	assert.Equal(t, "https://api.deepseek.com", config.LLM.BaseURL)
	assert.Equal(t, "deepseek-chat", config.LLM.Model)
	assert.Equal(t, "sk-test", config.LLM.APIKey)
	assert.Empty(t, config.Validate())
}

func TestEnvironmentOverrides_InvalidK(t *testing.T) {
	for _, v := range []string{"three", "0", "-2"} {
		t.Run(v, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("VDB_SEARCH_K", v)

			config, err := getDefaultConfig()
			require.NoError(t, err)

			errs := config.Validate()
			require.Len(t, errs, 1)
			assert.Equal(t, "VDB_SEARCH_K", errs[0].Field)
		})
	}
}
