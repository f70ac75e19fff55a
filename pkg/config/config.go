package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	Provider    string        `yaml:"provider"` // ollama or openai
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

type EmbedderConfig struct {
	Provider   string        `yaml:"provider"` // ollama, openai or hash
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key"`
	BatchSize  int           `yaml:"batch_size"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
}

type DatabaseConfig struct {
	URL       string `yaml:"url"`
	TableName string `yaml:"table_name"`
	VectorDim int    `yaml:"vector_dim"`
	BatchSize int    `yaml:"batch_size"`
}

type IndexConfig struct {
	Backend string `yaml:"backend"` // memory or pgvector
}

type ProcessorConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type RetrievalConfig struct {
	K             int `yaml:"k"`
	MaxToolRounds int `yaml:"max_tool_rounds"`
}

type SessionConfig struct {
	MaxHistory int           `yaml:"max_history"`
	IdleTTL    time.Duration `yaml:"idle_ttl"`
}

type ServerConfig struct {
	Addr                string        `yaml:"addr"`
	MaxUploadMB         int           `yaml:"max_upload_mb"`
	MaxConcurrentIngest int           `yaml:"max_concurrent_ingest"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
}

type ScraperConfig struct {
	MaxDepth          int           `yaml:"max_depth"`
	MaxPages          int           `yaml:"max_pages"`
	RateLimit         float64       `yaml:"rate_limit"`
	IgnorePatterns    []string      `yaml:"ignore_patterns"`
	AllowedExtensions []string      `yaml:"allowed_extensions"`
	Timeout           time.Duration `yaml:"timeout"`
}

type UIConfig struct {
	Theme       string `yaml:"theme"` // default or plain
	HideSources bool   `yaml:"hide_sources"`
}

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Database  DatabaseConfig  `yaml:"database"`
	Index     IndexConfig     `yaml:"index"`
	Processor ProcessorConfig `yaml:"processor"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Session   SessionConfig   `yaml:"session"`
	Server    ServerConfig    `yaml:"server"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	UI        UIConfig        `yaml:"ui"`

	// envErrors holds environment values that could not be parsed.
	envErrors []ValidationError
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/askdoc/config.yaml"),
			"/etc/askdoc/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultDeepSeekURL = "https://api.deepseek.com"
)

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		if config.LLM.Provider == "openai" {
			config.LLM.Model = "deepseek-chat"
		} else {
			config.LLM.Model = "mistral"
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.2
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = defaultOllamaURL
	}
	if config.LLM.Timeout == 0 {
		config.LLM.Timeout = 60 * time.Second
	}

	if config.Embedder.Provider == "" {
		config.Embedder.Provider = "ollama"
	}
	if config.Embedder.Model == "" {
		switch config.Embedder.Provider {
		case "ollama":
			config.Embedder.Model = "nomic-embed-text:latest"
		case "openai":
			config.Embedder.Model = "text-embedding-3-small"
		}
	}
	if config.Embedder.BaseURL == "" && config.Embedder.Provider == "ollama" {
		config.Embedder.BaseURL = defaultOllamaURL
	}
	if config.Embedder.BatchSize == 0 {
		config.Embedder.BatchSize = 32
	}
	if config.Embedder.Timeout == 0 {
		config.Embedder.Timeout = 30 * time.Second
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "askdoc_vectors"
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if config.Index.Backend == "" {
		config.Index.Backend = "memory"
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 512
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 100
	}

	if config.Retrieval.K == 0 {
		config.Retrieval.K = 3
	}
	if config.Retrieval.MaxToolRounds == 0 {
		config.Retrieval.MaxToolRounds = 5
	}

	if config.Session.MaxHistory == 0 {
		config.Session.MaxHistory = 50
	}
	if config.Session.IdleTTL == 0 {
		config.Session.IdleTTL = time.Hour
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8000"
	}
	if config.Server.MaxUploadMB == 0 {
		config.Server.MaxUploadMB = 20
	}
	if config.Server.MaxConcurrentIngest == 0 {
		config.Server.MaxConcurrentIngest = 2
	}
	if config.Server.RequestTimeout == 0 {
		config.Server.RequestTimeout = 2 * time.Minute
	}

	if config.Scraper.MaxPages == 0 {
		config.Scraper.MaxPages = 20
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if len(config.Scraper.AllowedExtensions) == 0 {
		config.Scraper.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}
	if config.Scraper.Timeout == 0 {
		config.Scraper.Timeout = 30 * time.Second
	}

	if config.UI.Theme == "" {
		config.UI.Theme = "default"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		if config.LLM.Provider == "" || config.LLM.Provider == "ollama" {
			config.LLM.BaseURL = baseURL
		}
		if config.Embedder.Provider == "" || config.Embedder.Provider == "ollama" {
			config.Embedder.BaseURL = baseURL
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}

	// A DeepSeek key alone is enough to switch the chat model to DeepSeek.
	if key := os.Getenv("DEEPSEEK_API_KEY"); key != "" {
		if config.LLM.Provider == "" {
			config.LLM.Provider = "openai"
			if config.LLM.BaseURL == "" {
				config.LLM.BaseURL = defaultDeepSeekURL
			}
		}
		config.LLM.APIKey = key
	}
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		config.LLM.APIKey = key
	}
	if baseURL := os.Getenv("LLM_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && config.Embedder.APIKey == "" {
		config.Embedder.APIKey = key
	}

	if v := os.Getenv("VDB_SEARCH_K"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil || k < 1 {
			config.envErrors = append(config.envErrors, ValidationError{
				Field:   "VDB_SEARCH_K",
				Message: fmt.Sprintf("must be a positive integer, got %q", v),
			})
		} else {
			config.Retrieval.K = k
		}
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Addr = ":" + port
	}
}
