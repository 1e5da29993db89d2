package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xhad/docvec/internal/models"
)

const (
	EnginePostgres = "postgres"
	EngineSQLite   = "sqlite"
	EngineMemory   = "memory"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Processor ProcessorConfig `yaml:"processor"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Retriever RetrieverConfig `yaml:"retriever"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	LLM       LLMConfig       `yaml:"llm"`
}

type DatabaseConfig struct {
	Engine     string `yaml:"engine"`
	URL        string `yaml:"url"`
	SQLitePath string `yaml:"sqlite_path"`
	VectorDim  int    `yaml:"vector_dim"`
	Lists      int    `yaml:"lists"`
	Probes     int    `yaml:"probes"`
	MaxConns   int32  `yaml:"max_conns"`
}

type EmbedderConfig struct {
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

type ProcessorConfig struct {
	ChunkSize           int  `yaml:"chunk_size"`
	NormalizeWhitespace bool `yaml:"normalize_whitespace"`
}

type PipelineConfig struct {
	MaxAttempts      int           `yaml:"max_attempts"`
	InitialBackoff   time.Duration `yaml:"initial_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
	EmbedConcurrency int           `yaml:"embed_concurrency"`
	EmbedRate        float64       `yaml:"embed_rate"`
	Workers          int           `yaml:"workers"`
	SkipUnchanged    bool          `yaml:"skip_unchanged"`
}

type RetrieverConfig struct {
	TopK           int     `yaml:"top_k"`
	MaxPerDocument int     `yaml:"max_per_document"`
	OverFetch      int     `yaml:"over_fetch"`
	MinScore       float64 `yaml:"min_score"`
}

type ScraperConfig struct {
	MaxDepth          int      `yaml:"max_depth"`
	MaxPages          int      `yaml:"max_pages"`
	RateLimit         float64  `yaml:"rate_limit"`
	IgnorePatterns    []string `yaml:"ignore_patterns"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// Locations lists the files LoadConfig tries, in order, when no path is
// given.
func Locations() []string {
	return []string{
		"config.yaml",
		"config.yml",
		filepath.Join(os.Getenv("HOME"), ".config/docvec/config.yaml"),
		"/etc/docvec/config.yaml",
	}
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		for _, loc := range Locations() {
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

func applyDefaults(config *Config) {
	if config.Database.Engine == "" {
		config.Database.Engine = EnginePostgres
	}
	if config.Database.SQLitePath == "" {
		config.Database.SQLitePath = "docvec.db"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = models.EmbeddingDim
	}
	if config.Database.Lists == 0 {
		config.Database.Lists = 100
	}
	if config.Database.Probes == 0 {
		config.Database.Probes = 10
	}

	if config.Embedder.Provider == "" {
		config.Embedder.Provider = "ollama"
	}
	if config.Embedder.Model == "" {
		switch config.Embedder.Provider {
		case "openai":
			config.Embedder.Model = "text-embedding-3-large"
		default:
			config.Embedder.Model = "mxbai-embed-large"
		}
	}
	if config.Embedder.BaseURL == "" && config.Embedder.Provider == "ollama" {
		config.Embedder.BaseURL = "http://localhost:11434"
	}
	if config.Embedder.Timeout == 0 {
		config.Embedder.Timeout = 30 * time.Second
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}

	if config.Pipeline.MaxAttempts == 0 {
		config.Pipeline.MaxAttempts = 3
	}
	if config.Pipeline.InitialBackoff == 0 {
		config.Pipeline.InitialBackoff = 500 * time.Millisecond
	}
	if config.Pipeline.MaxBackoff == 0 {
		config.Pipeline.MaxBackoff = 10 * time.Second
	}
	if config.Pipeline.EmbedConcurrency == 0 {
		config.Pipeline.EmbedConcurrency = 4
	}
	if config.Pipeline.Workers == 0 {
		config.Pipeline.Workers = 2
	}

	if config.Retriever.TopK == 0 {
		config.Retriever.TopK = 5
	}
	if config.Retriever.OverFetch == 0 {
		config.Retriever.OverFetch = 4
	}

	if config.Scraper.MaxDepth == 0 {
		config.Scraper.MaxDepth = 3
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if len(config.Scraper.AllowedExtensions) == 0 {
		config.Scraper.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}

	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
		if config.Embedder.Provider == "" || config.Embedder.Provider == "ollama" {
			config.Embedder.BaseURL = baseURL
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.Embedder.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" && config.Embedder.Provider == "openai" {
		config.Embedder.BaseURL = baseURL
	}
}
