package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
database:
  engine: "sqlite"
  sqlite_path: "/tmp/docs.db"
  vector_dim: 1024
  probes: 20

embedder:
  provider: "openai"
  api_key: "sk-test"
  timeout: 45s

processor:
  chunk_size: 500
  normalize_whitespace: true

pipeline:
  max_attempts: 5
  initial_backoff: 250ms
  workers: 4
  skip_unchanged: true

retriever:
  top_k: 8
  max_per_document: 2
  min_score: 0.3

scraper:
  max_depth: 5
  rate_limit: 1.5
  ignore_patterns:
    - "/test/"
  allowed_extensions:
    - ".html"
    - "/"

llm:
  base_url: "http://localhost:11434"
  model: "llama3"
  max_tokens: 1000
  temperature: 0.5
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	t.Setenv("OLLAMA_BASE_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_BASE_URL", "")

	// Test loading config
	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	// Verify loaded values
	assert.Equal(t, EngineSQLite, config.Database.Engine)
	assert.Equal(t, "/tmp/docs.db", config.Database.SQLitePath)
	assert.Equal(t, 20, config.Database.Probes)
	assert.Equal(t, 100, config.Database.Lists)
	assert.Equal(t, "openai", config.Embedder.Provider)
	assert.Equal(t, "text-embedding-3-large", config.Embedder.Model)
	assert.Empty(t, config.Embedder.BaseURL)
	assert.Equal(t, 45*time.Second, config.Embedder.Timeout)
	assert.Equal(t, 500, config.Processor.ChunkSize)
	assert.True(t, config.Processor.NormalizeWhitespace)
	assert.Equal(t, 5, config.Pipeline.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, config.Pipeline.InitialBackoff)
	assert.Equal(t, 10*time.Second, config.Pipeline.MaxBackoff)
	assert.True(t, config.Pipeline.SkipUnchanged)
	assert.Equal(t, 8, config.Retriever.TopK)
	assert.Equal(t, 2, config.Retriever.MaxPerDocument)
	assert.Equal(t, 0.3, config.Retriever.MinScore)
	assert.Equal(t, 5, config.Scraper.MaxDepth)
	assert.Equal(t, "llama3", config.LLM.Model)
	assert.Equal(t, 0.5, config.LLM.Temperature)

	assert.Empty(t, config.Validate())
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("database: [unclosed"), 0644))
	_, err = LoadConfig(bad)
	assert.ErrorContains(t, err, "error parsing config file")
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/docvec")

	config, err := getDefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, EnginePostgres, config.Database.Engine)
	assert.Equal(t, 1024, config.Database.VectorDim)
	assert.Equal(t, "ollama", config.Embedder.Provider)
	assert.Equal(t, "mxbai-embed-large", config.Embedder.Model)
	assert.Equal(t, "http://localhost:11434", config.Embedder.BaseURL)
	assert.Equal(t, 1000, config.Processor.ChunkSize)
	assert.Equal(t, 3, config.Pipeline.MaxAttempts)
	assert.Equal(t, 5, config.Retriever.TopK)
	assert.Empty(t, config.Validate())
}

func TestConfigValidation(t *testing.T) {
	valid := func() Config {
		c := Config{}
		c.Database.Engine = EngineMemory
		applyDefaults(&c)
		return c
	}

	tests := []struct {
		name          string
		mutate        func(c *Config)
		errorMessages []string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name: "postgres without url",
			mutate: func(c *Config) {
				c.Database.Engine = EnginePostgres
			},
			errorMessages: []string{"database.url: database URL is required"},
		},
		{
			name: "invalid config",
			mutate: func(c *Config) {
				c.Database.Engine = EnginePostgres
				c.Database.URL = "invalid-url"
				c.Database.VectorDim = -1
				c.Embedder.Provider = "openai"
				c.LLM.MaxTokens = 5000
				c.LLM.Temperature = 3.0
			},
			errorMessages: []string{
				"database.url: invalid database URL",
				"database.vector_dim: vector_dim must be 1024",
				"embedder.api_key: api_key (or OPENAI_API_KEY) is required",
				"llm.max_tokens: max_tokens must be between 1 and 4096",
				"llm.temperature: temperature must be between 0 and 1",
			},
		},
		{
			name: "unknown engine and provider",
			mutate: func(c *Config) {
				c.Database.Engine = "mongo"
				c.Embedder.Provider = "cohere"
			},
			errorMessages: []string{
				`database.engine: unknown engine "mongo"`,
				`embedder.provider: unknown provider "cohere"`,
			},
		},
		{
			name: "pipeline and retriever bounds",
			mutate: func(c *Config) {
				c.Pipeline.Workers = 0
				c.Pipeline.MaxBackoff = time.Millisecond
				c.Retriever.MinScore = 2
				c.Scraper.AllowedExtensions = []string{"html"}
			},
			errorMessages: []string{
				"pipeline.workers: workers must be positive",
				"pipeline.max_backoff",
				"retriever.min_score",
				"scraper.allowed_extensions: invalid extension format: html",
			},
		},
		{
			name: "fixed schema width and non-negative threshold",
			mutate: func(c *Config) {
				c.Database.VectorDim = 768
				c.Retriever.MinScore = -0.5
			},
			errorMessages: []string{
				"database.vector_dim: vector_dim must be 1024",
				"retriever.min_score: min_score must be between 0 and 1",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(&config)

			errors := config.Validate()
			require.Len(t, errors, len(tt.errorMessages))
			for i, msg := range tt.errorMessages {
				assert.Contains(t, errors[i].Error(), msg)
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("OPENAI_BASE_URL", "http://proxy/v1")

	config := &Config{}
	mergeWithEnv(config)

	assert.Equal(t, "http://env-ollama:11434", config.LLM.BaseURL)
	assert.Equal(t, "http://env-ollama:11434", config.Embedder.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/test", config.Database.URL)
	assert.Equal(t, "sk-env", config.Embedder.APIKey)

	openai := &Config{Embedder: EmbedderConfig{Provider: "openai"}}
	mergeWithEnv(openai)
	assert.Equal(t, "http://proxy/v1", openai.Embedder.BaseURL)
}
