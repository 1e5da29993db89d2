package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/xhad/docvec/internal/models"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	add := func(field, message string) {
		errors = append(errors, ValidationError{Field: field, Message: message})
	}

	// Validate Database config
	switch c.Database.Engine {
	case EnginePostgres:
		if c.Database.URL == "" {
			add("database.url", "database URL is required for the postgres engine")
		} else if u, err := url.Parse(c.Database.URL); err != nil || u.Scheme == "" {
			add("database.url", "invalid database URL")
		}
	case EngineSQLite:
		if c.Database.SQLitePath == "" {
			add("database.sqlite_path", "sqlite_path is required for the sqlite engine")
		}
	case EngineMemory:
	default:
		add("database.engine", fmt.Sprintf("unknown engine %q (want postgres, sqlite or memory)", c.Database.Engine))
	}

	if c.Database.VectorDim != models.EmbeddingDim {
		add("database.vector_dim", fmt.Sprintf("vector_dim must be %d", models.EmbeddingDim))
	}
	if c.Database.Lists < 1 {
		add("database.lists", "lists must be positive")
	}
	if c.Database.Probes < 1 || c.Database.Probes > c.Database.Lists {
		add("database.probes", "probes must be between 1 and lists")
	}

	// Validate Embedder config
	switch c.Embedder.Provider {
	case "ollama":
		if _, err := url.ParseRequestURI(c.Embedder.BaseURL); err != nil {
			add("embedder.base_url", "invalid Ollama base URL")
		}
	case "openai":
		if c.Embedder.APIKey == "" {
			add("embedder.api_key", "api_key (or OPENAI_API_KEY) is required for the openai provider")
		}
	default:
		add("embedder.provider", fmt.Sprintf("unknown provider %q (want ollama or openai)", c.Embedder.Provider))
	}

	// Validate Processor config
	if c.Processor.ChunkSize < 1 {
		add("processor.chunk_size", "chunk_size must be positive")
	}

	// Validate Pipeline config
	if c.Pipeline.MaxAttempts < 1 {
		add("pipeline.max_attempts", "max_attempts must be positive")
	}
	if c.Pipeline.Workers < 1 {
		add("pipeline.workers", "workers must be positive")
	}
	if c.Pipeline.EmbedConcurrency < 1 {
		add("pipeline.embed_concurrency", "embed_concurrency must be positive")
	}
	if c.Pipeline.EmbedRate < 0 {
		add("pipeline.embed_rate", "embed_rate cannot be negative")
	}
	if c.Pipeline.MaxBackoff < c.Pipeline.InitialBackoff {
		add("pipeline.max_backoff", "max_backoff must not be less than initial_backoff")
	}

	// Validate Retriever config
	if c.Retriever.TopK < 1 {
		add("retriever.top_k", "top_k must be positive")
	}
	if c.Retriever.MaxPerDocument < 0 {
		add("retriever.max_per_document", "max_per_document cannot be negative")
	}
	if c.Retriever.MinScore < 0 || c.Retriever.MinScore > 1 {
		add("retriever.min_score", "min_score must be between 0 and 1")
	}

	// Validate Scraper config
	if c.Scraper.MaxDepth < 1 {
		add("scraper.max_depth", "max_depth must be positive")
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

	// Validate LLM config
	if _, err := url.ParseRequestURI(c.LLM.BaseURL); err != nil {
		add("llm.base_url", "invalid Ollama base URL")
	}
	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		add("llm.max_tokens", "max_tokens must be between 1 and 4096")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		add("llm.temperature", "temperature must be between 0 and 1")
	}

	return errors
}
