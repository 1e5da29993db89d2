package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/xhad/docvec/internal/models"
	"github.com/xhad/docvec/internal/types"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// EmbedderConfig represents the configuration for an embedding client.
type EmbedderConfig struct {
	Provider   string
	Model      string
	BaseURL    string
	APIKey     string
	Dimensions int
	Timeout    time.Duration
}

func (c *EmbedderConfig) applyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderOllama
	}
	if c.Dimensions == 0 {
		c.Dimensions = models.EmbeddingDim
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	switch c.Provider {
	case ProviderOllama:
		if c.Model == "" {
			c.Model = "mxbai-embed-large" // 1024-dimensional
		}
		if c.BaseURL == "" {
			c.BaseURL = "http://localhost:11434"
		}
	case ProviderOpenAI:
		if c.Model == "" {
			c.Model = "text-embedding-3-large"
		}
	}
}

// NewEmbedder builds the embedder for config.Provider.
func NewEmbedder(config EmbedderConfig) (types.Embedder, error) {
	config.applyDefaults()

	switch config.Provider {
	case ProviderOllama:
		return NewOllamaEmbedder(config)
	case ProviderOpenAI:
		return NewOpenAIEmbedder(config)
	default:
		return nil, &types.ValidationError{Field: "provider", Message: fmt.Sprintf("unknown embedding provider %q", config.Provider)}
	}
}

// OllamaEmbedder embeds text with an Ollama server through langchaingo.
type OllamaEmbedder struct {
	Config EmbedderConfig
	llm    *ollama.LLM
}

func NewOllamaEmbedder(config EmbedderConfig) (*OllamaEmbedder, error) {
	config.Provider = ProviderOllama
	config.applyDefaults()

	llm, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
		ollama.WithHTTPClient(&http.Client{Timeout: config.Timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return &OllamaEmbedder{
		Config: config,
		llm:    llm,
	}, nil
}

func (e *OllamaEmbedder) Dimensions() int { return e.Config.Dimensions }

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := checkText(text); err != nil {
		return nil, err
	}

	embeddings, err := e.llm.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, serviceError(ctx, err)
	}
	if len(embeddings) != 1 {
		return nil, &types.EmbeddingServiceError{Attempts: 1, Err: fmt.Errorf("expected 1 embedding, got %d", len(embeddings))}
	}

	return checkDimensions(embeddings[0], e.Config.Dimensions)
}

// OpenAIEmbedder embeds text with the OpenAI embeddings API, asking the
// model to shorten its output to the configured dimensions.
type OpenAIEmbedder struct {
	Config EmbedderConfig
	client openai.Client
}

func NewOpenAIEmbedder(config EmbedderConfig) (*OpenAIEmbedder, error) {
	config.Provider = ProviderOpenAI
	config.applyDefaults()

	if config.APIKey == "" {
		return nil, &types.ValidationError{Field: "api_key", Message: "an API key is required for the openai provider"}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: config.Timeout}),
		// The ingestion pipeline owns retries.
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &OpenAIEmbedder{
		Config: config,
		client: openai.NewClient(opts...),
	}, nil
}

func (e *OpenAIEmbedder) Dimensions() int { return e.Config.Dimensions }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := checkText(text); err != nil {
		return nil, err
	}

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model:      openai.EmbeddingModel(e.Config.Model),
		Dimensions: openai.Int(int64(e.Config.Dimensions)),
	})
	if err != nil {
		return nil, serviceError(ctx, err)
	}
	if len(resp.Data) != 1 {
		return nil, &types.EmbeddingServiceError{Attempts: 1, Err: fmt.Errorf("expected 1 embedding, got %d", len(resp.Data))}
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return checkDimensions(vec, e.Config.Dimensions)
}

func checkText(text string) error {
	if strings.TrimSpace(text) == "" {
		return &types.ValidationError{Field: "text", Message: "text to embed is empty"}
	}
	return nil
}

func checkDimensions(vec []float32, dim int) ([]float32, error) {
	if len(vec) != dim {
		return nil, &types.DimensionMismatchError{Want: dim, Got: len(vec)}
	}
	return vec, nil
}

// serviceError reports cancellation as itself so callers stop retrying.
func serviceError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &types.EmbeddingServiceError{Attempts: 1, Err: err}
}

var (
	_ types.Embedder = (*OllamaEmbedder)(nil)
	_ types.Embedder = (*OpenAIEmbedder)(nil)
)
