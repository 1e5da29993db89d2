package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/xhad/docvec/internal/models"
)

// ChatConfig represents the configuration for an answering model.
type ChatConfig struct {
	Model           string
	Temperature     float64
	MaxTokens       int
	SystemTemplate  string
	ContextTemplate string
	BaseURL         string // Ollama server URL
}

// Answer is a generated reply together with the sources it was grounded on.
type Answer struct {
	Text    string   `json:"text"`
	Sources []string `json:"sources"`
}

// Answerer generates answers to questions from retrieved document chunks.
type Answerer struct {
	config ChatConfig
	llm    llms.Model
}

func (c *ChatConfig) validate() error {
	if c.Model == "" {
		c.Model = "mistral" // Default Ollama model
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	} else if c.MaxTokens == 0 {
		c.MaxTokens = 2000
	}
	if c.SystemTemplate == "" {
		c.SystemTemplate = "You are a helpful assistant with access to the following documentation. Answer questions based on this context. If the context does not contain the answer, say so."
	}
	if c.ContextTemplate == "" {
		c.ContextTemplate = "Relevant documentation:\n%s\nQuestion: %s"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	return nil
}

// NewAnswerer creates an Answerer backed by an Ollama chat model.
func NewAnswerer(config ChatConfig) (*Answerer, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &Answerer{
		config: config,
		llm:    llm,
	}, nil
}

// NewAnswererWithModel creates an Answerer over any langchaingo model.
func NewAnswererWithModel(model llms.Model, config ChatConfig) (*Answerer, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Answerer{config: config, llm: model}, nil
}

// Answer generates a reply to question grounded on hits.
func (a *Answerer) Answer(ctx context.Context, question string, hits []models.SearchResult) (Answer, error) {
	resp, err := a.llm.GenerateContent(ctx, a.messages(question, hits),
		llms.WithTemperature(a.config.Temperature),
		llms.WithMaxTokens(a.config.MaxTokens),
	)
	if err != nil {
		return Answer{}, fmt.Errorf("chat error: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Answer{}, fmt.Errorf("chat error: no response from LLM")
	}

	return Answer{
		Text:    resp.Choices[0].Content,
		Sources: Sources(hits),
	}, nil
}

// AnswerStream is Answer with each generated fragment passed to onChunk as
// it arrives.
func (a *Answerer) AnswerStream(ctx context.Context, question string, hits []models.SearchResult, onChunk func(string) error) (Answer, error) {
	var text strings.Builder
	_, err := a.llm.GenerateContent(ctx, a.messages(question, hits),
		llms.WithTemperature(a.config.Temperature),
		llms.WithMaxTokens(a.config.MaxTokens),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			text.Write(chunk)
			return onChunk(string(chunk))
		}),
	)
	if err != nil {
		return Answer{}, fmt.Errorf("chat error: %w", err)
	}

	return Answer{Text: text.String(), Sources: Sources(hits)}, nil
}

func (a *Answerer) messages(question string, hits []models.SearchResult) []llms.MessageContent {
	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, a.config.SystemTemplate),
		llms.TextParts(llms.ChatMessageTypeHuman, BuildPrompt(a.config.ContextTemplate, question, hits)),
	}
}

// BuildPrompt renders the hits as numbered context blocks and fills them
// into template along with the question.
func BuildPrompt(template, question string, hits []models.SearchResult) string {
	var contextBuilder strings.Builder
	for i, hit := range hits {
		fmt.Fprintf(&contextBuilder, "[%d] Source: %s", i+1, hit.SourceURL)
		if hit.DocumentTitle != "" {
			fmt.Fprintf(&contextBuilder, " (%s)", hit.DocumentTitle)
		}
		fmt.Fprintf(&contextBuilder, "\n%s\n\n", hit.Content)
	}
	return fmt.Sprintf(template, contextBuilder.String(), question)
}

// Sources lists the distinct source URLs of hits in rank order.
func Sources(hits []models.SearchResult) []string {
	var sources []string
	seen := make(map[string]bool)

	for _, hit := range hits {
		if hit.SourceURL != "" && !seen[hit.SourceURL] {
			sources = append(sources, hit.SourceURL)
			seen[hit.SourceURL] = true
		}
	}
	return sources
}
