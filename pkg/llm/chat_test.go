package llm_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/docvec/internal/models"
	"github.com/xhad/docvec/pkg/llm"
)

// fakeModel records the last request and replies with a canned answer.
type fakeModel struct {
	reply    string
	err      error
	messages []llms.MessageContent
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	if m.err != nil {
		return nil, m.err
	}

	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}
	if opts.StreamingFunc != nil {
		for _, word := range strings.SplitAfter(m.reply, " ") {
			if err := opts.StreamingFunc(ctx, []byte(word)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

var hits = []models.SearchResult{
	{Rank: 1, ScoredChunk: models.ScoredChunk{Content: "Go has goroutines.", SourceURL: "https://go.dev/doc", DocumentTitle: "Docs"}},
	{Rank: 2, ScoredChunk: models.ScoredChunk{Content: "Channels connect goroutines.", SourceURL: "https://go.dev/tour"}},
	{Rank: 3, ScoredChunk: models.ScoredChunk{Content: "Select waits on channels.", SourceURL: "https://go.dev/doc"}},
}

func TestNewAnswerer(t *testing.T) {
	a, err := llm.NewAnswerer(llm.ChatConfig{Model: "testmodel", Temperature: 0.5, BaseURL: "http://localhost:1234"})
	assert.NoError(t, err)
	assert.NotNil(t, a)

	_, err = llm.NewAnswerer(llm.ChatConfig{Temperature: 1.5})
	assert.Error(t, err)

	_, err = llm.NewAnswerer(llm.ChatConfig{MaxTokens: -1})
	assert.Error(t, err)
}

func TestBuildPrompt(t *testing.T) {
	prompt := llm.BuildPrompt("Context:\n%s\nQ: %s", "What are goroutines?", hits[:2])

	assert.Equal(t, "Context:\n"+
		"[1] Source: https://go.dev/doc (Docs)\nGo has goroutines.\n\n"+
		"[2] Source: https://go.dev/tour\nChannels connect goroutines.\n\n"+
		"\nQ: What are goroutines?", prompt)
}

func TestSources(t *testing.T) {
	assert.Equal(t, []string{"https://go.dev/doc", "https://go.dev/tour"}, llm.Sources(hits))
	assert.Nil(t, llm.Sources(nil))
}

func TestAnswer(t *testing.T) {
	model := &fakeModel{reply: "Goroutines are lightweight threads."}
	a, err := llm.NewAnswererWithModel(model, llm.ChatConfig{SystemTemplate: "system"})
	require.NoError(t, err)

	answer, err := a.Answer(context.Background(), "What are goroutines?", hits)
	require.NoError(t, err)
	assert.Equal(t, "Goroutines are lightweight threads.", answer.Text)
	assert.Equal(t, []string{"https://go.dev/doc", "https://go.dev/tour"}, answer.Sources)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	human := model.messages[1].Parts[0].(llms.TextContent).Text
	assert.Contains(t, human, "Select waits on channels.")
	assert.Contains(t, human, "What are goroutines?")
}

func TestAnswerStream(t *testing.T) {
	model := &fakeModel{reply: "one two three"}
	a, err := llm.NewAnswererWithModel(model, llm.ChatConfig{})
	require.NoError(t, err)

	var got []string
	answer, err := a.AnswerStream(context.Background(), "count", hits, func(s string) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one ", "two ", "three"}, got)
	assert.Equal(t, "one two three", answer.Text)
}

func TestAnswerError(t *testing.T) {
	a, err := llm.NewAnswererWithModel(&fakeModel{err: errors.New("boom")}, llm.ChatConfig{})
	require.NoError(t, err)

	_, err = a.Answer(context.Background(), "q", hits)
	assert.ErrorContains(t, err, "boom")
}
