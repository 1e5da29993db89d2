package processor

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xhad/docvec/internal/types"
)

type ProcessorConfig struct {
	MaxChunkSize        int
	NormalizeWhitespace bool
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.MaxChunkSize == 0 {
		config.MaxChunkSize = 1000
	}

	return Processor{
		config: config,
	}
}

// Chunk cleans content and splits it with the configured maximum size.
func (p Processor) Chunk(content string) ([]string, error) {
	return Chunk(p.cleanText(content), p.config.MaxChunkSize)
}

func (p Processor) cleanText(text string) string {
	text = sanitizeUTF8(text)

	// Replace runs of whitespace with a single space
	if p.config.NormalizeWhitespace {
		text = strings.Join(strings.Fields(text), " ")
	}

	return text
}

// Chunk splits content into ordered, non-overlapping spans of at most
// maxChunkSize characters. Spans are whitespace-trimmed and whitespace-only
// spans are dropped, so the non-whitespace characters of the spans, read in
// order, are exactly those of content.
func Chunk(content string, maxChunkSize int) ([]string, error) {
	if maxChunkSize <= 0 {
		return nil, &types.ValidationError{
			Field:   "max_chunk_size",
			Message: "max_chunk_size must be positive",
		}
	}

	runes := []rune(content)
	var chunks []string

	for start := 0; start < len(runes); {
		end := len(runes)
		if remaining := end - start; remaining > maxChunkSize {
			// A cut before minCut would leave more than the fewest possible
			// chunks for the rest of the content.
			minCut := remaining - (remaining-1)/maxChunkSize*maxChunkSize
			end = start + splitPoint(runes[start:start+maxChunkSize], minCut)
		}

		if span := strings.TrimSpace(string(runes[start:end])); span != "" {
			chunks = append(chunks, span)
		}
		start = end
	}

	return chunks, nil
}

// splitPoint returns how many runes of window go into the current chunk,
// never fewer than minCut. A sentence end in the back half of the window
// wins, then the last whitespace, then a hard cut.
func splitPoint(window []rune, minCut int) int {
	half := len(window) / 2

	for i := len(window) - 1; i > half && i+1 >= minCut; i-- {
		if isFullWidthTerminator(window[i]) {
			return i + 1
		}
		if unicode.IsSpace(window[i]) && isTerminator(window[i-1]) {
			return i + 1
		}
	}

	for i := len(window) - 1; i > 0 && i+1 >= minCut; i-- {
		if unicode.IsSpace(window[i]) {
			return i + 1
		}
	}

	return len(window)
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?' || isFullWidthTerminator(r)
}

func isFullWidthTerminator(r rune) bool {
	return r == '。' || r == '！' || r == '？'
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}
