// Package pipeline turns raw documents into persisted, embedded chunks.
//
// An ingestion attempt moves through Pending, Chunking and Embedding and
// ends either Persisted or Failed. All chunks of a document are written in
// a single store call, so a failed or canceled attempt never leaves a
// partial chunk set behind.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xhad/docvec/internal/models"
	"github.com/xhad/docvec/internal/types"
)

type State string

const (
	StatePending   State = "pending"
	StateChunking  State = "chunking"
	StateEmbedding State = "embedding"
	StatePersisted State = "persisted"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StatePersisted || s == StateFailed
}

// Submission is one document handed to the pipeline.
type Submission struct {
	SourceURL string
	Title     string
	Content   string
}

// Result describes an ingestion attempt. Err is set when State is
// StateFailed.
type Result struct {
	AttemptID  string
	SourceURL  string
	DocumentID int64
	State      State
	Chunks     int
	Skipped    bool
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

type Config struct {
	// MaxAttempts bounds embedding calls per chunk.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// EmbedConcurrency bounds in-flight embedding calls per document.
	EmbedConcurrency int
	// EmbedRate limits embedding calls per second across all documents.
	// Zero disables the limit.
	EmbedRate float64
	// Workers bounds documents ingested concurrently by IngestAll.
	Workers int
	// SkipUnchanged ends an attempt early when a document with the same
	// source URL and content hash already exists.
	SkipUnchanged bool
	// OnStateChange observes every transition. IngestAll may call it from
	// several goroutines at once.
	OnStateChange func(Result)
}

type Pipeline struct {
	chunker  types.Chunker
	embedder types.Embedder
	store    types.Store
	config   Config
	limiter  *rate.Limiter
}

func New(chunker types.Chunker, embedder types.Embedder, store types.Store, config Config) *Pipeline {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 500 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 10 * time.Second
	}
	if config.EmbedConcurrency <= 0 {
		config.EmbedConcurrency = 4
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}

	p := &Pipeline{
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		config:   config,
	}
	if config.EmbedRate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(config.EmbedRate), config.EmbedConcurrency)
	}
	return p
}

// IngestAll ingests every submission with a bounded worker pool. A failed
// document does not stop the others. Results are in submission order.
func (p *Pipeline) IngestAll(ctx context.Context, subs []Submission) []Result {
	results := make([]Result, len(subs))

	var g errgroup.Group
	g.SetLimit(p.config.Workers)
	for i := range subs {
		g.Go(func() error {
			results[i] = p.Ingest(ctx, subs[i])
			return nil
		})
	}
	g.Wait()

	return results
}

// Ingest runs one attempt for sub. Every call is a new attempt with its own
// AttemptID, including re-submissions of a failed document.
func (p *Pipeline) Ingest(ctx context.Context, sub Submission) Result {
	res := Result{
		AttemptID: uuid.NewString(),
		SourceURL: sub.SourceURL,
		State:     StatePending,
		StartedAt: time.Now(),
	}
	p.notify(res)

	hash := ContentHash(sub.Content)
	if p.config.SkipUnchanged {
		doc, ok, err := p.store.FindDocument(ctx, sub.SourceURL, hash)
		if err != nil {
			return p.fail(ctx, res, err)
		}
		if ok {
			res.DocumentID = doc.ID
			res.Skipped = true
			return p.finish(res, StatePersisted)
		}
	}

	id, err := p.store.CreateDocument(ctx, models.NewDocument{
		SourceURL:   sub.SourceURL,
		Title:       sub.Title,
		Content:     sub.Content,
		ContentHash: hash,
	})
	if err != nil {
		return p.fail(ctx, res, err)
	}
	res.DocumentID = id
	p.transition(&res, StateChunking)

	spans, err := p.chunker.Chunk(sub.Content)
	if err != nil {
		return p.fail(ctx, res, fmt.Errorf("failed to chunk document: %w", err))
	}
	if len(spans) == 0 {
		return p.fail(ctx, res, &types.ValidationError{Field: "content", Message: "document has no content to chunk"})
	}
	res.Chunks = len(spans)
	p.transition(&res, StateEmbedding)

	embeddings, err := p.embedAll(ctx, spans)
	if err != nil {
		return p.fail(ctx, res, err)
	}

	chunks := make([]models.NewChunk, len(spans))
	for i, span := range spans {
		chunks[i] = models.NewChunk{Content: span, Embedding: embeddings[i]}
	}
	if _, err := p.store.AppendChunks(ctx, id, chunks); err != nil {
		return p.fail(ctx, res, err)
	}

	return p.finish(res, StatePersisted)
}

// embedAll embeds spans concurrently. Vectors are placed by index, so
// completion order never affects chunk order.
func (p *Pipeline) embedAll(ctx context.Context, spans []string) ([][]float32, error) {
	embeddings := make([][]float32, len(spans))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.EmbedConcurrency)
	for i, span := range spans {
		g.Go(func() error {
			vec, err := p.embedWithRetry(gctx, span)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			embeddings[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// A sibling's cancellation is not the cause when the caller's
		// context is still live.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return embeddings, nil
}

func (p *Pipeline) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	backoff := p.config.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		vec, err := p.embedder.Embed(ctx, text)
		if err == nil {
			if dim := p.store.Dimensions(); len(vec) != dim {
				return nil, &types.DimensionMismatchError{Want: dim, Got: len(vec)}
			}
			return vec, nil
		}
		if !types.Retriable(err) {
			return nil, err
		}
		lastErr = err

		if attempt == p.config.MaxAttempts {
			break
		}
		log.Printf("Embedding attempt %d/%d failed, retrying in %s: %v", attempt, p.config.MaxAttempts, backoff, err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, p.config.MaxBackoff)
	}

	var svcErr *types.EmbeddingServiceError
	if errors.As(lastErr, &svcErr) {
		lastErr = svcErr.Err
	}
	return nil, &types.EmbeddingServiceError{Attempts: p.config.MaxAttempts, Err: lastErr}
}

// fail marks res Failed and removes the document created by this attempt.
// Removal runs even when ctx is canceled.
func (p *Pipeline) fail(ctx context.Context, res Result, err error) Result {
	if res.DocumentID != 0 {
		if delErr := p.store.DeleteDocument(context.WithoutCancel(ctx), res.DocumentID); delErr != nil {
			log.Printf("Failed to remove document %d after failed ingestion: %v", res.DocumentID, delErr)
			err = errors.Join(err, delErr)
		}
	}
	res.Err = err
	return p.finish(res, StateFailed)
}

func (p *Pipeline) finish(res Result, state State) Result {
	res.FinishedAt = time.Now()
	p.transition(&res, state)
	return res
}

func (p *Pipeline) transition(res *Result, state State) {
	res.State = state
	p.notify(*res)
}

func (p *Pipeline) notify(res Result) {
	if p.config.OnStateChange != nil {
		p.config.OnStateChange(res)
	}
}

// ContentHash is the hex SHA-256 of content with surrounding whitespace
// removed.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(sum[:])
}
