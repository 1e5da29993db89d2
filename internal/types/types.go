package types

import (
	"context"

	"github.com/xhad/docvec/internal/models"
)

// Core interfaces
type Store interface {
	CreateDocument(ctx context.Context, doc models.NewDocument) (int64, error)
	AppendChunks(ctx context.Context, documentID int64, chunks []models.NewChunk) ([]int64, error)
	DeleteDocument(ctx context.Context, id int64) error

	GetDocument(ctx context.Context, id int64) (models.Document, error)
	// FindDocument returns the newest document with this source and content
	// hash that owns at least one embedded chunk.
	FindDocument(ctx context.Context, sourceURL, contentHash string) (models.Document, bool, error)
	GetChunk(ctx context.Context, id int64) (models.Chunk, error)
	ListChunks(ctx context.Context, documentID int64) ([]models.Chunk, error)

	// Scan returns up to limit chunks with a non-null embedding, most
	// similar to query first. Engines backed by an ANN index may return an
	// approximation of the exact ranking.
	Scan(ctx context.Context, query []float32, limit int) ([]models.ScoredChunk, error)

	Dimensions() int
	Close() error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

type Chunker interface {
	Chunk(content string) ([]string, error)
}
