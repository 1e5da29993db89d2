package models

import "time"

// EmbeddingDim is the vector width of document_chunk.embedding.
const EmbeddingDim = 1024

type Document struct {
	ID          int64     `json:"id"`
	SourceURL   string    `json:"source_url"`
	Title       string    `json:"title,omitempty"`
	Content     string    `json:"content,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewDocument is the input to Store.CreateDocument.
type NewDocument struct {
	SourceURL   string `json:"source_url" validate:"required"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	ContentHash string `json:"content_hash" validate:"omitempty,len=64,hexadecimal"`
}

// Chunk is a persisted span of a document. A nil Embedding marks an
// incomplete ingestion.
type Chunk struct {
	ID         int64     `json:"id"`
	DocumentID int64     `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewChunk is the input to Store.AppendChunks. The chunk index is assigned
// by the store from the position in the appended slice.
type NewChunk struct {
	Content   string    `json:"content" validate:"required"`
	Embedding []float32 `json:"-"`
}

// ScoredChunk is one row of a similarity scan.
type ScoredChunk struct {
	ChunkID       int64   `json:"chunk_id"`
	DocumentID    int64   `json:"document_id"`
	ChunkIndex    int     `json:"chunk_index"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	DocumentTitle string  `json:"document_title,omitempty"`
	SourceURL     string  `json:"source_url,omitempty"`
}

// SearchResult is a ranked retrieval hit.
type SearchResult struct {
	ScoredChunk
	Rank int `json:"rank"`
}
