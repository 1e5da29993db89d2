// Package retriever answers top-K similarity queries over stored chunk
// embeddings.
//
// Results are best-effort. The Postgres engine ranks candidates with an
// approximate ivfflat index, so a search may miss chunks that an exhaustive
// cosine scan would have returned. Raising the store's probe count trades
// speed for recall. The SQLite and in-memory engines scan exactly.
package retriever

import (
	"context"
	"fmt"
	"sort"

	"github.com/xhad/docvec/internal/models"
	"github.com/xhad/docvec/internal/types"
)

type Config struct {
	DefaultTopK int
	// OverFetch multiplies the scan limit when results are filtered after
	// ranking, so that the per-document cap still leaves TopK results.
	OverFetch int
	// MaxScanLimit bounds how far the scan limit is doubled.
	MaxScanLimit int
}

// Query describes one search. Zero values mean defaults: TopK falls back to
// Config.DefaultTopK, MaxPerDocument 0 is unbounded, MinScore 0 keeps every
// result.
type Query struct {
	Vector         []float32
	TopK           int
	MaxPerDocument int
	Offset         int
	MinScore       float64
}

// Retriever ranks chunks by cosine similarity to a query vector, highest
// first, breaking ties by the smaller chunk id. Like its store, it is
// approximate when backed by an ANN index.
type Retriever struct {
	store    types.Store
	embedder types.Embedder
	config   Config
}

// New creates a Retriever. embedder may be nil when only vector queries are
// issued.
func New(store types.Store, embedder types.Embedder, config Config) *Retriever {
	if config.DefaultTopK <= 0 {
		config.DefaultTopK = 5
	}
	if config.OverFetch <= 0 {
		config.OverFetch = 4
	}
	if config.MaxScanLimit <= 0 {
		config.MaxScanLimit = 10000
	}
	return &Retriever{store: store, embedder: embedder, config: config}
}

// Search returns up to TopK ranked results after skipping Offset of them.
// MaxPerDocument is applied after ranking, before pagination.
func (r *Retriever) Search(ctx context.Context, q Query) ([]models.SearchResult, error) {
	if dim := r.store.Dimensions(); len(q.Vector) != dim {
		return nil, &types.DimensionMismatchError{Want: dim, Got: len(q.Vector)}
	}
	if q.Offset < 0 {
		return nil, &types.ValidationError{Field: "offset", Message: "offset cannot be negative"}
	}
	if q.MaxPerDocument < 0 {
		return nil, &types.ValidationError{Field: "max_per_document", Message: "max_per_document cannot be negative"}
	}
	if q.MinScore < 0 {
		return nil, &types.ValidationError{Field: "min_score", Message: "min_score cannot be negative"}
	}
	if q.TopK <= 0 {
		q.TopK = r.config.DefaultTopK
	}

	want := q.Offset + q.TopK
	limit := want
	if q.MaxPerDocument > 0 || q.MinScore > 0 {
		limit = want * r.config.OverFetch
	}
	limit = min(limit, max(r.config.MaxScanLimit, want))

	var kept []models.ScoredChunk
	for {
		scanned, err := r.store.Scan(ctx, q.Vector, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunks: %w", err)
		}
		rank(scanned)

		kept = filter(scanned, q.MaxPerDocument, q.MinScore)
		exhausted := len(scanned) < limit
		belowFloor := q.MinScore > 0 && len(scanned) > 0 && scanned[len(scanned)-1].Score < q.MinScore
		if len(kept) >= want || exhausted || belowFloor || limit >= r.config.MaxScanLimit {
			break
		}
		limit = min(limit*2, r.config.MaxScanLimit)
	}

	if q.Offset >= len(kept) {
		return []models.SearchResult{}, nil
	}
	kept = kept[q.Offset:min(len(kept), want)]

	results := make([]models.SearchResult, len(kept))
	for i, c := range kept {
		results[i] = models.SearchResult{ScoredChunk: c, Rank: q.Offset + i + 1}
	}
	return results, nil
}

// SearchText embeds text and searches with the resulting vector. q.Vector
// is ignored.
func (r *Retriever) SearchText(ctx context.Context, text string, q Query) ([]models.SearchResult, error) {
	if r.embedder == nil {
		return nil, fmt.Errorf("retriever has no embedder for text queries")
	}

	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	q.Vector = vec
	return r.Search(ctx, q)
}

// rank sorts by score descending, then chunk id ascending. Index scans
// order by distance only, so ties arrive in engine order.
func rank(chunks []models.ScoredChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].ChunkID < chunks[j].ChunkID
	})
}

// filter drops results under minScore and keeps at most maxPerDocument
// results per document, preserving order.
func filter(ranked []models.ScoredChunk, maxPerDocument int, minScore float64) []models.ScoredChunk {
	perDocument := make(map[int64]int)
	kept := make([]models.ScoredChunk, 0, len(ranked))

	for _, c := range ranked {
		if minScore > 0 && c.Score < minScore {
			break
		}
		if maxPerDocument > 0 && perDocument[c.DocumentID] >= maxPerDocument {
			continue
		}
		perDocument[c.DocumentID]++
		kept = append(kept, c)
	}
	return kept
}
