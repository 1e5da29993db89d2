package store

import (
	"context"
	"sync"
	"time"

	"github.com/xhad/docvec/internal/models"
	"github.com/xhad/docvec/internal/types"
)

// MemoryStore keeps documents and chunks in process memory. Its scan is
// exact, which makes it the reference engine for tests.
type MemoryStore struct {
	dim   int
	locks documentLocks

	mu        sync.RWMutex
	nextDoc   int64
	nextChunk int64
	docs      map[int64]models.Document
	chunks    map[int64][]models.Chunk
	owner     map[int64]int64
}

func NewMemory(dim int) *MemoryStore {
	if dim == 0 {
		dim = models.EmbeddingDim
	}
	return &MemoryStore{
		dim:    dim,
		docs:   make(map[int64]models.Document),
		chunks: make(map[int64][]models.Chunk),
		owner:  make(map[int64]int64),
	}
}

func (s *MemoryStore) Dimensions() int { return s.dim }

func (s *MemoryStore) CreateDocument(ctx context.Context, doc models.NewDocument) (int64, error) {
	if err := validateDocument(doc); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextDoc++
	s.docs[s.nextDoc] = models.Document{
		ID:          s.nextDoc,
		SourceURL:   doc.SourceURL,
		Title:       doc.Title,
		Content:     doc.Content,
		ContentHash: doc.ContentHash,
		CreatedAt:   time.Now().UTC(),
	}
	return s.nextDoc, nil
}

func (s *MemoryStore) AppendChunks(ctx context.Context, documentID int64, chunks []models.NewChunk) ([]int64, error) {
	if err := validateChunks(chunks, s.dim); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(documentID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[documentID]; !ok {
		return nil, &types.NotFoundError{Kind: "document", ID: documentID}
	}

	existing := s.chunks[documentID]
	now := time.Now().UTC()
	ids := make([]int64, 0, len(chunks))
	for _, c := range chunks {
		s.nextChunk++
		existing = append(existing, models.Chunk{
			ID:         s.nextChunk,
			DocumentID: documentID,
			ChunkIndex: len(existing),
			Content:    c.Content,
			Embedding:  cloneVector(c.Embedding),
			CreatedAt:  now,
		})
		s.owner[s.nextChunk] = documentID
		ids = append(ids, s.nextChunk)
	}
	s.chunks[documentID] = existing

	return ids, nil
}

// DeleteDocument removes the document and every chunk it owns. Unknown ids
// are ignored.
func (s *MemoryStore) DeleteDocument(ctx context.Context, id int64) error {
	unlock := s.locks.lock(id)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.chunks[id] {
		delete(s.owner, c.ID)
	}
	delete(s.chunks, id)
	delete(s.docs, id)
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id int64) (models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return models.Document{}, &types.NotFoundError{Kind: "document", ID: id}
	}
	return doc, nil
}

func (s *MemoryStore) FindDocument(_ context.Context, sourceURL, contentHash string) (models.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found models.Document
	for _, doc := range s.docs {
		if doc.SourceURL == sourceURL && doc.ContentHash == contentHash && doc.ID > found.ID && s.embedded(doc.ID) {
			found = doc
		}
	}
	return found, found.ID != 0, nil
}

// embedded reports whether the document owns at least one embedded chunk.
// Callers hold s.mu.
func (s *MemoryStore) embedded(documentID int64) bool {
	for _, c := range s.chunks[documentID] {
		if c.Embedding != nil {
			return true
		}
	}
	return false
}

func (s *MemoryStore) GetChunk(_ context.Context, id int64) (models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docID, ok := s.owner[id]
	if !ok {
		return models.Chunk{}, &types.NotFoundError{Kind: "chunk", ID: id}
	}
	for _, c := range s.chunks[docID] {
		if c.ID == id {
			c.Embedding = cloneVector(c.Embedding)
			return c, nil
		}
	}
	return models.Chunk{}, &types.NotFoundError{Kind: "chunk", ID: id}
}

func (s *MemoryStore) ListChunks(_ context.Context, documentID int64) ([]models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.docs[documentID]; !ok {
		return nil, &types.NotFoundError{Kind: "document", ID: documentID}
	}

	out := make([]models.Chunk, len(s.chunks[documentID]))
	copy(out, s.chunks[documentID])
	for i := range out {
		out[i].Embedding = cloneVector(out[i].Embedding)
	}
	return out, nil
}

func (s *MemoryStore) Scan(ctx context.Context, query []float32, limit int) ([]models.ScoredChunk, error) {
	if err := checkQuery(query, s.dim); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var scored []models.ScoredChunk
	for docID, chunks := range s.chunks {
		doc := s.docs[docID]
		for _, c := range chunks {
			if c.Embedding == nil {
				continue
			}
			if len(c.Embedding) != s.dim {
				return nil, &types.CorruptionError{ChunkID: c.ID, Want: s.dim, Got: len(c.Embedding)}
			}
			score, ok := cosine(query, c.Embedding)
			if !ok {
				continue
			}
			scored = append(scored, models.ScoredChunk{
				ChunkID:       c.ID,
				DocumentID:    docID,
				ChunkIndex:    c.ChunkIndex,
				Content:       c.Content,
				Score:         score,
				DocumentTitle: doc.Title,
				SourceURL:     doc.SourceURL,
			})
		}
	}

	return rankExact(scored, limit), nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	return append([]float32(nil), v...)
}

var _ types.Store = (*MemoryStore)(nil)
