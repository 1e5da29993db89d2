package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/docvec/internal/models"
	"github.com/xhad/docvec/internal/types"
)

type VectorStoreConfig struct {
	ConnString string
	VectorDim  int
	Lists      int // ivfflat partitions
	Probes     int // ivfflat partitions visited per scan
	MaxConns   int32
}

// PGStore is the production engine: Postgres with the pgvector extension.
// Scan answers from the ivfflat cosine index, so its ranking is an
// approximation of the exact top-K.
type PGStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
}

// OpenPG connects to Postgres and runs the idempotent startup DDL: the
// vector extension, both tables, the embedding column and the ANN index.
// Close releases the pool.
func OpenPG(ctx context.Context, config VectorStoreConfig) (*PGStore, error) {
	if config.VectorDim == 0 {
		config.VectorDim = models.EmbeddingDim
	}
	if config.Lists == 0 {
		config.Lists = 100
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &PGStore{
		config: config,
		pool:   pool,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func schemaStatements(dim, lists int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS document (
			id BIGSERIAL PRIMARY KEY,
			source_url TEXT NOT NULL,
			title TEXT,
			content TEXT,
			content_hash VARCHAR(64),
			created_at TIMESTAMP DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_document_content_hash ON document (content_hash)`,
		`CREATE TABLE IF NOT EXISTS document_chunk (
			id BIGSERIAL PRIMARY KEY,
			document_id BIGINT REFERENCES document(id) ON DELETE CASCADE,
			chunk_index INTEGER,
			content TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT now()
		)`,
		fmt.Sprintf(`ALTER TABLE document_chunk ADD COLUMN IF NOT EXISTS embedding vector(%d)`, dim),
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_document_chunk_position ON document_chunk (document_id, chunk_index)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_document_chunk_embedding
			ON document_chunk
			USING ivfflat (embedding vector_cosine_ops)
			WITH (lists = %d)`, lists),
	}
}

func (vs *PGStore) initialize(ctx context.Context) error {
	for _, stmt := range schemaStatements(vs.config.VectorDim, vs.config.Lists) {
		if _, err := vs.pool.Exec(ctx, stmt); err != nil {
			return &types.StorageError{Op: "initialize schema", Err: err}
		}
	}

	// For the vector type atttypmod holds the declared dimension.
	var dim int
	err := vs.pool.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'document_chunk'::regclass AND attname = 'embedding'`).Scan(&dim)
	if err != nil {
		return &types.StorageError{Op: "initialize schema", Err: err}
	}
	if dim != vs.config.VectorDim {
		return fmt.Errorf("document_chunk.embedding is vector(%d): %w",
			dim, &types.DimensionMismatchError{Want: vs.config.VectorDim, Got: dim})
	}

	return nil
}

func (vs *PGStore) Dimensions() int { return vs.config.VectorDim }

func (vs *PGStore) CreateDocument(ctx context.Context, doc models.NewDocument) (int64, error) {
	if err := validateDocument(doc); err != nil {
		return 0, err
	}

	var id int64
	err := vs.pool.QueryRow(ctx, `
		INSERT INTO document (source_url, title, content, content_hash)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING id`,
		sanitizeUTF8(doc.SourceURL),
		sanitizeUTF8(doc.Title),
		sanitizeUTF8(doc.Content),
		doc.ContentHash,
	).Scan(&id)
	if err != nil {
		return 0, &types.StorageError{Op: "create document", Err: err}
	}
	return id, nil
}

// AppendChunks writes all chunks in one transaction. The document row is
// locked FOR UPDATE so appends to the same document are serialized while
// other documents proceed.
func (vs *PGStore) AppendChunks(ctx context.Context, documentID int64, chunks []models.NewChunk) ([]int64, error) {
	if err := validateChunks(chunks, vs.config.VectorDim); err != nil {
		return nil, err
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return nil, &types.StorageError{Op: "append chunks", Err: err}
	}
	defer tx.Rollback(ctx)

	var locked int64
	err = tx.QueryRow(ctx, `SELECT id FROM document WHERE id = $1 FOR UPDATE`, documentID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &types.NotFoundError{Kind: "document", ID: documentID}
	}
	if err != nil {
		return nil, &types.StorageError{Op: "append chunks", Err: err}
	}

	var next int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(chunk_index) + 1, 0) FROM document_chunk WHERE document_id = $1`,
		documentID).Scan(&next)
	if err != nil {
		return nil, &types.StorageError{Op: "append chunks", Err: err}
	}

	batch := &pgx.Batch{}
	for i, c := range chunks {
		batch.Queue(`
			INSERT INTO document_chunk (document_id, chunk_index, content, embedding)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			documentID, next+i, sanitizeUTF8(c.Content), vectorParam(c.Embedding))
	}

	br := tx.SendBatch(ctx, batch)
	ids := make([]int64, 0, len(chunks))
	for range chunks {
		var id int64
		if err := br.QueryRow().Scan(&id); err != nil {
			br.Close()
			return nil, &types.StorageError{Op: "append chunks", Err: err}
		}
		ids = append(ids, id)
	}
	if err := br.Close(); err != nil {
		return nil, &types.StorageError{Op: "append chunks", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &types.StorageError{Op: "append chunks", Err: err}
	}

	return ids, nil
}

// DeleteDocument deletes the chunks and then the document explicitly rather
// than relying on the foreign key cascade. Unknown ids are a no-op.
func (vs *PGStore) DeleteDocument(ctx context.Context, id int64) error {
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return &types.StorageError{Op: "delete document", Err: err}
	}
	defer tx.Rollback(ctx)

	var locked int64
	err = tx.QueryRow(ctx, `SELECT id FROM document WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return &types.StorageError{Op: "delete document", Err: err}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM document_chunk WHERE document_id = $1`, id); err != nil {
		return &types.StorageError{Op: "delete document", Err: err}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM document WHERE id = $1`, id); err != nil {
		return &types.StorageError{Op: "delete document", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &types.StorageError{Op: "delete document", Err: err}
	}
	return nil
}

const documentColumns = `id, source_url, COALESCE(title, ''), COALESCE(content, ''), COALESCE(content_hash, ''), created_at`

func (vs *PGStore) GetDocument(ctx context.Context, id int64) (models.Document, error) {
	var doc models.Document
	err := vs.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM document WHERE id = $1`, id).
		Scan(&doc.ID, &doc.SourceURL, &doc.Title, &doc.Content, &doc.ContentHash, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, &types.NotFoundError{Kind: "document", ID: id}
	}
	if err != nil {
		return models.Document{}, &types.StorageError{Op: "get document", Err: err}
	}
	return doc, nil
}

func (vs *PGStore) FindDocument(ctx context.Context, sourceURL, contentHash string) (models.Document, bool, error) {
	var doc models.Document
	err := vs.pool.QueryRow(ctx, `
		SELECT `+documentColumns+` FROM document d
		WHERE source_url = $1 AND content_hash = $2
		  AND EXISTS (SELECT 1 FROM document_chunk c WHERE c.document_id = d.id AND c.embedding IS NOT NULL)
		ORDER BY id DESC
		LIMIT 1`, sourceURL, contentHash).
		Scan(&doc.ID, &doc.SourceURL, &doc.Title, &doc.Content, &doc.ContentHash, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, false, nil
	}
	if err != nil {
		return models.Document{}, false, &types.StorageError{Op: "find document", Err: err}
	}
	return doc, true, nil
}

const chunkColumns = `id, document_id, chunk_index, content, embedding, created_at`

func (vs *PGStore) GetChunk(ctx context.Context, id int64) (models.Chunk, error) {
	row := vs.pool.QueryRow(ctx, `SELECT `+chunkColumns+` FROM document_chunk WHERE id = $1`, id)

	c, err := vs.scanChunk(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Chunk{}, &types.NotFoundError{Kind: "chunk", ID: id}
	}
	if err != nil {
		return models.Chunk{}, wrapStorage("get chunk", err)
	}
	return c, nil
}

func (vs *PGStore) ListChunks(ctx context.Context, documentID int64) ([]models.Chunk, error) {
	if _, err := vs.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}

	rows, err := vs.pool.Query(ctx, `
		SELECT `+chunkColumns+` FROM document_chunk
		WHERE document_id = $1
		ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, &types.StorageError{Op: "list chunks", Err: err}
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		c, err := vs.scanChunk(rows)
		if err != nil {
			return nil, wrapStorage("list chunks", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Op: "list chunks", Err: err}
	}
	return out, nil
}

// Scan orders by cosine distance only so that the ivfflat index can serve
// the query; ties are left to the caller.
func (vs *PGStore) Scan(ctx context.Context, query []float32, limit int) ([]models.ScoredChunk, error) {
	if err := checkQuery(query, vs.config.VectorDim); err != nil {
		return nil, err
	}

	tx, err := vs.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, &types.StorageError{Op: "scan", Err: err}
	}
	defer tx.Rollback(ctx)

	if vs.config.Probes > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL ivfflat.probes = %d", vs.config.Probes)); err != nil {
			return nil, &types.StorageError{Op: "scan", Err: err}
		}
	}

	rows, err := tx.Query(ctx, `
		SELECT dc.id, dc.document_id, dc.chunk_index, dc.content,
			1 - (dc.embedding <=> $1) AS score,
			COALESCE(d.title, ''), d.source_url
		FROM document_chunk dc
		JOIN document d ON d.id = dc.document_id
		WHERE dc.embedding IS NOT NULL
		ORDER BY dc.embedding <=> $1
		LIMIT $2`,
		pgvector.NewVector(query), limit)
	if err != nil {
		return nil, &types.StorageError{Op: "scan", Err: err}
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		var sc models.ScoredChunk
		err := rows.Scan(&sc.ChunkID, &sc.DocumentID, &sc.ChunkIndex, &sc.Content,
			&sc.Score, &sc.DocumentTitle, &sc.SourceURL)
		if err != nil {
			return nil, &types.StorageError{Op: "scan", Err: err}
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Op: "scan", Err: err}
	}

	return out, nil
}

func (vs *PGStore) Close() error {
	if vs.pool != nil {
		vs.pool.Close()
	}
	return nil
}

func (vs *PGStore) scanChunk(row pgx.Row) (models.Chunk, error) {
	var (
		c   models.Chunk
		emb *pgvector.Vector
	)
	if err := row.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &emb, &c.CreatedAt); err != nil {
		return models.Chunk{}, err
	}
	if emb != nil {
		c.Embedding = emb.Slice()
		if len(c.Embedding) != vs.config.VectorDim {
			return models.Chunk{}, &types.CorruptionError{ChunkID: c.ID, Want: vs.config.VectorDim, Got: len(c.Embedding)}
		}
	}
	return c, nil
}

// vectorParam maps a missing embedding to SQL NULL.
func vectorParam(v []float32) any {
	if v == nil {
		return nil
	}
	return pgvector.NewVector(v)
}

var _ types.Store = (*PGStore)(nil)
