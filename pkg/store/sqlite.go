package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xhad/docvec/internal/models"
	"github.com/xhad/docvec/internal/types"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS document (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_url TEXT NOT NULL,
	title TEXT,
	content TEXT,
	content_hash TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_document_content_hash ON document (content_hash);
CREATE TABLE IF NOT EXISTS document_chunk (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id INTEGER NOT NULL REFERENCES document(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	embedding BLOB,
	created_at TEXT NOT NULL,
	UNIQUE (document_id, chunk_index)
);
`

// SQLiteStore persists documents in SQLite with embeddings stored as
// float32 BLOBs. SQLite has no vector index, so Scan ranks every embedded
// chunk exactly. SQLite admits one writer at a time, so all writes are
// serialized by the engine.
type SQLiteStore struct {
	dim int
	db  *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string, dim int) (*SQLiteStore, error) {
	if dim == 0 {
		dim = models.EmbeddingDim
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared and avoids
	// SQLITE_BUSY between concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{dim: dim, db: db}, nil
}

func (s *SQLiteStore) Dimensions() int { return s.dim }

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc models.NewDocument) (int64, error) {
	if err := validateDocument(doc); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO document (source_url, title, content, content_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		doc.SourceURL, doc.Title, doc.Content, nullString(doc.ContentHash), formatTime(time.Now()),
	)
	if err != nil {
		return 0, &types.StorageError{Op: "create document", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &types.StorageError{Op: "create document", Err: err}
	}
	return id, nil
}

func (s *SQLiteStore) AppendChunks(ctx context.Context, documentID int64, chunks []models.NewChunk) ([]int64, error) {
	if err := validateChunks(chunks, s.dim); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &types.StorageError{Op: "append chunks", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE((SELECT MAX(chunk_index) + 1 FROM document_chunk WHERE document_id = d.id), 0)
		 FROM document d WHERE d.id = ?`, documentID,
	).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Kind: "document", ID: documentID}
	}
	if err != nil {
		return nil, &types.StorageError{Op: "append chunks", Err: err}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO document_chunk (document_id, chunk_index, content, embedding, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, &types.StorageError{Op: "append chunks", Err: err}
	}
	defer stmt.Close()

	now := formatTime(time.Now())
	ids := make([]int64, 0, len(chunks))
	for i, c := range chunks {
		res, err := stmt.ExecContext(ctx, documentID, next+i, c.Content, embeddingParam(c.Embedding), now)
		if err != nil {
			return nil, &types.StorageError{Op: "append chunks", Err: err}
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, &types.StorageError{Op: "append chunks", Err: err}
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, &types.StorageError{Op: "append chunks", Err: err}
	}
	return ids, nil
}

// DeleteDocument removes the chunks and then the document in one
// transaction. Unknown ids are a no-op.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &types.StorageError{Op: "delete document", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunk WHERE document_id = ?`, id); err != nil {
		return &types.StorageError{Op: "delete document", Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM document WHERE id = ?`, id); err != nil {
		return &types.StorageError{Op: "delete document", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &types.StorageError{Op: "delete document", Err: err}
	}
	return nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id int64) (models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_url, title, content, content_hash, created_at FROM document WHERE id = ?`, id)

	doc, err := scanSQLiteDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Document{}, &types.NotFoundError{Kind: "document", ID: id}
	}
	if err != nil {
		return models.Document{}, &types.StorageError{Op: "get document", Err: err}
	}
	return doc, nil
}

func (s *SQLiteStore) FindDocument(ctx context.Context, sourceURL, contentHash string) (models.Document, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_url, title, content, content_hash, created_at FROM document d
		 WHERE source_url = ? AND content_hash = ?
		   AND EXISTS (SELECT 1 FROM document_chunk c WHERE c.document_id = d.id AND c.embedding IS NOT NULL)
		 ORDER BY id DESC LIMIT 1`, sourceURL, contentHash)

	doc, err := scanSQLiteDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Document{}, false, nil
	}
	if err != nil {
		return models.Document{}, false, &types.StorageError{Op: "find document", Err: err}
	}
	return doc, true, nil
}

func (s *SQLiteStore) GetChunk(ctx context.Context, id int64) (models.Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, chunk_index, content, embedding, created_at FROM document_chunk WHERE id = ?`, id)

	c, err := s.scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chunk{}, &types.NotFoundError{Kind: "chunk", ID: id}
	}
	if err != nil {
		return models.Chunk{}, wrapStorage("get chunk", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListChunks(ctx context.Context, documentID int64) ([]models.Chunk, error) {
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, chunk_index, content, embedding, created_at FROM document_chunk
		 WHERE document_id = ? ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, &types.StorageError{Op: "list chunks", Err: err}
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		c, err := s.scanChunk(rows)
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

func (s *SQLiteStore) Scan(ctx context.Context, query []float32, limit int) ([]models.ScoredChunk, error) {
	if err := checkQuery(query, s.dim); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT dc.id, dc.document_id, dc.chunk_index, dc.content, dc.embedding, d.title, d.source_url
		FROM document_chunk dc
		JOIN document d ON d.id = dc.document_id
		WHERE dc.embedding IS NOT NULL`)
	if err != nil {
		return nil, &types.StorageError{Op: "scan", Err: err}
	}
	defer rows.Close()

	var scored []models.ScoredChunk
	for rows.Next() {
		var (
			sc    models.ScoredChunk
			blob  []byte
			title sql.NullString
		)
		if err := rows.Scan(&sc.ChunkID, &sc.DocumentID, &sc.ChunkIndex, &sc.Content, &blob, &title, &sc.SourceURL); err != nil {
			return nil, &types.StorageError{Op: "scan", Err: err}
		}
		vec, err := decodeEmbedding(blob)
		if err != nil || len(vec) != s.dim {
			return nil, &types.CorruptionError{ChunkID: sc.ChunkID, Want: s.dim, Got: len(blob) / 4}
		}
		score, ok := cosine(query, vec)
		if !ok {
			continue
		}
		sc.Score = score
		sc.DocumentTitle = title.String
		scored = append(scored, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Op: "scan", Err: err}
	}

	return rankExact(scored, limit), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteDocument(row rowScanner) (models.Document, error) {
	var (
		doc                  models.Document
		title, content, hash sql.NullString
		createdAt            string
	)
	if err := row.Scan(&doc.ID, &doc.SourceURL, &title, &content, &hash, &createdAt); err != nil {
		return models.Document{}, err
	}
	doc.Title = title.String
	doc.Content = content.String
	doc.ContentHash = hash.String
	doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return doc, nil
}

func (s *SQLiteStore) scanChunk(row rowScanner) (models.Chunk, error) {
	var (
		c         models.Chunk
		blob      []byte
		createdAt string
	)
	if err := row.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &blob, &createdAt); err != nil {
		return models.Chunk{}, err
	}
	vec, err := decodeEmbedding(blob)
	if err != nil || (vec != nil && len(vec) != s.dim) {
		return models.Chunk{}, &types.CorruptionError{ChunkID: c.ID, Want: s.dim, Got: len(blob) / 4}
	}
	c.Embedding = vec
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return c, nil
}

// wrapStorage leaves typed domain errors untouched and wraps everything
// else as a StorageError.
func wrapStorage(op string, err error) error {
	var corrupt *types.CorruptionError
	if errors.As(err, &corrupt) {
		return err
	}
	return &types.StorageError{Op: op, Err: err}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

var _ types.Store = (*SQLiteStore)(nil)
