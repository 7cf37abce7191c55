package store

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/docqa/internal/models"
)

const uniqueViolation = "23505"

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	// IndexLists is the ivfflat list count.
	IndexLists int
}

// Pool is the subset of *pgxpool.Pool used by VectorStore.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// VectorStore is a pgvector backed index. Entries persist across restarts.
type VectorStore struct {
	config VectorStoreConfig
	pool   Pool
	table  string
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.ConnString == "" {
		return nil, errors.New("pgvector: connection string is required")
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("pgvector: connect: %w", err)
	}

	vs, err := NewWithPool(ctx, pool, config)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return vs, nil
}

// NewWithPool creates the schema on pool if needed and returns the store.
func NewWithPool(ctx context.Context, pool Pool, config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "chunks"
	}
	if config.VectorDim <= 0 {
		config.VectorDim = 768
	}
	if config.IndexLists <= 0 {
		config.IndexLists = 100
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
		table:  pgx.Identifier{config.TableName}.Sanitize(),
	}
	if err := vs.initialize(ctx); err != nil {
		return nil, err
	}
	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("pgvector: create extension: %w", err)
	}

	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq BIGSERIAL,
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB
		)`, vs.table, vs.config.VectorDim)
	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("pgvector: create table: %w", err)
	}

	createIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s
		USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d)`,
		pgx.Identifier{vs.config.TableName + "_embedding_idx"}.Sanitize(), vs.table, vs.config.IndexLists)
	if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("pgvector: create index: %w", err)
	}
	return nil
}

// Add inserts every entry in one transaction. An id that already exists
// aborts the whole batch with ErrDuplicateID.
func (vs *VectorStore) Add(ctx context.Context, entries []models.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if _, err := checkBatch(entries, vs.config.VectorDim); err != nil {
		return err
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgvector: begin: %w", err)
	}

	stmt := fmt.Sprintf(`INSERT INTO %s (id, source, content, chunk_index, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`, vs.table)

	for _, e := range entries {
		_, err := tx.Exec(ctx, stmt,
			e.ID,
			sanitizeUTF8(metaString(e.Metadata, "source")),
			sanitizeUTF8(e.Text),
			metaInt(e.Metadata, "chunk_index"),
			pgvector.NewVector(e.Embedding),
			e.Metadata,
		)
		if err != nil {
			_ = tx.Rollback(ctx)
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
			}
			return fmt.Errorf("pgvector: insert %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgvector: commit: %w", err)
	}
	return nil
}

func (vs *VectorStore) Query(ctx context.Context, vector []float32, k int) ([]models.Match, error) {
	k = normalizeK(k)
	if len(vector) != vs.config.VectorDim {
		return nil, fmt.Errorf("%w: query has %d dimensions, want %d", ErrDimensionMismatch, len(vector), vs.config.VectorDim)
	}

	query := fmt.Sprintf(`SELECT id, content, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1, seq
		LIMIT $2`, vs.table)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("pgvector: query: %w", err)
	}
	defer rows.Close()

	matches := make([]models.Match, 0, k)
	for rows.Next() {
		var m models.Match
		if err := rows.Scan(&m.ID, &m.Text, &m.Metadata, &m.Score); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: rows: %w", err)
	}
	return matches, nil
}

func (vs *VectorStore) Clear(ctx context.Context) error {
	if _, err := vs.pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s", vs.table)); err != nil {
		return fmt.Errorf("pgvector: truncate: %w", err)
	}
	return nil
}

func (vs *VectorStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := vs.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", vs.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgvector: count: %w", err)
	}
	return n, nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

func metaString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func metaInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// sanitizeUTF8 drops invalid bytes, which postgres rejects in TEXT columns.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(s[i:]); size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}
