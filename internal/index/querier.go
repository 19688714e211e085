package index

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// UpsertParams carries one document ready for persistence.
type UpsertParams struct {
	ID          string
	Content     string
	SourceLabel string
	Metadata    []byte
	Embedding   *pgvector.Vector
	CreatedAt   time.Time
}

// SearchParams carries a ranked similarity query.
type SearchParams struct {
	QueryEmbedding *pgvector.Vector
	SourceLabel    string // empty matches all sources
	MinScore       float32
	Limit          int32
}

// SearchRow is one row of a similarity search.
type SearchRow struct {
	ID          string
	Content     string
	SourceLabel string
	Metadata    []byte
	CreatedAt   time.Time
	Similarity  float32
}

// Querier defines the database operations the index needs. The interface
// is defined here, by the consumer, so tests can substitute an in-memory
// implementation.
type Querier interface {
	Upsert(ctx context.Context, arg UpsertParams) error
	Search(ctx context.Context, arg SearchParams) ([]SearchRow, error)
	Count(ctx context.Context, sourceLabel string) (int64, error)
	Delete(ctx context.Context, id string) error
}

type pgxQuerier struct {
	pool *pgxpool.Pool
}

// NewQuerier returns a Querier backed by a pgx connection pool.
func NewQuerier(pool *pgxpool.Pool) Querier {
	return &pgxQuerier{pool: pool}
}

const upsertSQL = `
INSERT INTO documents (id, content, source_label, metadata, embedding, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    content      = EXCLUDED.content,
    source_label = EXCLUDED.source_label,
    metadata     = EXCLUDED.metadata,
    embedding    = EXCLUDED.embedding
`

func (q *pgxQuerier) Upsert(ctx context.Context, arg UpsertParams) error {
	_, err := q.pool.Exec(ctx, upsertSQL,
		arg.ID, arg.Content, arg.SourceLabel, arg.Metadata, arg.Embedding, arg.CreatedAt)
	return err
}

// searchSQL ranks by cosine distance; similarity = 1 - distance.
// The source filter collapses to TRUE when no label is given.
const searchSQL = `
SELECT id, content, source_label, metadata, created_at,
       1 - (embedding <=> $1) AS similarity
FROM documents
WHERE ($2 = '' OR source_label = $2)
  AND 1 - (embedding <=> $1) >= $3
ORDER BY embedding <=> $1
LIMIT $4
`

func (q *pgxQuerier) Search(ctx context.Context, arg SearchParams) ([]SearchRow, error) {
	rows, err := q.pool.Query(ctx, searchSQL,
		arg.QueryEmbedding, arg.SourceLabel, arg.MinScore, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchRow
	for rows.Next() {
		var r SearchRow
		if err := rows.Scan(&r.ID, &r.Content, &r.SourceLabel, &r.Metadata, &r.CreatedAt, &r.Similarity); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *pgxQuerier) Count(ctx context.Context, sourceLabel string) (int64, error) {
	var count int64
	err := q.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM documents WHERE ($1 = '' OR source_label = $1)`,
		sourceLabel).Scan(&count)
	return count, err
}

func (q *pgxQuerier) Delete(ctx context.Context, id string) error {
	tag, err := q.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
