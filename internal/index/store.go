package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// ErrNotFound is returned when a document ID does not exist in the index.
var ErrNotFound = errors.New("index: document not found")

// Store manages indexed documents with vector search.
// It handles embedding generation and similarity search using
// PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	queries  Querier
	embedder ai.Embedder
	logger   *slog.Logger
}

// New creates a Store. A nil logger falls back to slog.Default.
func New(querier Querier, embedder ai.Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		queries:  querier,
		embedder: embedder,
		logger:   logger,
	}
}

// Add embeds a document's content and upserts it into the index.
// Re-adding an existing ID replaces its content and embedding.
func (s *Store) Add(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return errors.New("document ID must not be empty")
	}
	if doc.Content == "" {
		return fmt.Errorf("document %q has no content", doc.ID)
	}

	vec, err := s.embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embed document %q: %w", doc.ID, err)
	}

	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata for %q: %w", doc.ID, err)
	}

	if err := s.queries.Upsert(ctx, UpsertParams{
		ID:          doc.ID,
		Content:     doc.Content,
		SourceLabel: doc.SourceLabel,
		Metadata:    metadataJSON,
		Embedding:   vec,
		CreatedAt:   doc.CreatedAt,
	}); err != nil {
		return fmt.Errorf("upsert document %q: %w", doc.ID, err)
	}

	s.logger.Debug("indexed document", "id", doc.ID, "source", doc.SourceLabel, "content_length", len(doc.Content))
	return nil
}

// Search returns the documents most similar to query, ordered by descending
// cosine similarity.
//
// Example:
//
//	results, err := store.Search(ctx, "obblighi del datore di lavoro",
//	    index.WithTopK(3),
//	    index.WithMinScore(0.5))
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	cfg := buildSearchConfig(opts)
	if cfg.topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", cfg.topK)
	}

	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.queries.Search(ctx, SearchParams{
		QueryEmbedding: vec,
		SourceLabel:    cfg.source,
		MinScore:       cfg.minScore,
		Limit:          int32(cfg.topK),
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		var metadata map[string]string
		if len(row.Metadata) > 0 {
			if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
				s.logger.Warn("unparseable document metadata", "document_id", row.ID, "error", err)
				metadata = nil
			}
		}
		results = append(results, Result{
			Document: Document{
				ID:          row.ID,
				Content:     row.Content,
				SourceLabel: row.SourceLabel,
				Metadata:    metadata,
				CreatedAt:   row.CreatedAt,
			},
			Similarity: row.Similarity,
		})
	}
	return results, nil
}

// Count returns the number of indexed documents, optionally restricted to
// one source label. An empty label counts everything.
func (s *Store) Count(ctx context.Context, sourceLabel string) (int, error) {
	count, err := s.queries.Count(ctx, sourceLabel)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	if count > math.MaxInt {
		return 0, fmt.Errorf("document count %d exceeds platform int capacity", count)
	}
	return int(count), nil
}

// Delete removes a document by ID. Deleting an unknown ID returns
// ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.queries.Delete(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("delete document %q: %w", id, err)
	}
	s.logger.Debug("deleted document", "id", id)
	return nil
}

// embed runs content through the embedder and validates the response.
func (s *Store) embed(ctx context.Context, content string) (*pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(content)}},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("embedder returned an empty embedding")
	}
	vec := pgvector.NewVector(resp.Embeddings[0].Embedding)
	return &vec, nil
}
