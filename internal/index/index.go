// Package index stores reference documents with vector embeddings and
// serves cosine-similarity search over them.
//
// Documents are embedded once at ingestion time through the configured
// embedder and persisted in PostgreSQL with pgvector. Search embeds the
// query with the same embedder and ranks stored documents by cosine
// similarity.
package index

import "time"

// Document is a unit of reference material in the index.
type Document struct {
	ID          string            // unique identifier, stable across re-ingestion
	Content     string            // document text
	SourceLabel string            // human-readable provenance, e.g. "D.Lgs 81/2008 art. 36"
	Metadata    map[string]string // optional structured attributes
	CreatedAt   time.Time
}

// Result is a single search hit with its similarity score.
type Result struct {
	Document   Document
	Similarity float32 // cosine similarity in [0, 1]
}

// SearchOption configures search behavior using the functional options
// pattern.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK     int
	minScore float32
	source   string
}

// WithTopK sets the maximum number of results to return. Default is 5.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		c.topK = k
	}
}

// WithMinScore drops results whose cosine similarity is below the
// threshold. Default is 0 (no threshold).
func WithMinScore(score float32) SearchOption {
	return func(c *searchConfig) {
		c.minScore = score
	}
}

// WithSource restricts search to documents carrying the given source
// label.
func WithSource(label string) SearchOption {
	return func(c *searchConfig) {
		c.source = label
	}
}

func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{topK: 5}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
