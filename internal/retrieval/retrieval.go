// Package retrieval turns a user question into a ranked set of reference
// passages for prompt grounding.
//
// Retrieval is best-effort: when the underlying search fails or times out,
// the retriever degrades to an empty passage set instead of failing the
// turn. An answer without citations beats no answer.
package retrieval

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/safelex/safelex/internal/index"
)

const (
	minTopK = 1
	maxTopK = 10

	defaultTimeout = 10 * time.Second
)

// Passage is one retrieved reference snippet, ready for prompt assembly.
type Passage struct {
	Content    string
	Source     string  // provenance label shown alongside the citation
	Similarity float32 // cosine similarity to the question
}

// Searcher is the slice of the document index the retriever consumes.
type Searcher interface {
	Search(ctx context.Context, query string, opts ...index.SearchOption) ([]index.Result, error)
}

// Retriever fetches reference passages for a question.
//
// Safe for concurrent use.
type Retriever struct {
	searcher Searcher
	topK     int
	minScore float32
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures the Retriever.
type Option func(*Retriever)

// WithTopK sets how many passages to request. Values outside [1, 10] are
// clamped.
func WithTopK(k int) Option {
	return func(r *Retriever) {
		r.topK = k
	}
}

// WithMinScore drops passages below the given cosine similarity.
func WithMinScore(score float32) Option {
	return func(r *Retriever) {
		r.minScore = score
	}
}

// WithTimeout bounds a single retrieval. Default is 10 seconds.
func WithTimeout(d time.Duration) Option {
	return func(r *Retriever) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// New creates a Retriever over the given searcher. A nil logger falls back
// to slog.Default.
func New(searcher Searcher, logger *slog.Logger, opts ...Option) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Retriever{
		searcher: searcher,
		topK:     3,
		timeout:  defaultTimeout,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.topK < minTopK {
		r.topK = minTopK
	}
	if r.topK > maxTopK {
		r.topK = maxTopK
	}
	return r
}

// Retrieve returns the passages most relevant to question, ordered by
// descending similarity. A blank question, a search failure, or a timeout
// all yield an empty slice and no error.
func (r *Retriever) Retrieve(ctx context.Context, question string) []Passage {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil
	}

	searchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := []index.SearchOption{index.WithTopK(r.topK)}
	if r.minScore > 0 {
		opts = append(opts, index.WithMinScore(r.minScore))
	}

	results, err := r.searcher.Search(searchCtx, question, opts...)
	if err != nil {
		r.logger.Warn("retrieval degraded to empty context", "error", err)
		return nil
	}

	passages := make([]Passage, 0, len(results))
	for _, res := range results {
		content := strings.TrimSpace(res.Document.Content)
		if content == "" {
			continue
		}
		passages = append(passages, Passage{
			Content:    content,
			Source:     res.Document.SourceLabel,
			Similarity: res.Similarity,
		})
	}

	r.logger.Debug("retrieved passages", "count", len(passages), "top_k", r.topK)
	return passages
}
