package index

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/jackc/pgx/v5"

	"github.com/safelex/safelex/internal/log"
)

// mockEmbedder implements ai.Embedder for testing.
type mockEmbedder struct {
	embedErr    error
	returnEmpty bool
	embeddings  []float32
	callCount   int
	lastInput   string
}

func (m *mockEmbedder) Name() string { return "mock-embedder" }

func (m *mockEmbedder) Register(api.Registry) {}

func (m *mockEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.callCount++
	if len(req.Input) > 0 && len(req.Input[0].Content) > 0 {
		m.lastInput = req.Input[0].Content[0].Text
	}
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	if m.returnEmpty {
		return &ai.EmbedResponse{Embeddings: []*ai.Embedding{{Embedding: []float32{}}}}, nil
	}
	emb := m.embeddings
	if emb == nil {
		emb = []float32{0.1, 0.2, 0.3}
	}
	return &ai.EmbedResponse{Embeddings: []*ai.Embedding{{Embedding: emb}}}, nil
}

// mockQuerier implements Querier for testing.
type mockQuerier struct {
	upsertErr error
	searchErr error
	countErr  error
	deleteErr error

	searchRows []SearchRow
	countVal   int64

	upserts     []UpsertParams
	lastSearch  SearchParams
	searchCalls int
	deletedIDs  []string
}

func (m *mockQuerier) Upsert(_ context.Context, arg UpsertParams) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserts = append(m.upserts, arg)
	return nil
}

func (m *mockQuerier) Search(_ context.Context, arg SearchParams) ([]SearchRow, error) {
	m.searchCalls++
	m.lastSearch = arg
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.searchRows, nil
}

func (m *mockQuerier) Count(_ context.Context, _ string) (int64, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	return m.countVal, nil
}

func (m *mockQuerier) Delete(_ context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deletedIDs = append(m.deletedIDs, id)
	return nil
}

func TestStore_Add(t *testing.T) {
	ctx := context.Background()

	t.Run("embeds and upserts", func(t *testing.T) {
		q := &mockQuerier{}
		emb := &mockEmbedder{}
		store := New(q, emb, log.NewNop())

		doc := Document{
			ID:          "dlgs81-art36",
			Content:     "Il datore di lavoro provvede affinché ciascun lavoratore riceva una adeguata informazione.",
			SourceLabel: "D.Lgs 81/2008 art. 36",
			Metadata:    map[string]string{"titolo": "III"},
			CreatedAt:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		}
		if err := store.Add(ctx, doc); err != nil {
			t.Fatalf("Add() error = %v", err)
		}

		if emb.lastInput != doc.Content {
			t.Errorf("embedder input = %q, want document content", emb.lastInput)
		}
		if len(q.upserts) != 1 {
			t.Fatalf("upsert calls = %d, want 1", len(q.upserts))
		}
		got := q.upserts[0]
		if got.ID != doc.ID || got.SourceLabel != doc.SourceLabel {
			t.Errorf("upsert params = {id:%q source:%q}, want {%q %q}", got.ID, got.SourceLabel, doc.ID, doc.SourceLabel)
		}
		var meta map[string]string
		if err := json.Unmarshal(got.Metadata, &meta); err != nil || meta["titolo"] != "III" {
			t.Errorf("upsert metadata = %s, want titolo=III", got.Metadata)
		}
	})

	t.Run("rejects empty ID", func(t *testing.T) {
		store := New(&mockQuerier{}, &mockEmbedder{}, log.NewNop())
		if err := store.Add(ctx, Document{Content: "x"}); err == nil {
			t.Error("Add() with empty ID succeeded, want error")
		}
	})

	t.Run("rejects empty content", func(t *testing.T) {
		store := New(&mockQuerier{}, &mockEmbedder{}, log.NewNop())
		if err := store.Add(ctx, Document{ID: "d1"}); err == nil {
			t.Error("Add() with empty content succeeded, want error")
		}
	})

	t.Run("embedder failure", func(t *testing.T) {
		emb := &mockEmbedder{embedErr: errors.New("quota exceeded")}
		q := &mockQuerier{}
		store := New(q, emb, log.NewNop())

		err := store.Add(ctx, Document{ID: "d1", Content: "testo"})
		if err == nil {
			t.Fatal("Add() with failing embedder succeeded, want error")
		}
		if len(q.upserts) != 0 {
			t.Error("Add() upserted despite embedding failure")
		}
	})

	t.Run("empty embedding", func(t *testing.T) {
		emb := &mockEmbedder{returnEmpty: true}
		store := New(&mockQuerier{}, emb, log.NewNop())

		if err := store.Add(ctx, Document{ID: "d1", Content: "testo"}); err == nil {
			t.Error("Add() with empty embedding succeeded, want error")
		}
	})
}

func TestStore_Search(t *testing.T) {
	ctx := context.Background()

	t.Run("maps rows to results", func(t *testing.T) {
		q := &mockQuerier{
			searchRows: []SearchRow{
				{
					ID:          "d1",
					Content:     "uso dei DPI",
					SourceLabel: "D.Lgs 81/2008 art. 75",
					Metadata:    []byte(`{"titolo":"III"}`),
					Similarity:  0.91,
				},
				{ID: "d2", Content: "obblighi", Similarity: 0.74},
			},
		}
		store := New(q, &mockEmbedder{}, log.NewNop())

		results, err := store.Search(ctx, "dispositivi di protezione", WithTopK(3), WithMinScore(0.5))
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("Search() returned %d results, want 2", len(results))
		}
		if results[0].Document.ID != "d1" || results[0].Similarity != 0.91 {
			t.Errorf("first result = {%q %v}", results[0].Document.ID, results[0].Similarity)
		}
		if results[0].Document.Metadata["titolo"] != "III" {
			t.Errorf("metadata not parsed: %v", results[0].Document.Metadata)
		}

		if q.lastSearch.Limit != 3 {
			t.Errorf("search limit = %d, want 3", q.lastSearch.Limit)
		}
		if q.lastSearch.MinScore != 0.5 {
			t.Errorf("search minScore = %v, want 0.5", q.lastSearch.MinScore)
		}
	})

	t.Run("default topK", func(t *testing.T) {
		q := &mockQuerier{}
		store := New(q, &mockEmbedder{}, log.NewNop())

		if _, err := store.Search(ctx, "query"); err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if q.lastSearch.Limit != 5 {
			t.Errorf("default search limit = %d, want 5", q.lastSearch.Limit)
		}
	})

	t.Run("source filter", func(t *testing.T) {
		q := &mockQuerier{}
		store := New(q, &mockEmbedder{}, log.NewNop())

		if _, err := store.Search(ctx, "query", WithSource("D.Lgs 81/2008")); err != nil {
			t.Fatal(err)
		}
		if q.lastSearch.SourceLabel != "D.Lgs 81/2008" {
			t.Errorf("search source = %q", q.lastSearch.SourceLabel)
		}
	})

	t.Run("invalid topK", func(t *testing.T) {
		store := New(&mockQuerier{}, &mockEmbedder{}, log.NewNop())
		if _, err := store.Search(ctx, "query", WithTopK(0)); err == nil {
			t.Error("Search() with topK=0 succeeded, want error")
		}
	})

	t.Run("embedder failure", func(t *testing.T) {
		emb := &mockEmbedder{embedErr: errors.New("unavailable")}
		q := &mockQuerier{}
		store := New(q, emb, log.NewNop())

		if _, err := store.Search(ctx, "query"); err == nil {
			t.Fatal("Search() with failing embedder succeeded, want error")
		}
		if q.searchCalls != 0 {
			t.Error("Search() queried the database despite embedding failure")
		}
	})

	t.Run("malformed metadata degrades to nil", func(t *testing.T) {
		q := &mockQuerier{
			searchRows: []SearchRow{{ID: "d1", Content: "x", Metadata: []byte("{broken"), Similarity: 0.8}},
		}
		store := New(q, &mockEmbedder{}, log.NewNop())

		results, err := store.Search(ctx, "query")
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if results[0].Document.Metadata != nil {
			t.Errorf("metadata = %v, want nil", results[0].Document.Metadata)
		}
	})
}

func TestStore_Count(t *testing.T) {
	q := &mockQuerier{countVal: 42}
	store := New(q, &mockEmbedder{}, log.NewNop())

	n, err := store.Count(context.Background(), "")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 42 {
		t.Errorf("Count() = %d, want 42", n)
	}
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes by ID", func(t *testing.T) {
		q := &mockQuerier{}
		store := New(q, &mockEmbedder{}, log.NewNop())

		if err := store.Delete(ctx, "d1"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if len(q.deletedIDs) != 1 || q.deletedIDs[0] != "d1" {
			t.Errorf("deleted IDs = %v, want [d1]", q.deletedIDs)
		}
	})

	t.Run("unknown ID", func(t *testing.T) {
		q := &mockQuerier{deleteErr: pgx.ErrNoRows}
		store := New(q, &mockEmbedder{}, log.NewNop())

		err := store.Delete(ctx, "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Delete() error = %v, want ErrNotFound", err)
		}
	})
}
