package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/safelex/safelex/internal/index"
	"github.com/safelex/safelex/internal/log"
)

// mockSearcher implements Searcher for testing.
type mockSearcher struct {
	results []index.Result
	err     error
	delay   time.Duration

	calls     int
	lastQuery string
	lastOpts  int
}

func (m *mockSearcher) Search(ctx context.Context, query string, opts ...index.SearchOption) ([]index.Result, error) {
	m.calls++
	m.lastQuery = query
	m.lastOpts = len(opts)

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.results, nil
}

func TestRetriever_Retrieve(t *testing.T) {
	ctx := context.Background()

	t.Run("maps results to passages", func(t *testing.T) {
		s := &mockSearcher{
			results: []index.Result{
				{
					Document:   index.Document{Content: "Il datore di lavoro valuta tutti i rischi.", SourceLabel: "D.Lgs 81/2008 art. 28"},
					Similarity: 0.88,
				},
				{
					Document:   index.Document{Content: "I lavoratori ricevono formazione adeguata.", SourceLabel: "D.Lgs 81/2008 art. 37"},
					Similarity: 0.71,
				},
			},
		}
		r := New(s, log.NewNop())

		passages := r.Retrieve(ctx, "chi valuta i rischi?")
		if len(passages) != 2 {
			t.Fatalf("Retrieve() returned %d passages, want 2", len(passages))
		}
		if passages[0].Source != "D.Lgs 81/2008 art. 28" {
			t.Errorf("passage source = %q", passages[0].Source)
		}
		if passages[0].Similarity != 0.88 {
			t.Errorf("passage similarity = %v, want 0.88", passages[0].Similarity)
		}
	})

	t.Run("trims the question", func(t *testing.T) {
		s := &mockSearcher{}
		r := New(s, log.NewNop())

		r.Retrieve(ctx, "  quali sono gli obblighi?  ")
		if s.lastQuery != "quali sono gli obblighi?" {
			t.Errorf("search query = %q, want trimmed", s.lastQuery)
		}
	})

	t.Run("blank question skips search", func(t *testing.T) {
		s := &mockSearcher{}
		r := New(s, log.NewNop())

		if got := r.Retrieve(ctx, "   "); got != nil {
			t.Errorf("Retrieve(blank) = %v, want nil", got)
		}
		if s.calls != 0 {
			t.Error("blank question reached the searcher")
		}
	})

	t.Run("search failure degrades to empty", func(t *testing.T) {
		s := &mockSearcher{err: errors.New("connection refused")}
		r := New(s, log.NewNop())

		if got := r.Retrieve(ctx, "query"); got != nil {
			t.Errorf("Retrieve() on failure = %v, want nil", got)
		}
	})

	t.Run("timeout degrades to empty", func(t *testing.T) {
		s := &mockSearcher{delay: 200 * time.Millisecond}
		r := New(s, log.NewNop(), WithTimeout(20*time.Millisecond))

		start := time.Now()
		got := r.Retrieve(ctx, "query")
		if got != nil {
			t.Errorf("Retrieve() on timeout = %v, want nil", got)
		}
		if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
			t.Errorf("Retrieve() blocked %v past its timeout", elapsed)
		}
	})

	t.Run("drops empty passages", func(t *testing.T) {
		s := &mockSearcher{
			results: []index.Result{
				{Document: index.Document{Content: "   "}, Similarity: 0.9},
				{Document: index.Document{Content: "testo valido"}, Similarity: 0.8},
			},
		}
		r := New(s, log.NewNop())

		passages := r.Retrieve(ctx, "query")
		if len(passages) != 1 {
			t.Fatalf("Retrieve() returned %d passages, want 1", len(passages))
		}
		if passages[0].Content != "testo valido" {
			t.Errorf("passage content = %q", passages[0].Content)
		}
	})
}

func TestRetriever_TopKClamping(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{"zero clamps to 1", 0, 1},
		{"negative clamps to 1", -3, 1},
		{"in range unchanged", 7, 7},
		{"over max clamps to 10", 50, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(&mockSearcher{}, log.NewNop(), WithTopK(tt.in))
			if r.topK != tt.want {
				t.Errorf("topK = %d, want %d", r.topK, tt.want)
			}
		})
	}
}
