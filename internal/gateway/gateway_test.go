package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/safelex/safelex/internal/completion"
	"github.com/safelex/safelex/internal/conversation"
	"github.com/safelex/safelex/internal/log"
	"github.com/safelex/safelex/internal/prompt"
	"github.com/safelex/safelex/internal/quota"
	"github.com/safelex/safelex/internal/retrieval"
)

type fakeAdmitter struct {
	decision quota.Decision
	err      error

	admits  int
	refunds int
}

func (f *fakeAdmitter) Admit(context.Context, string) (quota.Decision, error) {
	f.admits++
	if f.err != nil {
		return quota.Decision{}, f.err
	}
	return f.decision, nil
}

func (f *fakeAdmitter) Refund(context.Context, string, time.Time) error {
	f.refunds++
	return nil
}

type fakeRetriever struct {
	passages []retrieval.Passage
	calls    int
}

func (f *fakeRetriever) Retrieve(context.Context, string) []retrieval.Passage {
	f.calls++
	return f.passages
}

type fakeCompleter struct {
	answer string
	err    error

	calls    int
	lastUser string
}

func (f *fakeCompleter) Complete(_ context.Context, req prompt.Request) (string, error) {
	f.calls++
	f.lastUser = req.User
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

type fakeConversations struct {
	session    conversation.Session
	sessionErr error

	appendErrs []error // consumed one per AppendTurn call
	appends    []conversation.Turn
}

func (f *fakeConversations) EnsureSession(_ context.Context, identity string, id uuid.UUID, question string) (conversation.Session, error) {
	if f.sessionErr != nil {
		return conversation.Session{}, f.sessionErr
	}
	if f.session.ID == uuid.Nil {
		f.session = conversation.Session{ID: uuid.New(), Identity: identity}
	}
	return f.session, nil
}

func (f *fakeConversations) AppendTurn(_ context.Context, turn conversation.Turn) (int64, error) {
	if len(f.appendErrs) > 0 {
		err := f.appendErrs[0]
		f.appendErrs = f.appendErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	f.appends = append(f.appends, turn)
	return int64(len(f.appends)), nil
}

type fixture struct {
	admitter  *fakeAdmitter
	retriever *fakeRetriever
	completer *fakeCompleter
	convs     *fakeConversations
	gw        *Gateway
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		admitter: &fakeAdmitter{
			decision: quota.Decision{
				Allowed:     true,
				Remaining:   2,
				Limit:       3,
				WindowStart: time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
			},
		},
		retriever: &fakeRetriever{},
		completer: &fakeCompleter{answer: "Il DVR è obbligatorio per tutte le aziende con lavoratori."},
		convs:     &fakeConversations{},
	}
	f.gw = New(f.admitter, f.retriever, prompt.New("persona"), f.completer, f.convs, log.NewNop(), opts...)
	return f
}

func turnReq() TurnRequest {
	return TurnRequest{Identity: "user-1", Question: "Cos'è il DVR?"}
}

func asTurnError(t *testing.T, err error) *TurnError {
	t.Helper()
	var te *TurnError
	if !errors.As(err, &te) {
		t.Fatalf("error = %T (%v), want *TurnError", err, err)
	}
	return te
}

func TestHandle_Success(t *testing.T) {
	f := newFixture()
	f.retriever.passages = []retrieval.Passage{
		{Content: "Il DVR è il Documento di Valutazione dei Rischi.", Source: "D.Lgs 81/2008 art. 28"},
	}

	resp, err := f.gw.Handle(context.Background(), turnReq())
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if resp.Answer != f.completer.answer {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.SessionID == uuid.Nil {
		t.Error("response carries no session ID")
	}
	if resp.Remaining != 2 || resp.Limit != 3 {
		t.Errorf("quota in response = %d/%d, want 2/3", resp.Remaining, resp.Limit)
	}
	if resp.Passages != 1 {
		t.Errorf("passages = %d, want 1", resp.Passages)
	}

	if len(f.convs.appends) != 1 {
		t.Fatalf("persisted turns = %d, want 1", len(f.convs.appends))
	}
	turn := f.convs.appends[0]
	if turn.Question != "Cos'è il DVR?" || turn.Answer != f.completer.answer {
		t.Errorf("persisted turn = %+v", turn)
	}
	if f.admitter.refunds != 0 {
		t.Errorf("refunds = %d, want 0 on success", f.admitter.refunds)
	}
}

func TestHandle_BadRequests(t *testing.T) {
	long := make([]rune, 4001)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name string
		req  TurnRequest
	}{
		{"blank question", TurnRequest{Identity: "user-1", Question: "   "}},
		{"missing identity", TurnRequest{Question: "domanda"}},
		{"oversized question", TurnRequest{Identity: "user-1", Question: string(long)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.gw.Handle(context.Background(), tt.req)
			te := asTurnError(t, err)
			if te.Kind != KindBadRequest {
				t.Errorf("kind = %s, want bad_request", te.Kind)
			}
			if f.admitter.admits != 0 {
				t.Error("invalid request consumed an admission")
			}
		})
	}
}

func TestHandle_AdmissionDenied(t *testing.T) {
	f := newFixture()
	f.admitter.decision = quota.Decision{Allowed: false, ResetIn: 3 * time.Hour, Limit: 3}

	_, err := f.gw.Handle(context.Background(), turnReq())
	te := asTurnError(t, err)
	if te.Kind != KindAdmissionDenied {
		t.Errorf("kind = %s, want admission_denied", te.Kind)
	}
	if te.RetryAfter != 3*time.Hour {
		t.Errorf("retryAfter = %v, want 3h", te.RetryAfter)
	}

	if f.retriever.calls != 0 || f.completer.calls != 0 {
		t.Error("denied turn reached retrieval or completion")
	}
	if len(f.convs.appends) != 0 {
		t.Error("denied turn was persisted")
	}
	if f.admitter.refunds != 0 {
		t.Error("denied turn triggered a refund")
	}
}

func TestHandle_QuotaStoreDown(t *testing.T) {
	t.Run("fails closed by default", func(t *testing.T) {
		f := newFixture()
		f.admitter.err = fmt.Errorf("%w: connection refused", quota.ErrStoreUnavailable)

		_, err := f.gw.Handle(context.Background(), turnReq())
		te := asTurnError(t, err)
		if te.Kind != KindQuotaUnavailable {
			t.Errorf("kind = %s, want quota_unavailable", te.Kind)
		}
		if f.completer.calls != 0 {
			t.Error("turn proceeded despite failing closed")
		}
	})

	t.Run("fail-open proceeds unmetered", func(t *testing.T) {
		f := newFixture(WithFailOpen(true))
		f.admitter.err = fmt.Errorf("%w: connection refused", quota.ErrStoreUnavailable)

		resp, err := f.gw.Handle(context.Background(), turnReq())
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if resp.Remaining != -1 || resp.Limit != -1 {
			t.Errorf("unmetered response quota = %d/%d, want -1/-1", resp.Remaining, resp.Limit)
		}
	})

	t.Run("fail-open failure skips refund", func(t *testing.T) {
		f := newFixture(WithFailOpen(true))
		f.admitter.err = fmt.Errorf("%w: connection refused", quota.ErrStoreUnavailable)
		f.completer.err = fmt.Errorf("%w: 503", completion.ErrOverloaded)

		_, err := f.gw.Handle(context.Background(), turnReq())
		asTurnError(t, err)
		if f.admitter.refunds != 0 {
			t.Error("unmetered turn refunded a slot it never took")
		}
	})
}

func TestHandle_SessionNotFound(t *testing.T) {
	f := newFixture()
	f.convs.sessionErr = fmt.Errorf("%w: abc", conversation.ErrSessionNotFound)

	_, err := f.gw.Handle(context.Background(), turnReq())
	te := asTurnError(t, err)
	if te.Kind != KindBadRequest {
		t.Errorf("kind = %s, want bad_request", te.Kind)
	}
	if f.admitter.refunds != 1 {
		t.Errorf("refunds = %d, want 1", f.admitter.refunds)
	}
	if f.completer.calls != 0 {
		t.Error("turn reached completion without a session")
	}
}

func TestHandle_CompletionFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind ErrorKind
	}{
		{"auth", fmt.Errorf("%w: 401", completion.ErrUnauthorized), KindUpstreamAuth},
		{"overload", fmt.Errorf("%w: 429", completion.ErrOverloaded), KindUpstreamOverload},
		{"malformed", fmt.Errorf("%w: empty", completion.ErrMalformed), KindUpstreamMalformed},
		{"timeout", fmt.Errorf("%w: deadline", completion.ErrTimeout), KindUpstream},
		{"other", &completion.UpstreamError{Err: errors.New("boom")}, KindUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.completer.err = tt.err

			_, err := f.gw.Handle(context.Background(), turnReq())
			te := asTurnError(t, err)
			if te.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", te.Kind, tt.wantKind)
			}

			// A failed completion must refund the slot and persist nothing.
			if f.admitter.refunds != 1 {
				t.Errorf("refunds = %d, want 1", f.admitter.refunds)
			}
			if len(f.convs.appends) != 0 {
				t.Error("failed turn was persisted")
			}
		})
	}
}

func TestHandle_EmptyRetrievalProceeds(t *testing.T) {
	f := newFixture()
	f.retriever.passages = nil

	resp, err := f.gw.Handle(context.Background(), turnReq())
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if resp.Passages != 0 {
		t.Errorf("passages = %d, want 0", resp.Passages)
	}
	// Without passages the question reaches the model unchanged.
	if f.completer.lastUser != "Cos'è il DVR?" {
		t.Errorf("model prompt = %q", f.completer.lastUser)
	}
}

func TestHandle_PersistenceRetry(t *testing.T) {
	t.Run("one transient failure recovers", func(t *testing.T) {
		f := newFixture()
		f.convs.appendErrs = []error{errors.New("connection reset")}

		resp, err := f.gw.Handle(context.Background(), turnReq())
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if resp.Answer == "" {
			t.Error("answer lost despite successful retry")
		}
		if len(f.convs.appends) != 1 {
			t.Errorf("persisted turns = %d, want 1", len(f.convs.appends))
		}
	})

	t.Run("persistent failure refunds and reports", func(t *testing.T) {
		f := newFixture()
		f.convs.appendErrs = []error{errors.New("down"), errors.New("still down")}

		_, err := f.gw.Handle(context.Background(), turnReq())
		te := asTurnError(t, err)
		if te.Kind != KindPersistence {
			t.Errorf("kind = %s, want persistence", te.Kind)
		}
		if f.admitter.refunds != 1 {
			t.Errorf("refunds = %d, want 1", f.admitter.refunds)
		}
	})
}

func TestHandle_PersistsAfterClientGone(t *testing.T) {
	f := newFixture()

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // client disconnected before persistence

	// Completion and persistence fakes ignore ctx, so the turn reaches the
	// append step; the detached context must let it through.
	resp, err := f.gw.Handle(ctx, turnReq())
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(f.convs.appends) != 1 {
		t.Errorf("persisted turns = %d, want 1", len(f.convs.appends))
	}
	_ = resp
}
