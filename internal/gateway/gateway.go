// Package gateway orchestrates one chat turn end to end: quota admission,
// passage retrieval, prompt assembly, model completion, and transactional
// persistence.
//
// The quota slot reserved at admission is refunded whenever the turn fails
// after admission, so only delivered answers consume quota. Persistence
// runs on a context detached from the client's so a dropped connection
// cannot lose an already-generated answer.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/safelex/safelex/internal/completion"
	"github.com/safelex/safelex/internal/conversation"
	"github.com/safelex/safelex/internal/prompt"
	"github.com/safelex/safelex/internal/quota"
	"github.com/safelex/safelex/internal/retrieval"
)

// maxQuestionRunes bounds a single question. Longer inputs are rejected,
// not truncated.
const maxQuestionRunes = 4000

// Admitter is the slice of the quota limiter the gateway consumes.
type Admitter interface {
	Admit(ctx context.Context, identity string) (quota.Decision, error)
	Refund(ctx context.Context, identity string, windowStart time.Time) error
}

// PassageRetriever fetches reference passages for a question.
type PassageRetriever interface {
	Retrieve(ctx context.Context, question string) []retrieval.Passage
}

// Completer produces the model answer for an assembled prompt.
type Completer interface {
	Complete(ctx context.Context, req prompt.Request) (string, error)
}

// Conversations is the slice of the conversation store the gateway
// consumes.
type Conversations interface {
	EnsureSession(ctx context.Context, identity string, id uuid.UUID, question string) (conversation.Session, error)
	AppendTurn(ctx context.Context, turn conversation.Turn) (int64, error)
}

// TurnRequest is one incoming chat turn.
type TurnRequest struct {
	Identity  string
	SessionID uuid.UUID // uuid.Nil starts a new session
	Question  string
}

// TurnResponse is a delivered answer with its quota accounting.
type TurnResponse struct {
	SessionID uuid.UUID
	Answer    string
	Passages  int // passages that grounded the answer
	Remaining int
	Limit     int
}

// Gateway runs chat turns. All collaborators are injected as interfaces;
// Gateway holds no mutable state and is safe for concurrent use.
type Gateway struct {
	admitter  Admitter
	retriever PassageRetriever
	assembler *prompt.Assembler
	completer Completer
	convs     Conversations

	failOpen       bool
	persistTimeout time.Duration
	logger         *slog.Logger
}

// Option configures the Gateway.
type Option func(*Gateway)

// WithFailOpen lets turns proceed unmetered when the quota store is
// unreachable. Intended for free tiers where availability beats strict
// metering; paid tiers leave this off.
func WithFailOpen(on bool) Option {
	return func(g *Gateway) {
		g.failOpen = on
	}
}

// WithPersistTimeout bounds the detached persistence step. Default is
// 10 seconds.
func WithPersistTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.persistTimeout = d
		}
	}
}

// New creates a Gateway. A nil logger falls back to slog.Default.
func New(admitter Admitter, retriever PassageRetriever, assembler *prompt.Assembler, completer Completer, convs Conversations, logger *slog.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		admitter:       admitter,
		retriever:      retriever,
		assembler:      assembler,
		completer:      completer,
		convs:          convs,
		persistTimeout: 10 * time.Second,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handle runs one turn. On success the returned response carries the
// answer and the identity's remaining quota; on failure the error is
// always a *TurnError.
func (g *Gateway) Handle(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return TurnResponse{}, &TurnError{
			Kind:    KindBadRequest,
			Message: "La domanda non può essere vuota.",
		}
	}
	if len([]rune(question)) > maxQuestionRunes {
		return TurnResponse{}, &TurnError{
			Kind:    KindBadRequest,
			Message: fmt.Sprintf("La domanda supera il limite di %d caratteri.", maxQuestionRunes),
		}
	}
	if req.Identity == "" {
		return TurnResponse{}, &TurnError{
			Kind:    KindBadRequest,
			Message: "Identità mancante.",
		}
	}

	decision, metered, terr := g.admit(ctx, req.Identity)
	if terr != nil {
		return TurnResponse{}, terr
	}

	// refund returns the reserved slot after a post-admission failure.
	refund := func() {
		if !metered {
			return
		}
		if err := g.admitter.Refund(context.WithoutCancel(ctx), req.Identity, decision.WindowStart); err != nil {
			g.logger.Warn("quota refund failed", "identity", req.Identity, "error", err)
		}
	}

	sess, err := g.convs.EnsureSession(ctx, req.Identity, req.SessionID, question)
	if err != nil {
		refund()
		if errors.Is(err, conversation.ErrSessionNotFound) {
			return TurnResponse{}, &TurnError{
				Kind:    KindBadRequest,
				Message: "Sessione non trovata.",
				Err:     err,
			}
		}
		return TurnResponse{}, &TurnError{
			Kind:    KindPersistence,
			Message: "Si è verificato un errore interno. Riprova tra poco.",
			Err:     err,
		}
	}

	passages := g.retriever.Retrieve(ctx, question)
	promptReq := g.assembler.Assemble(question, passages)

	answer, err := g.completer.Complete(ctx, promptReq)
	if err != nil {
		refund()
		return TurnResponse{}, classifyCompletion(err)
	}

	// The answer exists; persist it even if the client has gone away.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.persistTimeout)
	defer cancel()

	turn := conversation.Turn{
		SessionID: sess.ID,
		Identity:  req.Identity,
		Question:  question,
		Answer:    answer,
	}
	if _, err := g.convs.AppendTurn(persistCtx, turn); err != nil {
		// One immediate retry covers transient pool hiccups.
		if _, retryErr := g.convs.AppendTurn(persistCtx, turn); retryErr != nil {
			refund()
			return TurnResponse{}, &TurnError{
				Kind:    KindPersistence,
				Message: "Si è verificato un errore interno. Riprova tra poco.",
				Err:     fmt.Errorf("append turn: %w", retryErr),
			}
		}
	}

	g.logger.Info("turn completed",
		"session_id", sess.ID,
		"passages", len(passages),
		"remaining", decision.Remaining,
	)
	return TurnResponse{
		SessionID: sess.ID,
		Answer:    answer,
		Passages:  len(passages),
		Remaining: decision.Remaining,
		Limit:     decision.Limit,
	}, nil
}

// admit reserves a quota slot. metered reports whether a slot was actually
// taken; it is false when the store is down and the gateway fails open.
func (g *Gateway) admit(ctx context.Context, identity string) (quota.Decision, bool, *TurnError) {
	decision, err := g.admitter.Admit(ctx, identity)
	if err != nil {
		if errors.Is(err, quota.ErrStoreUnavailable) && g.failOpen {
			g.logger.Warn("quota store unavailable, failing open", "identity", identity, "error", err)
			return quota.Decision{Allowed: true, Remaining: -1, Limit: -1}, false, nil
		}
		return quota.Decision{}, false, &TurnError{
			Kind:    KindQuotaUnavailable,
			Message: "Servizio momentaneamente non disponibile. Riprova tra poco.",
			Err:     err,
		}
	}
	if !decision.Allowed {
		return quota.Decision{}, false, &TurnError{
			Kind:       KindAdmissionDenied,
			Message:    "Limite domande raggiunto. Riprova più tardi.",
			RetryAfter: decision.ResetIn,
		}
	}
	return decision, true, nil
}

// classifyCompletion maps completion errors onto turn errors.
func classifyCompletion(err error) *TurnError {
	switch {
	case errors.Is(err, completion.ErrUnauthorized):
		return &TurnError{
			Kind:    KindUpstreamAuth,
			Message: "Servizio momentaneamente non disponibile.",
			Err:     err,
		}
	case errors.Is(err, completion.ErrOverloaded):
		return &TurnError{
			Kind:       KindUpstreamOverload,
			Message:    "Il servizio è sovraccarico. Riprova tra poco.",
			RetryAfter: 30 * time.Second,
			Err:        err,
		}
	case errors.Is(err, completion.ErrMalformed):
		return &TurnError{
			Kind:    KindUpstreamMalformed,
			Message: "Mi dispiace, non sono riuscito a generare una risposta. Riprova.",
			Err:     err,
		}
	default:
		return &TurnError{
			Kind:    KindUpstream,
			Message: "Si è verificato un errore durante la generazione della risposta. Riprova tra poco.",
			Err:     err,
		}
	}
}
