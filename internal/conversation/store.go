package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store manages conversation persistence on PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	querier Querier
	pool    *pgxpool.Pool
	logger  *slog.Logger
}

// New creates a Store. The pool is required for transactional appends; it
// may be nil in unit tests that exercise only non-transactional reads.
// A nil logger falls back to slog.Default.
func New(querier Querier, pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		querier: querier,
		pool:    pool,
		logger:  logger,
	}
}

// EnsureSession resolves the session a turn belongs to. With id == uuid.Nil
// a new session is created, titled from the question. An existing id must
// belong to identity, otherwise ErrSessionNotFound.
func (s *Store) EnsureSession(ctx context.Context, identity string, id uuid.UUID, question string) (Session, error) {
	if id == uuid.Nil {
		sess := Session{
			ID:        uuid.New(),
			Identity:  identity,
			Title:     titleFromQuestion(question),
			CreatedAt: time.Now().UTC(),
		}
		if err := s.querier.CreateSession(ctx, sess); err != nil {
			return Session{}, fmt.Errorf("create session: %w", err)
		}
		s.logger.Debug("created session", "id", sess.ID, "title", sess.Title)
		return sess, nil
	}

	return s.Session(ctx, identity, id)
}

// Session fetches a session owned by identity. A session that exists but
// belongs to someone else is reported as ErrSessionNotFound so ownership
// cannot be probed.
func (s *Store) Session(ctx context.Context, identity string, id uuid.UUID) (Session, error) {
	sess, err := s.querier.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return Session{}, fmt.Errorf("get session %s: %w", id, err)
	}
	if sess.Identity != identity {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// AppendTurn atomically appends the user question and assistant answer to
// the session transcript and bumps the identity's usage counter. Returns
// the updated lifetime usage count.
//
// The session row is locked for the duration of the transaction so
// concurrent turns on one session serialize and sequence numbers stay
// dense.
func (s *Store) AppendTurn(ctx context.Context, turn Turn) (int64, error) {
	if s.pool == nil {
		return 0, errors.New("conversation: store has no pool, transactional append unavailable")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	txq := s.querier.WithTx(tx)

	if err := txq.LockSession(ctx, turn.SessionID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrSessionNotFound, turn.SessionID)
		}
		return 0, fmt.Errorf("lock session: %w", err)
	}

	maxSeq, err := txq.MaxSeq(ctx, turn.SessionID)
	if err != nil {
		return 0, fmt.Errorf("max sequence: %w", err)
	}

	pair := []AddMessageParams{
		{
			ID:        uuid.New(),
			SessionID: turn.SessionID,
			Identity:  turn.Identity,
			Role:      RoleUser,
			Content:   turn.Question,
			Seq:       maxSeq + 1,
		},
		{
			ID:        uuid.New(),
			SessionID: turn.SessionID,
			Identity:  turn.Identity,
			Role:      RoleAssistant,
			Content:   turn.Answer,
			Seq:       maxSeq + 2,
		},
	}
	for _, msg := range pair {
		if err := txq.AddMessage(ctx, msg); err != nil {
			return 0, fmt.Errorf("insert %s message: %w", msg.Role, err)
		}
	}

	used, err := txq.IncrementUsage(ctx, turn.Identity)
	if err != nil {
		return 0, fmt.Errorf("increment usage: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Debug("appended turn",
		"session_id", turn.SessionID,
		"seq", maxSeq+2,
		"questions_used", used,
	)
	return used, nil
}

// Messages returns a session transcript ordered by sequence number.
func (s *Store) Messages(ctx context.Context, sessionID uuid.UUID, limit, offset int32) ([]Message, error) {
	msgs, err := s.querier.GetMessages(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get messages for %s: %w", sessionID, err)
	}
	return msgs, nil
}

// Sessions lists an identity's sessions, newest first.
func (s *Store) Sessions(ctx context.Context, identity string, limit, offset int32) ([]Session, error) {
	sessions, err := s.querier.ListSessions(ctx, identity, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Delete removes a session and its messages. Unknown or foreign sessions
// return ErrSessionNotFound.
func (s *Store) Delete(ctx context.Context, sessionID uuid.UUID, identity string) error {
	n, err := s.querier.DeleteSession(ctx, sessionID, identity)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	s.logger.Debug("deleted session", "id", sessionID)
	return nil
}

// Usage returns an identity's lifetime question count.
func (s *Store) Usage(ctx context.Context, identity string) (int64, error) {
	used, err := s.querier.GetUsage(ctx, identity)
	if err != nil {
		return 0, fmt.Errorf("get usage: %w", err)
	}
	return used, nil
}
