package conversation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AddMessageParams carries one message insert.
type AddMessageParams struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Identity  string
	Role      string
	Content   string
	Seq       int32
}

// Querier defines the database operations the conversation store needs.
// The interface is defined here, by the consumer, so tests can substitute
// an in-memory implementation.
type Querier interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id uuid.UUID) (Session, error)
	ListSessions(ctx context.Context, identity string, limit, offset int32) ([]Session, error)
	DeleteSession(ctx context.Context, id uuid.UUID, identity string) (int64, error)

	// LockSession serializes transcript writers for one session. Only
	// meaningful inside a transaction.
	LockSession(ctx context.Context, id uuid.UUID) error
	MaxSeq(ctx context.Context, sessionID uuid.UUID) (int32, error)
	AddMessage(ctx context.Context, arg AddMessageParams) error
	GetMessages(ctx context.Context, sessionID uuid.UUID, limit, offset int32) ([]Message, error)

	IncrementUsage(ctx context.Context, identity string) (int64, error)
	GetUsage(ctx context.Context, identity string) (int64, error)

	// WithTx returns a Querier whose operations run on the given
	// transaction.
	WithTx(tx pgx.Tx) Querier
}

// dbtx is the subset of pgx shared by pools and transactions.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgxQuerier struct {
	db dbtx
}

// NewQuerier returns a Querier backed by a pgx connection pool.
func NewQuerier(pool *pgxpool.Pool) Querier {
	return &pgxQuerier{db: pool}
}

func (q *pgxQuerier) WithTx(tx pgx.Tx) Querier {
	return &pgxQuerier{db: tx}
}

func (q *pgxQuerier) CreateSession(ctx context.Context, s Session) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO chat_sessions (id, identity, title, created_at) VALUES ($1, $2, $3, $4)`,
		s.ID, s.Identity, s.Title, s.CreatedAt)
	return err
}

func (q *pgxQuerier) GetSession(ctx context.Context, id uuid.UUID) (Session, error) {
	var s Session
	err := q.db.QueryRow(ctx,
		`SELECT id, identity, title, created_at FROM chat_sessions WHERE id = $1`,
		id).Scan(&s.ID, &s.Identity, &s.Title, &s.CreatedAt)
	return s, err
}

func (q *pgxQuerier) ListSessions(ctx context.Context, identity string, limit, offset int32) ([]Session, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, identity, title, created_at
		 FROM chat_sessions
		 WHERE identity = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		identity, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Identity, &s.Title, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q *pgxQuerier) DeleteSession(ctx context.Context, id uuid.UUID, identity string) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`DELETE FROM chat_sessions WHERE id = $1 AND identity = $2`,
		id, identity)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *pgxQuerier) LockSession(ctx context.Context, id uuid.UUID) error {
	var locked uuid.UUID
	return q.db.QueryRow(ctx,
		`SELECT id FROM chat_sessions WHERE id = $1 FOR UPDATE`,
		id).Scan(&locked)
}

func (q *pgxQuerier) MaxSeq(ctx context.Context, sessionID uuid.UUID) (int32, error) {
	var maxSeq int32
	err := q.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM chat_messages WHERE session_id = $1`,
		sessionID).Scan(&maxSeq)
	return maxSeq, err
}

func (q *pgxQuerier) AddMessage(ctx context.Context, arg AddMessageParams) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO chat_messages (id, session_id, identity, role, content, seq)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		arg.ID, arg.SessionID, arg.Identity, arg.Role, arg.Content, arg.Seq)
	return err
}

func (q *pgxQuerier) GetMessages(ctx context.Context, sessionID uuid.UUID, limit, offset int32) ([]Message, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, session_id, identity, role, content, seq, created_at
		 FROM chat_messages
		 WHERE session_id = $1
		 ORDER BY seq ASC
		 LIMIT $2 OFFSET $3`,
		sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Identity, &m.Role, &m.Content, &m.Seq, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (q *pgxQuerier) IncrementUsage(ctx context.Context, identity string) (int64, error) {
	var used int64
	err := q.db.QueryRow(ctx,
		`INSERT INTO account_usage (identity, questions_used, updated_at)
		 VALUES ($1, 1, NOW())
		 ON CONFLICT (identity) DO UPDATE SET
		     questions_used = account_usage.questions_used + 1,
		     updated_at     = NOW()
		 RETURNING questions_used`,
		identity).Scan(&used)
	return used, err
}

func (q *pgxQuerier) GetUsage(ctx context.Context, identity string) (int64, error) {
	var used int64
	err := q.db.QueryRow(ctx,
		`SELECT questions_used FROM account_usage WHERE identity = $1`,
		identity).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return used, err
}
