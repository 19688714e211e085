package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/safelex/safelex/internal/conversation"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ConversationStore is the slice of the conversation layer the HTTP
// handlers consume.
type ConversationStore interface {
	Session(ctx context.Context, identity string, id uuid.UUID) (conversation.Session, error)
	Sessions(ctx context.Context, identity string, limit, offset int32) ([]conversation.Session, error)
	Messages(ctx context.Context, sessionID uuid.UUID, limit, offset int32) ([]conversation.Message, error)
	Delete(ctx context.Context, sessionID uuid.UUID, identity string) error
}

type sessionHandler struct {
	convs  ConversationStore
	logger *slog.Logger
}

type sessionResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

type messageResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Seq       int32     `json:"seq"`
	CreatedAt time.Time `json:"createdAt"`
}

// list handles GET /api/v1/sessions.
func (h *sessionHandler) list(w http.ResponseWriter, r *http.Request) {
	identity := effectiveIdentity(r, r.URL.Query().Get("identity"))
	if identity == "" {
		writeError(w, http.StatusInternalServerError, "identity_missing", "internal server error", h.logger)
		return
	}

	limit, offset := pagination(r)
	sessions, err := h.convs.Sessions(r.Context(), identity, limit, offset)
	if err != nil {
		h.logger.Error("listing sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse{
			ID:        s.ID.String(),
			Title:     s.Title,
			CreatedAt: s.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// messages handles GET /api/v1/sessions/{id}/messages.
func (h *sessionHandler) messages(w http.ResponseWriter, r *http.Request) {
	identity := effectiveIdentity(r, r.URL.Query().Get("identity"))
	if identity == "" {
		writeError(w, http.StatusInternalServerError, "identity_missing", "internal server error", h.logger)
		return
	}

	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "Identificativo di sessione non valido.", h.logger)
		return
	}

	// Ownership check before reading the transcript.
	if _, err := h.convs.Session(r.Context(), identity, sessionID); err != nil {
		if errors.Is(err, conversation.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session_not_found", "Sessione non trovata.", h.logger)
			return
		}
		h.logger.Error("loading session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}

	limit, offset := pagination(r)
	msgs, err := h.convs.Messages(r.Context(), sessionID, limit, offset)
	if err != nil {
		h.logger.Error("loading messages", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}

	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse{
			ID:        m.ID.String(),
			Role:      m.Role,
			Content:   m.Content,
			Seq:       m.Seq,
			CreatedAt: m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

// delete handles DELETE /api/v1/sessions/{id}.
func (h *sessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	identity := effectiveIdentity(r, r.URL.Query().Get("identity"))
	if identity == "" {
		writeError(w, http.StatusInternalServerError, "identity_missing", "internal server error", h.logger)
		return
	}

	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "Identificativo di sessione non valido.", h.logger)
		return
	}

	if err := h.convs.Delete(r.Context(), sessionID, identity); err != nil {
		if errors.Is(err, conversation.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session_not_found", "Sessione non trovata.", h.logger)
			return
		}
		h.logger.Error("deleting session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// pagination reads limit/offset query parameters with sane bounds.
func pagination(r *http.Request) (limit, offset int32) {
	limit = defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = int32(min(n, maxPageSize))
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			offset = int32(n)
		}
	}
	return limit, offset
}
