package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/safelex/safelex/internal/gateway"
)

// maxChatBody bounds the request body. Questions are capped at 4000 runes
// downstream, so anything past this is noise.
const maxChatBody = 64 << 10

// TurnGateway runs one chat turn end to end.
type TurnGateway interface {
	Handle(ctx context.Context, req gateway.TurnRequest) (gateway.TurnResponse, error)
}

type chatHandler struct {
	gw     TurnGateway
	logger *slog.Logger
}

type chatRequest struct {
	// Identity optionally names the caller explicitly; when empty the
	// provisioned uid cookie applies.
	Identity  string `json:"identity,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Content   string `json:"content"`
}

type chatResponse struct {
	SessionID string `json:"sessionId"`
	Response  string `json:"response"`
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
}

// send handles POST /api/v1/chat.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Corpo della richiesta non valido.", h.logger)
		return
	}

	identity := effectiveIdentity(r, req.Identity)
	if identity == "" {
		writeError(w, http.StatusInternalServerError, "identity_missing", "internal server error", h.logger)
		return
	}

	sessionID := uuid.Nil
	if req.SessionID != "" {
		parsed, err := uuid.Parse(req.SessionID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_session_id", "Identificativo di sessione non valido.", h.logger)
			return
		}
		sessionID = parsed
	}

	resp, err := h.gw.Handle(r.Context(), gateway.TurnRequest{
		Identity:  identity,
		SessionID: sessionID,
		Question:  req.Content,
	})
	if err != nil {
		var te *gateway.TurnError
		if errors.As(err, &te) {
			writeTurnError(w, te, h.logger)
			return
		}
		h.logger.Error("chat turn failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID: resp.SessionID.String(),
		Response:  resp.Answer,
		Remaining: resp.Remaining,
		Limit:     resp.Limit,
	})
}
