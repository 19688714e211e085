package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/safelex/safelex/internal/quota"
)

// QuotaReader reports quota standing without consuming a slot.
type QuotaReader interface {
	Status(ctx context.Context, identity string) (quota.Decision, error)
}

type limitsHandler struct {
	quota  QuotaReader
	logger *slog.Logger
}

type limitsResponse struct {
	Allowed   bool   `json:"allowed"`
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
	ResetIn   int    `json:"resetIn"` // seconds until the window rolls
	Message   string `json:"message"`
}

// check handles GET /api/v1/limits. Frontends poll this before enabling
// the input box, so it must never consume quota.
func (h *limitsHandler) check(w http.ResponseWriter, r *http.Request) {
	identity := effectiveIdentity(r, r.URL.Query().Get("identity"))
	if identity == "" {
		writeError(w, http.StatusInternalServerError, "identity_missing", "internal server error", h.logger)
		return
	}

	d, err := h.quota.Status(r.Context(), identity)
	if err != nil {
		h.logger.Error("quota status failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "quota_unavailable", "Servizio momentaneamente non disponibile. Riprova tra poco.", h.logger)
		return
	}

	msg := fmt.Sprintf("Richieste rimanenti: %d", d.Remaining)
	if !d.Allowed {
		msg = "Limite domande raggiunto. Riprova più tardi."
	}

	writeJSON(w, http.StatusOK, limitsResponse{
		Allowed:   d.Allowed,
		Remaining: d.Remaining,
		Limit:     d.Limit,
		ResetIn:   int(d.ResetIn / time.Second),
		Message:   msg,
	})
}
