package payment

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/checkout-core/internal/common"
)

// Handler exposes payment session status and cancellation over HTTP.
type Handler struct {
	Sessions *Manager
}

// Status handles GET /payments/{orderCode}.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "orderCode")
	s, err := h.Sessions.ByOrderCode(code)
	if err != nil {
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "payment session not found", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": s.Snapshot()})
}

// Cancel handles POST /payments/{orderCode}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "orderCode")
	s, err := h.Sessions.ByOrderCode(code)
	if err != nil {
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "payment session not found", nil)
		return
	}
	if err := s.Cancel(r.Context()); err != nil {
		if errors.Is(err, ErrAlreadyTerminal) {
			common.JSONError(w, http.StatusConflict, common.CodeSessionActive, "session already settled", map[string]any{
				"state": s.State().String(),
			})
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "cancel failed", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": s.Snapshot()})
}
