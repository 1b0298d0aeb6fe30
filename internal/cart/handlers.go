package cart

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/checkout-core/internal/common"
)

// Handler exposes cart reads and line replacement over HTTP.
type Handler struct {
	Store *Store
}

// Get handles GET /carts/{cartID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "cartID")
	lines, err := h.Store.Lines(r.Context(), cartID)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	code, err := h.Store.AppliedVoucher(r.Context(), cartID)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	payload := map[string]any{"lines": lines}
	if code != "" {
		payload["voucherCode"] = code
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": payload})
}

// ReplaceItems handles PUT /carts/{cartID}/items, replacing the whole line
// set at once.
func (h *Handler) ReplaceItems(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "cartID")
	var body struct {
		Lines []Line `json:"lines"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid JSON body", nil)
		return
	}
	if err := h.Store.ReplaceLines(r.Context(), cartID, body.Lines); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, common.CodeValidation, err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"lines": body.Lines}})
}
