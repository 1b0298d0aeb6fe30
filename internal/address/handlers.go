package address

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/checkout-core/internal/common"
)

// Handler exposes the selected shipping address over HTTP.
type Handler struct {
	Store *Store
}

// Get handles GET /users/{userID}/address.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	addr, err := h.Store.Selected(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrNoneSelected) {
			common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "no shipping address selected", nil)
			return
		}
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": addr})
}

// Select handles PUT /users/{userID}/address.
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var addr Address
	if err := json.NewDecoder(r.Body).Decode(&addr); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid JSON body", nil)
		return
	}
	if strings.TrimSpace(addr.ReceiverName) == "" || strings.TrimSpace(addr.Phone) == "" {
		common.JSONError(w, http.StatusUnprocessableEntity, common.CodeValidation, "receiverName and phone are required", nil)
		return
	}
	if err := h.Store.Select(r.Context(), userID, addr); err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": addr})
}
