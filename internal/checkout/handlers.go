package checkout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/checkout-core/internal/common"
	"github.com/noah-isme/checkout-core/internal/voucher"
)

// Handler exposes the checkout flow over HTTP.
type Handler struct {
	Svc *Service
}

// Quote handles GET /checkout/{cartID}/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "cartID")
	q, err := h.Svc.Quote(r.Context(), cartID)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": q})
}

// Submit handles POST /checkout.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var in SubmitInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid JSON body", nil)
		return
	}
	out, err := h.Svc.Submit(r.Context(), in)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": out})
}

// ApplyVoucher handles POST /checkout/{cartID}/voucher.
func (h *Handler) ApplyVoucher(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "cartID")
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Code == "" {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "voucher code is required", nil)
		return
	}
	if err := h.Svc.ApplyVoucher(r.Context(), cartID, body.Code); err != nil {
		if errors.Is(err, voucher.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "voucher not found", nil)
			return
		}
		var minErr *voucher.MinSpendError
		if errors.As(err, &minErr) {
			common.JSONError(w, http.StatusUnprocessableEntity, common.CodeValidation, minErr.Error(), map[string]any{
				"minOrderValue": minErr.MinOrderValue,
			})
			return
		}
		if reason := detachReason(err); reason != "invalid" {
			common.JSONError(w, http.StatusUnprocessableEntity, common.CodeValidation, err.Error(), map[string]any{"reason": reason})
			return
		}
		common.JSONAppError(w, err)
		return
	}
	q, err := h.Svc.Quote(r.Context(), cartID)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": q})
}

// RemoveVoucher handles DELETE /checkout/{cartID}/voucher.
func (h *Handler) RemoveVoucher(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "cartID")
	if err := h.Svc.RemoveVoucher(r.Context(), cartID); err != nil {
		common.JSONAppError(w, err)
		return
	}
	q, err := h.Svc.Quote(r.Context(), cartID)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": q})
}

// VoucherPreview reports whether a code would apply to a given subtotal,
// without touching the cart. Subtotal arrives as a query parameter so the
// client can preview before applying.
func (h *Handler) VoucherPreview(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	v, err := h.Svc.Vouchers.GetVoucherByCode(r.Context(), code)
	if err != nil {
		if errors.Is(err, voucher.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "voucher not found", nil)
			return
		}
		common.JSONAppError(w, err)
		return
	}
	subtotal := parseSubtotal(r.URL.Query().Get("subtotal"))
	resp := map[string]any{
		"code": v.Code,
		"type": v.Kind,
	}
	if err := h.Svc.Engine.Validate(v, subtotal); err != nil {
		resp["eligible"] = false
		resp["reason"] = detachReason(err)
		var minErr *voucher.MinSpendError
		if errors.As(err, &minErr) {
			resp["minOrderValue"] = minErr.MinOrderValue
		}
	} else {
		resp["eligible"] = true
		resp["discountAmount"] = h.Svc.Engine.Discount(v, subtotal, 0)
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": resp})
}

func parseSubtotal(raw string) int64 {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
