package checkout

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/checkout-core/internal/address"
	"github.com/noah-isme/checkout-core/internal/cart"
	"github.com/noah-isme/checkout-core/internal/common"
	"github.com/noah-isme/checkout-core/internal/events"
	"github.com/noah-isme/checkout-core/internal/gateway"
	"github.com/noah-isme/checkout-core/internal/lock"
	"github.com/noah-isme/checkout-core/internal/obs"
	"github.com/noah-isme/checkout-core/internal/payment"
	"github.com/noah-isme/checkout-core/internal/pricing"
	"github.com/noah-isme/checkout-core/internal/voucher"
)

// Payment methods accepted at submit.
const (
	MethodCOD          = "COD"
	MethodBankTransfer = "BANK_TRANSFER"
)

// CartStore is the slice of the cart layer the checkout flow needs.
type CartStore interface {
	Lines(ctx context.Context, cartID string) ([]cart.Line, error)
	AppliedVoucher(ctx context.Context, cartID string) (string, error)
	ApplyVoucher(ctx context.Context, cartID, code string) error
	DetachVoucher(ctx context.Context, cartID string) error
	ClearOnce(ctx context.Context, cartID, orderID string) error
}

// AddressBook resolves the shopper's selected shipping address.
type AddressBook interface {
	Selected(ctx context.Context, userID string) (*address.Address, error)
}

// VoucherSource fetches voucher definitions from the platform.
type VoucherSource interface {
	GetVoucherByCode(ctx context.Context, code string) (voucher.Voucher, error)
}

// OrderAPI is the slice of the platform client used during submission.
type OrderAPI interface {
	CreateOrder(ctx context.Context, req gateway.OrderRequest) (string, error)
	CreateBankPayment(ctx context.Context, req gateway.BankPaymentRequest) (gateway.BankPayment, error)
}

// Service orchestrates quoting and order submission.
type Service struct {
	Cart      CartStore
	Addresses AddressBook
	Vouchers  VoucherSource
	Orders    OrderAPI
	Sessions  *payment.Manager
	Events    *events.Bus
	Lock      *lock.Locker
	Calc      pricing.Calculator
	Engine    voucher.Engine
	Validate  *validator.Validate
	Logger    zerolog.Logger
}

// QuoteLine is one rendered cart line with its extended total.
type QuoteLine struct {
	ProductID string `json:"productId"`
	UnitPrice int64  `json:"unitPrice"`
	SalePrice *int64 `json:"salePrice,omitempty"`
	Qty       int    `json:"quantity"`
	LineTotal int64  `json:"lineTotal"`
}

// Quote is the full price breakdown the shopper reviews before submitting.
type Quote struct {
	Lines       []QuoteLine     `json:"lines"`
	VoucherCode string          `json:"voucherCode,omitempty"`
	Summary     pricing.Summary `json:"summary"`
}

// SubmitInput is the submit request body.
type SubmitInput struct {
	CartID        string `json:"cartId" validate:"required"`
	UserID        string `json:"userId" validate:"required"`
	PaymentMethod string `json:"paymentMethod" validate:"required,oneof=COD BANK_TRANSFER"`
	Notes         string `json:"notes" validate:"omitempty,max=500"`
}

// SubmitResult reports the accepted order. Payment is set only for bank
// transfers and carries everything the payment screen needs.
type SubmitResult struct {
	OrderID string          `json:"orderId"`
	Status  string          `json:"status"`
	Summary pricing.Summary `json:"summary"`
	Payment *payment.View   `json:"payment,omitempty"`
}

func (s *Service) tracer() trace.Tracer {
	return otel.Tracer("checkout")
}

// Quote recomputes the price summary for the cart. An applied voucher is
// re-validated against the platform first; one that no longer qualifies is
// detached silently and the quote proceeds without it.
func (s *Service) Quote(ctx context.Context, cartID string) (Quote, error) {
	lines, err := s.Cart.Lines(ctx, cartID)
	if err != nil {
		return Quote{}, err
	}

	pLines := make([]pricing.Line, 0, len(lines))
	qLines := make([]QuoteLine, 0, len(lines))
	for _, l := range lines {
		pl := l.Pricing()
		pLines = append(pLines, pl)
		qLines = append(qLines, QuoteLine{
			ProductID: l.ProductID,
			UnitPrice: l.UnitPrice,
			SalePrice: l.SalePrice,
			Qty:       l.Qty,
			LineTotal: pl.EffectivePrice() * int64(pl.Qty),
		})
	}
	subtotal := s.Calc.Subtotal(pLines)
	shipping := s.Calc.ShippingFee(subtotal)

	code, _, discount, err := s.revalidateVoucher(ctx, cartID, subtotal, shipping)
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		Lines:       qLines,
		VoucherCode: code,
		Summary:     s.Calc.Compute(pLines, discount),
	}, nil
}

// ApplyVoucher validates the code against the cart's current subtotal and
// attaches it. Validation errors come back typed so the handler can tell
// the shopper exactly why the code was refused.
func (s *Service) ApplyVoucher(ctx context.Context, cartID, code string) error {
	lines, err := s.Cart.Lines(ctx, cartID)
	if err != nil {
		return err
	}
	pLines := make([]pricing.Line, 0, len(lines))
	for _, l := range lines {
		pLines = append(pLines, l.Pricing())
	}
	v, err := s.Vouchers.GetVoucherByCode(ctx, code)
	if err != nil {
		return err
	}
	if err := s.Engine.Validate(v, s.Calc.Subtotal(pLines)); err != nil {
		return err
	}
	return s.Cart.ApplyVoucher(ctx, cartID, v.Code)
}

// RemoveVoucher detaches whatever voucher the cart carries.
func (s *Service) RemoveVoucher(ctx context.Context, cartID string) error {
	return s.Cart.DetachVoucher(ctx, cartID)
}

// revalidateVoucher checks the cart's applied voucher against fresh platform
// state. Ineligible vouchers are detached and announced; transport failures
// bubble up so the caller can retry with the voucher still attached.
func (s *Service) revalidateVoucher(ctx context.Context, cartID string, subtotal, shippingFee int64) (code string, voucherID *string, discount int64, err error) {
	code, err = s.Cart.AppliedVoucher(ctx, cartID)
	if err != nil || code == "" {
		return "", nil, 0, err
	}

	v, err := s.Vouchers.GetVoucherByCode(ctx, code)
	if err != nil && !errors.Is(err, voucher.ErrNotFound) {
		return "", nil, 0, err
	}
	if err == nil {
		err = s.Engine.Validate(v, subtotal)
	}
	if err != nil {
		reason := detachReason(err)
		if derr := s.Cart.DetachVoucher(ctx, cartID); derr != nil {
			return "", nil, 0, derr
		}
		obs.VoucherDetachTotal.WithLabelValues(reason).Inc()
		s.Logger.Info().Str("cart_id", cartID).Str("code", code).Str("reason", reason).
			Msg("voucher no longer eligible, detached")
		if s.Events != nil {
			_ = s.Events.Emit(ctx, events.TopicVoucherDetached, cartID, map[string]any{
				"code":   code,
				"reason": reason,
			})
		}
		return "", nil, 0, nil
	}

	id := v.ID
	return code, &id, s.Engine.Discount(v, subtotal, shippingFee), nil
}

func detachReason(err error) string {
	switch {
	case errors.Is(err, voucher.ErrNotFound):
		return "not_found"
	case errors.Is(err, voucher.ErrLocked):
		return "locked"
	case errors.Is(err, voucher.ErrNotStarted):
		return "not_started"
	case errors.Is(err, voucher.ErrExpired):
		return "expired"
	case errors.Is(err, voucher.ErrExhausted):
		return "exhausted"
	case errors.Is(err, voucher.ErrMinSpendUnmet):
		return "min_spend"
	default:
		return "invalid"
	}
}

// Submit places the order with the pricing snapshot the shopper last saw.
// Order creation is a single attempt; a failure leaves the cart untouched
// and surfaces the platform's message verbatim. Submissions for the same
// cart are serialised so two tabs cannot race each other into two orders.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	if s.Lock == nil {
		return s.submit(ctx, in)
	}
	var out SubmitResult
	err := s.Lock.WithLock(ctx, "checkout:submit:"+in.CartID, 30*time.Second, func(ctx context.Context) error {
		var err error
		out, err = s.submit(ctx, in)
		return err
	})
	return out, err
}

func (s *Service) submit(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	ctx, span := s.tracer().Start(ctx, "checkout.submit", trace.WithAttributes(
		attribute.String("payment.method", in.PaymentMethod),
	))
	defer span.End()

	if err := s.Validate.Struct(in); err != nil {
		return SubmitResult{}, common.NewAppError(common.CodeValidation, "invalid submit request", http.StatusUnprocessableEntity, err)
	}

	// A cart with a live payment session is frozen: a second order, or a
	// COD clear, would race the session's own settlement. Refuse before
	// any remote call is made.
	if s.Sessions != nil && s.Sessions.Active(in.CartID) {
		return SubmitResult{}, common.NewAppError(common.CodeSessionActive, "a payment is already in progress for this cart", http.StatusConflict, nil)
	}

	addr, err := s.Addresses.Selected(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, address.ErrNoneSelected) {
			return SubmitResult{}, common.NewAppError(common.CodeValidation, "no shipping address selected", http.StatusUnprocessableEntity, err)
		}
		return SubmitResult{}, err
	}

	lines, err := s.Cart.Lines(ctx, in.CartID)
	if err != nil {
		return SubmitResult{}, err
	}
	if len(lines) == 0 {
		return SubmitResult{}, common.NewAppError(common.CodeValidation, "cart is empty", http.StatusUnprocessableEntity, nil)
	}

	pLines := make([]pricing.Line, 0, len(lines))
	orderLines := make([]gateway.OrderLine, 0, len(lines))
	for _, l := range lines {
		pl := l.Pricing()
		pLines = append(pLines, pl)
		orderLines = append(orderLines, gateway.OrderLine{
			ProductID: l.ProductID,
			UnitPrice: pl.EffectivePrice(),
			Qty:       l.Qty,
		})
	}
	subtotal := s.Calc.Subtotal(pLines)
	shipping := s.Calc.ShippingFee(subtotal)

	_, voucherID, discount, err := s.revalidateVoucher(ctx, in.CartID, subtotal, shipping)
	if err != nil {
		return SubmitResult{}, err
	}
	summary := s.Calc.Compute(pLines, discount)

	orderID, err := s.Orders.CreateOrder(ctx, gateway.OrderRequest{
		ReceiverName:    addr.ReceiverName,
		ReceiverPhone:   addr.Phone,
		ShippingAddress: addr,
		PaymentMethod:   in.PaymentMethod,
		VoucherID:       voucherID,
		Subtotal:        summary.Subtotal,
		TaxAmount:       summary.Tax,
		ShippingFee:     summary.Shipping,
		DiscountAmount:  summary.Discount,
		GrandTotal:      summary.GrandTotal,
		Lines:           orderLines,
	})
	if err != nil {
		obs.CheckoutSubmitTotal.WithLabelValues(in.PaymentMethod, "submit_failed").Inc()
		return SubmitResult{}, submitFailed(err)
	}

	span.SetAttributes(attribute.String("order.id", orderID))
	log := s.Logger.With().Str("order_id", orderID).Str("cart_id", in.CartID).Logger()

	if in.PaymentMethod == MethodCOD {
		if err := s.Cart.ClearOnce(ctx, in.CartID, orderID); err != nil {
			log.Warn().Err(err).Msg("cart clear after COD order failed")
		}
		s.emitPlaced(ctx, orderID, in.PaymentMethod, summary.GrandTotal)
		obs.CheckoutSubmitTotal.WithLabelValues(in.PaymentMethod, "placed").Inc()
		log.Info().Int64("grand_total", summary.GrandTotal).Msg("order placed")
		return SubmitResult{OrderID: orderID, Status: "PLACED", Summary: summary}, nil
	}

	bank, err := s.Orders.CreateBankPayment(ctx, gateway.BankPaymentRequest{
		OrderID:     orderID,
		Amount:      summary.GrandTotal,
		Description: "order " + orderID,
		BuyerName:   addr.ReceiverName,
		BuyerPhone:  addr.Phone,
	})
	if err != nil {
		// The order exists on the platform; only the payment challenge is
		// missing. The order id travels in the error so the client can
		// retry payment setup without resubmitting.
		obs.CheckoutSubmitTotal.WithLabelValues(in.PaymentMethod, "payment_setup_failed").Inc()
		appErr := common.NewAppError(common.CodePaymentSetupFailed, userMessage(err, "payment setup failed"), http.StatusBadGateway, err)
		return SubmitResult{}, appErr.WithDetails(map[string]any{"orderId": orderID})
	}

	sess, err := s.Sessions.Begin(payment.Seed{
		OrderID:       orderID,
		OrderCode:     bank.OrderCode,
		CartID:        in.CartID,
		Amount:        bank.Amount,
		QRPayload:     bank.QRPayload,
		BankBin:       bank.BankBin,
		AccountNumber: bank.AccountNumber,
		AccountName:   bank.AccountName,
		Description:   bank.Description,
	})
	if err != nil {
		if errors.Is(err, payment.ErrSessionActive) {
			appErr := common.NewAppError(common.CodeSessionActive, "a payment is already in progress for this cart", http.StatusConflict, err)
			return SubmitResult{}, appErr.WithDetails(map[string]any{"orderId": orderID})
		}
		return SubmitResult{}, err
	}

	s.emitPlaced(ctx, orderID, in.PaymentMethod, summary.GrandTotal)
	obs.CheckoutSubmitTotal.WithLabelValues(in.PaymentMethod, "awaiting_payment").Inc()
	log.Info().Str("order_code", bank.OrderCode).Int64("grand_total", summary.GrandTotal).
		Msg("order placed, awaiting bank transfer")

	view := sess.Snapshot()
	return SubmitResult{
		OrderID: orderID,
		Status:  payment.StateAwaiting.String(),
		Summary: summary,
		Payment: &view,
	}, nil
}

func (s *Service) emitPlaced(ctx context.Context, orderID, method string, grandTotal int64) {
	if s.Events == nil {
		return
	}
	_ = s.Events.Emit(ctx, events.TopicCheckoutPlaced, orderID, map[string]any{
		"paymentMethod": method,
		"grandTotal":    grandTotal,
	})
}

// submitFailed wraps an order creation failure, keeping the platform's own
// message when one came back.
func submitFailed(err error) error {
	return common.NewAppError(common.CodeSubmitFailed, userMessage(err, "order submission failed"), http.StatusBadGateway, err)
}

func userMessage(err error, fallback string) string {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
