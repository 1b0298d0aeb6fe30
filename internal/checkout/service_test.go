package checkout

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/noah-isme/checkout-core/internal/address"
	"github.com/noah-isme/checkout-core/internal/cart"
	"github.com/noah-isme/checkout-core/internal/common"
	"github.com/noah-isme/checkout-core/internal/gateway"
	"github.com/noah-isme/checkout-core/internal/obs"
	"github.com/noah-isme/checkout-core/internal/payment"
	"github.com/noah-isme/checkout-core/internal/pricing"
	"github.com/noah-isme/checkout-core/internal/voucher"
)

func TestMain(m *testing.M) {
	obs.MustRegisterDomainMetrics("test", prometheus.NewRegistry())
	os.Exit(m.Run())
}

type stubCart struct {
	lines    []cart.Line
	code     string
	detached bool
	cleared  []string
}

func (s *stubCart) Lines(_ context.Context, _ string) ([]cart.Line, error) {
	return s.lines, nil
}

func (s *stubCart) AppliedVoucher(_ context.Context, _ string) (string, error) {
	if s.detached {
		return "", nil
	}
	return s.code, nil
}

func (s *stubCart) ApplyVoucher(_ context.Context, _, code string) error {
	s.code = code
	s.detached = false
	return nil
}

func (s *stubCart) DetachVoucher(_ context.Context, _ string) error {
	s.detached = true
	return nil
}

func (s *stubCart) ClearOnce(_ context.Context, _, orderID string) error {
	s.cleared = append(s.cleared, orderID)
	return nil
}

type stubAddresses struct {
	addr *address.Address
	err  error
}

func (s *stubAddresses) Selected(_ context.Context, _ string) (*address.Address, error) {
	return s.addr, s.err
}

type stubVouchers struct {
	v   voucher.Voucher
	err error
}

func (s *stubVouchers) GetVoucherByCode(_ context.Context, _ string) (voucher.Voucher, error) {
	return s.v, s.err
}

type stubOrders struct {
	orderID  string
	orderErr error
	bank     gateway.BankPayment
	bankErr  error

	lastOrder  gateway.OrderRequest
	orderCalls int
}

func (s *stubOrders) CreateOrder(_ context.Context, req gateway.OrderRequest) (string, error) {
	s.lastOrder = req
	s.orderCalls++
	if s.orderErr != nil {
		return "", s.orderErr
	}
	return s.orderID, nil
}

func (s *stubOrders) CreateBankPayment(_ context.Context, _ gateway.BankPaymentRequest) (gateway.BankPayment, error) {
	return s.bank, s.bankErr
}

type pendingGateway struct{}

func (pendingGateway) CheckPaymentStatus(_ context.Context, _ string) (gateway.PaymentStatus, error) {
	return gateway.StatusPending, nil
}

func (pendingGateway) CancelOrder(_ context.Context, _ string) error { return nil }

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func activeVoucher() voucher.Voucher {
	return voucher.Voucher{
		ID:                "v-1",
		Code:              "SAVE10",
		Kind:              voucher.KindPercent,
		Value:             10,
		MaxDiscountAmount: 40_000,
		StartsAt:          fixedNow.Add(-time.Hour),
		EndsAt:            fixedNow.Add(time.Hour),
		Quantity:          100,
		Active:            true,
	}
}

func newTestService(c *stubCart, a *stubAddresses, vs *stubVouchers, o *stubOrders) *Service {
	return &Service{
		Cart:      c,
		Addresses: a,
		Vouchers:  vs,
		Orders:    o,
		Sessions: &payment.Manager{
			Gateway:      pendingGateway{},
			Cart:         c,
			Logger:       zerolog.Nop(),
			PollInterval: time.Minute,
		},
		Calc: pricing.Calculator{
			TaxRateBps:            800,
			FreeShippingThreshold: 500_000,
			FlatShippingFee:       25_000,
		},
		Engine:   voucher.Engine{Now: func() time.Time { return fixedNow }},
		Validate: validator.New(),
		Logger:   zerolog.Nop(),
	}
}

func threeShirts() []cart.Line {
	return []cart.Line{{ProductID: "p-1", UnitPrice: 150_000, Qty: 3}}
}

func selectedAddr() *address.Address {
	return &address.Address{ReceiverName: "An Nguyen", Phone: "0900000000", Province: "HCMC", Line1: "1 Le Loi"}
}

func submitInput(method string) SubmitInput {
	return SubmitInput{CartID: "cart-1", UserID: "u-1", PaymentMethod: method}
}

func TestQuoteComputesSummary(t *testing.T) {
	c := &stubCart{lines: threeShirts()}
	svc := newTestService(c, &stubAddresses{}, &stubVouchers{err: voucher.ErrNotFound}, &stubOrders{})

	q, err := svc.Quote(context.Background(), "cart-1")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	want := pricing.Summary{Subtotal: 450_000, Tax: 36_000, Shipping: 25_000, GrandTotal: 511_000}
	if q.Summary != want {
		t.Fatalf("summary = %+v, want %+v", q.Summary, want)
	}
	if len(q.Lines) != 1 || q.Lines[0].LineTotal != 450_000 {
		t.Fatalf("lines = %+v", q.Lines)
	}
}

func TestQuoteAppliesValidVoucher(t *testing.T) {
	c := &stubCart{lines: threeShirts(), code: "SAVE10"}
	svc := newTestService(c, &stubAddresses{}, &stubVouchers{v: activeVoucher()}, &stubOrders{})

	q, err := svc.Quote(context.Background(), "cart-1")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.VoucherCode != "SAVE10" {
		t.Fatalf("voucher code = %q", q.VoucherCode)
	}
	// 10% of 450,000 is 45,000, capped at 40,000.
	if q.Summary.Discount != 40_000 || q.Summary.GrandTotal != 471_000 {
		t.Fatalf("summary = %+v", q.Summary)
	}
}

func TestVoucherApplyRemoveRoundTrip(t *testing.T) {
	c := &stubCart{lines: threeShirts()}
	svc := newTestService(c, &stubAddresses{}, &stubVouchers{v: activeVoucher()}, &stubOrders{})
	ctx := context.Background()

	before, err := svc.Quote(ctx, "cart-1")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if err := svc.ApplyVoucher(ctx, "cart-1", "SAVE10"); err != nil {
		t.Fatalf("ApplyVoucher: %v", err)
	}
	if err := svc.RemoveVoucher(ctx, "cart-1"); err != nil {
		t.Fatalf("RemoveVoucher: %v", err)
	}
	after, err := svc.Quote(ctx, "cart-1")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if before.Summary != after.Summary {
		t.Fatalf("summary changed across apply/remove: %+v vs %+v", before.Summary, after.Summary)
	}
}

func TestQuoteDetachesIneligibleVoucher(t *testing.T) {
	v := activeVoucher()
	v.MinOrderValue = 1_000_000
	c := &stubCart{lines: threeShirts(), code: "SAVE10"}
	svc := newTestService(c, &stubAddresses{}, &stubVouchers{v: v}, &stubOrders{})

	q, err := svc.Quote(context.Background(), "cart-1")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if !c.detached {
		t.Fatal("ineligible voucher was not detached")
	}
	if q.VoucherCode != "" || q.Summary.Discount != 0 {
		t.Fatalf("quote still carries voucher: %+v", q)
	}
	if q.Summary.GrandTotal != 511_000 {
		t.Fatalf("grand total = %d, want undiscounted 511000", q.Summary.GrandTotal)
	}
}

func TestQuoteKeepsVoucherOnTransportError(t *testing.T) {
	c := &stubCart{lines: threeShirts(), code: "SAVE10"}
	svc := newTestService(c, &stubAddresses{}, &stubVouchers{err: errors.New("upstream down")}, &stubOrders{})

	if _, err := svc.Quote(context.Background(), "cart-1"); err == nil {
		t.Fatal("expected transport error to surface")
	}
	if c.detached {
		t.Fatal("voucher detached on a transport error")
	}
}

func TestSubmitValidatesInput(t *testing.T) {
	svc := newTestService(&stubCart{}, &stubAddresses{}, &stubVouchers{}, &stubOrders{})

	_, err := svc.Submit(context.Background(), SubmitInput{CartID: "cart-1", UserID: "u-1", PaymentMethod: "CHECK"})
	appErr, ok := common.AsAppError(err)
	if !ok || appErr.Code != common.CodeValidation {
		t.Fatalf("err = %v, want VALIDATION", err)
	}
}

func TestSubmitRequiresSelectedAddress(t *testing.T) {
	c := &stubCart{lines: threeShirts()}
	svc := newTestService(c, &stubAddresses{err: address.ErrNoneSelected}, &stubVouchers{}, &stubOrders{})

	_, err := svc.Submit(context.Background(), submitInput(MethodCOD))
	appErr, ok := common.AsAppError(err)
	if !ok || appErr.Code != common.CodeValidation {
		t.Fatalf("err = %v, want VALIDATION", err)
	}
}

func TestSubmitRejectsEmptyCart(t *testing.T) {
	svc := newTestService(&stubCart{}, &stubAddresses{addr: selectedAddr()}, &stubVouchers{}, &stubOrders{})

	_, err := svc.Submit(context.Background(), submitInput(MethodCOD))
	appErr, ok := common.AsAppError(err)
	if !ok || appErr.Code != common.CodeValidation {
		t.Fatalf("err = %v, want VALIDATION", err)
	}
}

func TestSubmitCODPlacesOrderAndClearsCart(t *testing.T) {
	c := &stubCart{lines: threeShirts()}
	o := &stubOrders{orderID: "ord-7"}
	svc := newTestService(c, &stubAddresses{addr: selectedAddr()}, &stubVouchers{}, o)

	out, err := svc.Submit(context.Background(), submitInput(MethodCOD))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.OrderID != "ord-7" || out.Status != "PLACED" {
		t.Fatalf("result = %+v", out)
	}
	if len(c.cleared) != 1 || c.cleared[0] != "ord-7" {
		t.Fatalf("cart clears = %v", c.cleared)
	}
	if o.lastOrder.PaymentMethod != MethodCOD || o.lastOrder.GrandTotal != 511_000 {
		t.Fatalf("order snapshot = %+v", o.lastOrder)
	}
	if o.lastOrder.ReceiverName != "An Nguyen" {
		t.Fatalf("receiver = %q", o.lastOrder.ReceiverName)
	}
}

func TestSubmitSurfacesPlatformRejection(t *testing.T) {
	c := &stubCart{lines: threeShirts()}
	o := &stubOrders{orderErr: &gateway.APIError{Status: 422, Code: "OUT_OF_STOCK", Message: "product p-1 is out of stock"}}
	svc := newTestService(c, &stubAddresses{addr: selectedAddr()}, &stubVouchers{}, o)

	_, err := svc.Submit(context.Background(), submitInput(MethodCOD))
	appErr, ok := common.AsAppError(err)
	if !ok || appErr.Code != common.CodeSubmitFailed {
		t.Fatalf("err = %v, want SUBMIT_FAILED", err)
	}
	if appErr.Message != "product p-1 is out of stock" {
		t.Fatalf("message = %q, want platform message verbatim", appErr.Message)
	}
	if len(c.cleared) != 0 {
		t.Fatal("cart cleared after a failed submission")
	}
}

func TestSubmitBankTransferStartsPaymentSession(t *testing.T) {
	c := &stubCart{lines: threeShirts()}
	o := &stubOrders{
		orderID: "ord-8",
		bank: gateway.BankPayment{
			OrderCode:     "ORD-0008",
			QRPayload:     "00020101021238570010...",
			BankBin:       "970436",
			AccountNumber: "113366668888",
			AccountName:   "SHOP JSC",
			Amount:        511_000,
		},
	}
	svc := newTestService(c, &stubAddresses{addr: selectedAddr()}, &stubVouchers{}, o)

	out, err := svc.Submit(context.Background(), submitInput(MethodBankTransfer))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Status != "AWAITING_PAYMENT" || out.Payment == nil {
		t.Fatalf("result = %+v", out)
	}
	if out.Payment.OrderCode != "ORD-0008" || out.Payment.Amount != 511_000 {
		t.Fatalf("payment view = %+v", out.Payment)
	}
	if out.Payment.RemainingSeconds == 0 {
		t.Fatal("payment window not started")
	}
	if len(c.cleared) != 0 {
		t.Fatal("cart cleared before payment settled")
	}

	// Same cart cannot open a second session while one is live.
	_, err = svc.Submit(context.Background(), submitInput(MethodBankTransfer))
	appErr, ok := common.AsAppError(err)
	if !ok || appErr.Code != common.CodeSessionActive {
		t.Fatalf("second submit = %v, want SESSION_ACTIVE", err)
	}

	sess, err := svc.Sessions.ByOrderCode("ORD-0008")
	if err != nil {
		t.Fatalf("ByOrderCode: %v", err)
	}
	if err := sess.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
}

func TestSubmitRefusedWhileSessionActive(t *testing.T) {
	c := &stubCart{lines: threeShirts()}
	o := &stubOrders{
		orderID: "ord-10",
		bank: gateway.BankPayment{
			OrderCode: "ORD-0010",
			Amount:    511_000,
		},
	}
	svc := newTestService(c, &stubAddresses{addr: selectedAddr()}, &stubVouchers{}, o)

	if _, err := svc.Submit(context.Background(), submitInput(MethodBankTransfer)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if o.orderCalls != 1 {
		t.Fatalf("orderCalls = %d, want 1", o.orderCalls)
	}

	// The cart is frozen until the live session settles: a COD submit must
	// be refused before it reaches the platform or clears the cart.
	_, err := svc.Submit(context.Background(), submitInput(MethodCOD))
	appErr, ok := common.AsAppError(err)
	if !ok || appErr.Code != common.CodeSessionActive {
		t.Fatalf("COD submit = %v, want SESSION_ACTIVE", err)
	}
	if o.orderCalls != 1 {
		t.Fatalf("orderCalls = %d after refused submit, want 1", o.orderCalls)
	}
	if len(c.cleared) != 0 {
		t.Fatalf("cart cleared = %v, want none", c.cleared)
	}

	sess, err := svc.Sessions.ByOrderCode("ORD-0010")
	if err != nil {
		t.Fatalf("ByOrderCode: %v", err)
	}
	if err := sess.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// Tearing the session down unfreezes the cart.
	out, err := svc.Submit(context.Background(), submitInput(MethodCOD))
	if err != nil {
		t.Fatalf("Submit after cancel: %v", err)
	}
	if out.Status != "PLACED" {
		t.Fatalf("status = %q, want PLACED", out.Status)
	}
}

func TestSubmitPaymentSetupFailureCarriesOrderID(t *testing.T) {
	c := &stubCart{lines: threeShirts()}
	o := &stubOrders{orderID: "ord-9", bankErr: errors.New("payment provider timeout")}
	svc := newTestService(c, &stubAddresses{addr: selectedAddr()}, &stubVouchers{}, o)

	_, err := svc.Submit(context.Background(), submitInput(MethodBankTransfer))
	appErr, ok := common.AsAppError(err)
	if !ok || appErr.Code != common.CodePaymentSetupFailed {
		t.Fatalf("err = %v, want PAYMENT_SETUP_FAILED", err)
	}
	details, ok := appErr.Details.(map[string]any)
	if !ok || details["orderId"] != "ord-9" {
		t.Fatalf("details = %+v, want orderId ord-9", appErr.Details)
	}
	if len(c.cleared) != 0 {
		t.Fatal("cart cleared without a settled payment")
	}
}

func TestApplyVoucherValidatesBeforeAttaching(t *testing.T) {
	c := &stubCart{lines: threeShirts()}
	svc := newTestService(c, &stubAddresses{}, &stubVouchers{v: activeVoucher()}, &stubOrders{})

	if err := svc.ApplyVoucher(context.Background(), "cart-1", "SAVE10"); err != nil {
		t.Fatalf("ApplyVoucher: %v", err)
	}
	if c.code != "SAVE10" {
		t.Fatalf("applied code = %q", c.code)
	}
}

func TestApplyVoucherRejectsMinSpend(t *testing.T) {
	v := activeVoucher()
	v.MinOrderValue = 1_000_000
	c := &stubCart{lines: threeShirts()}
	svc := newTestService(c, &stubAddresses{}, &stubVouchers{v: v}, &stubOrders{})

	err := svc.ApplyVoucher(context.Background(), "cart-1", "SAVE10")
	var minErr *voucher.MinSpendError
	if !errors.As(err, &minErr) || minErr.MinOrderValue != 1_000_000 {
		t.Fatalf("err = %v, want MinSpendError with threshold", err)
	}
	if c.code != "" {
		t.Fatalf("voucher attached despite failing validation: %q", c.code)
	}
}

func TestSubmitSnapshotsVoucherIntoOrder(t *testing.T) {
	c := &stubCart{lines: threeShirts(), code: "SAVE10"}
	o := &stubOrders{orderID: "ord-10"}
	svc := newTestService(c, &stubAddresses{addr: selectedAddr()}, &stubVouchers{v: activeVoucher()}, o)

	out, err := svc.Submit(context.Background(), submitInput(MethodCOD))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Summary.Discount != 40_000 || out.Summary.GrandTotal != 471_000 {
		t.Fatalf("summary = %+v", out.Summary)
	}
	if o.lastOrder.VoucherID == nil || *o.lastOrder.VoucherID != "v-1" {
		t.Fatalf("voucher id = %v, want v-1", o.lastOrder.VoucherID)
	}
	if o.lastOrder.DiscountAmount != 40_000 {
		t.Fatalf("discount snapshot = %d", o.lastOrder.DiscountAmount)
	}
}
