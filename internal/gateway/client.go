package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/checkout-core/internal/resilience"
	"github.com/noah-isme/checkout-core/internal/voucher"
)

// PaymentStatus is the remote view of a bank-transfer payment.
type PaymentStatus string

const (
	StatusPending  PaymentStatus = "PENDING"
	StatusPaid     PaymentStatus = "PAID"
	StatusSuccess  PaymentStatus = "SUCCESS"
	StatusCanceled PaymentStatus = "CANCELED"
)

// Settled reports whether the status confirms payment.
func (s PaymentStatus) Settled() bool {
	return s == StatusPaid || s == StatusSuccess
}

// OrderLine is one cart line inside an order payload.
type OrderLine struct {
	ProductID string `json:"productId"`
	UnitPrice int64  `json:"unitPrice"`
	Qty       int    `json:"quantity"`
}

// OrderRequest is the order payload submitted to the platform. It snapshots
// the pricing the shopper last saw; nothing is recomputed mid-flight.
type OrderRequest struct {
	ReceiverName    string      `json:"receiverName"`
	ReceiverPhone   string      `json:"receiverPhone"`
	ShippingAddress any         `json:"shippingAddress"`
	PaymentMethod   string      `json:"paymentMethod"`
	VoucherID       *string     `json:"voucherId,omitempty"`
	Subtotal        int64       `json:"subtotal"`
	TaxAmount       int64       `json:"taxAmount"`
	ShippingFee     int64       `json:"shippingFee"`
	DiscountAmount  int64       `json:"discountAmount"`
	GrandTotal      int64       `json:"grandTotal"`
	Lines           []OrderLine `json:"items"`
}

// BankPaymentRequest opens a bank-transfer payment for an accepted order.
type BankPaymentRequest struct {
	OrderID     string `json:"orderId"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	BuyerName   string `json:"buyerName"`
	BuyerPhone  string `json:"buyerPhone"`
}

// BankPayment carries the QR challenge and bank details for one payment
// attempt.
type BankPayment struct {
	OrderCode     string `json:"orderCode"`
	QRPayload     string `json:"qrCode"`
	BankBin       string `json:"bin"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
	Amount        int64  `json:"amount"`
	Description   string `json:"description"`
}

// APIError is a structured error returned by the platform API. The server
// message is preserved so it can be surfaced verbatim.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("shop api error (status %d)", e.Status)
}

// ClientConfig configures the platform API client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Client talks to the remote catalog/order platform. Status polling runs
// behind a circuit breaker so a dead platform stops generating one request
// per poll tick; everything else is a single attempt.
type Client struct {
	baseURL string
	apiKey  string
	logger  zerolog.Logger
	http    *http.Client
	poll    resilience.HTTPClient
	single  resilience.HTTPClient
}

// NewClient builds a Client with an OpenTelemetry-instrumented transport.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   timeout,
	}
	breaker := resilience.NewBreaker(5, 0.6, 30*time.Second).
		WithTarget("shop-api").
		WithLogger(cfg.Logger)
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  cfg.Logger,
		http:    httpClient,
		poll:    resilience.HTTPClient{Client: httpClient, Breaker: breaker, MaxAttempts: 1},
		single:  resilience.HTTPClient{Client: httpClient, MaxAttempts: 1},
	}
}

// CreateOrder submits the order and returns the platform order id. One
// attempt only; the caller owns retry policy (which is: none).
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (string, error) {
	var out struct {
		OrderID string `json:"orderId"`
	}
	if err := c.call(ctx, c.single, http.MethodPost, "/orders", req, &out); err != nil {
		return "", err
	}
	if out.OrderID == "" {
		return "", errors.New("shop api returned no order id")
	}
	return out.OrderID, nil
}

// CreateBankPayment opens a bank-transfer payment session for the order.
func (c *Client) CreateBankPayment(ctx context.Context, req BankPaymentRequest) (BankPayment, error) {
	var out BankPayment
	if err := c.call(ctx, c.single, http.MethodPost, "/payments/bank-transfer", req, &out); err != nil {
		return BankPayment{}, err
	}
	if out.OrderCode == "" {
		return BankPayment{}, errors.New("shop api returned no order code")
	}
	return out, nil
}

// CheckPaymentStatus polls the latest known payment state for the order code.
// Repeated calls are expected and side-effect free.
func (c *Client) CheckPaymentStatus(ctx context.Context, orderCode string) (PaymentStatus, error) {
	var out struct {
		Status string `json:"status"`
	}
	path := "/payments/" + orderCode + "/status"
	if err := c.call(ctx, c.poll, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return normaliseStatus(out.Status), nil
}

// CancelOrder asks the platform to cancel the order. Best effort: callers
// treat failure as a warning, not a blocker.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.call(ctx, c.single, http.MethodPost, "/orders/"+orderID+"/cancel", nil, nil)
}

// GetVoucherByCode fetches a voucher definition. A missing code maps to
// voucher.ErrNotFound.
func (c *Client) GetVoucherByCode(ctx context.Context, code string) (voucher.Voucher, error) {
	var out voucher.Voucher
	err := c.call(ctx, c.single, http.MethodGet, "/vouchers/"+strings.TrimSpace(code), nil, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return voucher.Voucher{}, voucher.ErrNotFound
		}
		return voucher.Voucher{}, err
	}
	return out, nil
}

// Ping probes the platform API health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, c.single, http.MethodGet, "/health", nil, nil)
}

func (c *Client) call(ctx context.Context, via resilience.HTTPClient, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := via.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return c.decodeError(resp)
	}
	if out == nil {
		return nil
	}
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 {
		raw = envelope.Data
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err == nil && json.Unmarshal(raw, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	c.logger.Debug().
		Int("status", resp.StatusCode).
		Str("code", apiErr.Code).
		Msg("shop api error response")
	return apiErr
}

func normaliseStatus(status string) PaymentStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "PAID":
		return StatusPaid
	case "SUCCESS":
		return StatusSuccess
	case "CANCELED", "CANCELLED":
		return StatusCanceled
	default:
		return StatusPending
	}
}
