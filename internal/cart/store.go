package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/checkout-core/internal/pricing"
)

// ErrNotFound indicates the requested cart could not be located.
var ErrNotFound = errors.New("cart not found")

// ErrInvalidInput is returned when the provided payload is invalid.
var ErrInvalidInput = errors.New("invalid input")

// Line is a cart line as owned by the cart collaborator. Read-only to the
// checkout subsystem except for voucher attachment and the clear-on-success
// path.
type Line struct {
	ProductID string `json:"productId"`
	UnitPrice int64  `json:"unitPrice"`
	SalePrice *int64 `json:"salePrice,omitempty"`
	Qty       int    `json:"quantity"`
}

// Pricing converts the line into its pricing representation.
func (l Line) Pricing() pricing.Line {
	return pricing.Line{
		ProductID: l.ProductID,
		UnitPrice: l.UnitPrice,
		SalePrice: l.SalePrice,
		Qty:       l.Qty,
	}
}

type cartDoc struct {
	Lines       []Line `json:"lines"`
	VoucherCode string `json:"voucherCode,omitempty"`
}

// Store keeps carts in Redis as a single JSON document per cart.
type Store struct {
	R   *redis.Client
	TTL time.Duration
}

func (s *Store) ttl() time.Duration {
	if s == nil || s.TTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.TTL
}

func cartKey(cartID string) string {
	return "cart:" + cartID
}

func clearedKey(orderID string) string {
	return "cart:cleared:" + orderID
}

func (s *Store) load(ctx context.Context, cartID string) (cartDoc, error) {
	var doc cartDoc
	if s == nil || s.R == nil {
		return doc, errors.New("cart store not configured")
	}
	raw, err := s.R.Get(ctx, cartKey(cartID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("load cart: %w", err)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("decode cart: %w", err)
	}
	return doc, nil
}

func (s *Store) save(ctx context.Context, cartID string, doc cartDoc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	return s.R.Set(ctx, cartKey(cartID), raw, s.ttl()).Err()
}

// Lines returns the current cart lines. A missing cart reads as empty.
func (s *Store) Lines(ctx context.Context, cartID string) ([]Line, error) {
	doc, err := s.load(ctx, cartID)
	if err != nil {
		return nil, err
	}
	return doc.Lines, nil
}

// ReplaceLines overwrites the cart content. Lines with quantity below one are
// rejected.
func (s *Store) ReplaceLines(ctx context.Context, cartID string, lines []Line) error {
	for _, l := range lines {
		if l.Qty < 1 {
			return fmt.Errorf("line %s quantity must be at least 1: %w", l.ProductID, ErrInvalidInput)
		}
		if l.UnitPrice < 0 {
			return fmt.Errorf("line %s unit price must not be negative: %w", l.ProductID, ErrInvalidInput)
		}
	}
	doc, err := s.load(ctx, cartID)
	if err != nil {
		return err
	}
	doc.Lines = lines
	return s.save(ctx, cartID, doc)
}

// AppliedVoucher returns the voucher code currently attached to the cart, or
// the empty string.
func (s *Store) AppliedVoucher(ctx context.Context, cartID string) (string, error) {
	doc, err := s.load(ctx, cartID)
	if err != nil {
		return "", err
	}
	return doc.VoucherCode, nil
}

// ApplyVoucher attaches a voucher code to the cart.
func (s *Store) ApplyVoucher(ctx context.Context, cartID, code string) error {
	if code == "" {
		return fmt.Errorf("voucher code required: %w", ErrInvalidInput)
	}
	doc, err := s.load(ctx, cartID)
	if err != nil {
		return err
	}
	doc.VoucherCode = code
	return s.save(ctx, cartID, doc)
}

// DetachVoucher clears an applied voucher. Detaching an absent voucher is a
// no-op.
func (s *Store) DetachVoucher(ctx context.Context, cartID string) error {
	doc, err := s.load(ctx, cartID)
	if err != nil {
		return err
	}
	if doc.VoucherCode == "" {
		return nil
	}
	doc.VoucherCode = ""
	return s.save(ctx, cartID, doc)
}

// Clear drops the cart unconditionally.
func (s *Store) Clear(ctx context.Context, cartID string) error {
	if s == nil || s.R == nil {
		return errors.New("cart store not configured")
	}
	return s.R.Del(ctx, cartKey(cartID)).Err()
}

// ClearOnce clears the cart at most once for the given order. The claim marker
// makes the clear idempotent: COD placement and a confirmed bank-transfer
// success can both call it, but only the first wins.
func (s *Store) ClearOnce(ctx context.Context, cartID, orderID string) error {
	if s == nil || s.R == nil {
		return errors.New("cart store not configured")
	}
	claimed, err := s.R.SetNX(ctx, clearedKey(orderID), cartID, s.ttl()).Result()
	if err != nil {
		return fmt.Errorf("claim cart clear: %w", err)
	}
	if !claimed {
		return nil
	}
	return s.Clear(ctx, cartID)
}
