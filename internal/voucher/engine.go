package voucher

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no voucher exists for the requested code.
	ErrNotFound = errors.New("voucher not found")
	// ErrLocked is returned when the voucher has been deactivated.
	ErrLocked = errors.New("voucher locked")
	// ErrNotStarted is returned when the voucher validity window has not opened yet.
	ErrNotStarted = errors.New("voucher not yet active")
	// ErrExpired is returned when the voucher validity window has closed.
	ErrExpired = errors.New("voucher expired")
	// ErrExhausted indicates the voucher has used up its quantity.
	ErrExhausted = errors.New("voucher exhausted")
	// ErrMinSpendUnmet indicates the order subtotal is below the voucher minimum.
	ErrMinSpendUnmet = errors.New("voucher minimum order value not met")
)

// Kind enumerates the supported discount mechanics.
type Kind string

const (
	KindPercent     Kind = "PERCENT"
	KindFixedAmount Kind = "FIXED_AMOUNT"
	KindFreeShip    Kind = "FREESHIP"
)

// Voucher captures the discount rule as fetched from the platform API. It is
// immutable for the duration of a checkout attempt; eligibility is
// re-evaluated against fresh order state instead.
type Voucher struct {
	ID                string    `json:"id"`
	Code              string    `json:"code"`
	Kind              Kind      `json:"type"`
	Value             int64     `json:"value"`
	MinOrderValue     int64     `json:"minOrderValue"`
	MaxDiscountAmount int64     `json:"maxDiscountAmount"`
	StartsAt          time.Time `json:"startDate"`
	EndsAt            time.Time `json:"endDate"`
	Quantity          int32     `json:"quantity"`
	UsedCount         int32     `json:"usedCount"`
	Active            bool      `json:"active"`
}

// MinSpendError wraps ErrMinSpendUnmet with the threshold so callers can show
// the shopper how far they are from eligibility.
type MinSpendError struct {
	MinOrderValue int64
}

func (e *MinSpendError) Error() string {
	return fmt.Sprintf("voucher requires a minimum order value of %d", e.MinOrderValue)
}

// Is reports ErrMinSpendUnmet identity for errors.Is checks.
func (e *MinSpendError) Is(target error) bool {
	return target == ErrMinSpendUnmet
}

// Engine validates vouchers against order state and computes their discount
// contribution.
type Engine struct {
	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Validate checks the voucher against the current subtotal. The first failing
// check wins: locked, not yet active, expired, exhausted, minimum order value.
func (e Engine) Validate(v Voucher, subtotal int64) error {
	if !v.Active {
		return ErrLocked
	}
	now := e.now()
	if now.Before(v.StartsAt) {
		return ErrNotStarted
	}
	if now.After(v.EndsAt) {
		return ErrExpired
	}
	if v.UsedCount >= v.Quantity {
		return ErrExhausted
	}
	if subtotal < v.MinOrderValue {
		return &MinSpendError{MinOrderValue: v.MinOrderValue}
	}
	return nil
}

// Discount computes the discount amount for an already validated voucher.
// PERCENT discounts round half-up and are capped at MaxDiscountAmount;
// FREESHIP equals the current shipping fee, which makes it worth nothing when
// shipping is already free.
func (e Engine) Discount(v Voucher, subtotal, shippingFee int64) int64 {
	switch v.Kind {
	case KindPercent:
		d := (subtotal*v.Value + 50) / 100
		if v.MaxDiscountAmount > 0 && d > v.MaxDiscountAmount {
			d = v.MaxDiscountAmount
		}
		if d < 0 {
			return 0
		}
		return d
	case KindFixedAmount:
		if v.Value < 0 {
			return 0
		}
		return v.Value
	case KindFreeShip:
		return shippingFee
	default:
		return 0
	}
}
