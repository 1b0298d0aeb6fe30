package payment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/checkout-core/internal/events"
	"github.com/noah-isme/checkout-core/internal/gateway"
	"github.com/noah-isme/checkout-core/internal/obs"
)

// Gateway is the slice of the shop platform client the payment loop needs.
type Gateway interface {
	CheckPaymentStatus(ctx context.Context, orderCode string) (gateway.PaymentStatus, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// CartClearer empties a cart at most once per order.
type CartClearer interface {
	ClearOnce(ctx context.Context, cartID, orderID string) error
}

var (
	// ErrSessionActive rejects a second concurrent session for the same cart.
	ErrSessionActive = errors.New("payment: a session is already active for this cart")
	// ErrNotFound is returned when no session exists for an order code.
	ErrNotFound = errors.New("payment: session not found")
)

const (
	defaultBudget        = 600 * time.Second
	defaultPollInterval  = 5 * time.Second
	defaultCountdownTick = time.Second
	defaultRetention     = time.Hour
)

// Manager owns all live payment sessions. At most one non-terminal session
// may exist per cart; settling frees the cart slot so a fresh checkout from
// the same cart can begin immediately.
type Manager struct {
	Gateway Gateway
	Cart    CartClearer
	Events  *events.Bus
	Logger  zerolog.Logger

	// Budget, PollInterval and CountdownTick default to 600s, 5s and 1s.
	Budget        time.Duration
	PollInterval  time.Duration
	CountdownTick time.Duration
	// Retention bounds how long a settled session stays queryable by
	// order code. Defaults to one hour.
	Retention time.Duration

	mu     sync.Mutex
	byCart map[string]*Session
	byCode map[string]*Session
}

// Begin creates and starts a session for the given seed. It fails with
// ErrSessionActive when the cart already has a live session.
func (m *Manager) Begin(seed Seed) (*Session, error) {
	if strings.TrimSpace(seed.OrderID) == "" || strings.TrimSpace(seed.OrderCode) == "" {
		return nil, errors.New("payment: seed requires order id and order code")
	}
	if strings.TrimSpace(seed.CartID) == "" {
		return nil, errors.New("payment: seed requires a cart id")
	}

	m.mu.Lock()
	if m.byCart == nil {
		m.byCart = make(map[string]*Session)
		m.byCode = make(map[string]*Session)
	}
	if existing, ok := m.byCart[seed.CartID]; ok && !existing.State().Terminal() {
		m.mu.Unlock()
		return nil, ErrSessionActive
	}
	s := newSession(m, seed)
	m.byCart[seed.CartID] = s
	m.byCode[seed.OrderCode] = s
	m.mu.Unlock()

	obs.PaymentSessionsActive.Inc()
	s.start(m.budget(), m.countdownTick(), m.pollInterval())
	return s, nil
}

// Active reports whether the cart has a non-terminal session. Callers use
// it to refuse new checkout attempts before touching the shop platform.
func (m *Manager) Active(cartID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byCart[cartID]
	return ok && !s.State().Terminal()
}

// ByOrderCode looks up a live session.
func (m *Manager) ByOrderCode(code string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// settle frees the cart slot and records the outcome. The order-code index
// keeps the terminal session so status requests still see the final state,
// until the retention window evicts it.
func (m *Manager) settle(s *Session, final State) {
	m.mu.Lock()
	if m.byCart[s.Seed.CartID] == s {
		delete(m.byCart, s.Seed.CartID)
	}
	m.mu.Unlock()

	obs.PaymentSessionsActive.Dec()
	obs.PaymentSessionTotal.WithLabelValues(final.String()).Inc()

	time.AfterFunc(m.retention(), func() {
		m.mu.Lock()
		if m.byCode[s.Seed.OrderCode] == s {
			delete(m.byCode, s.Seed.OrderCode)
		}
		m.mu.Unlock()
	})
}

func (m *Manager) budget() time.Duration {
	if m.Budget > 0 {
		return m.Budget
	}
	return defaultBudget
}

func (m *Manager) pollInterval() time.Duration {
	if m.PollInterval > 0 {
		return m.PollInterval
	}
	return defaultPollInterval
}

func (m *Manager) countdownTick() time.Duration {
	if m.CountdownTick > 0 {
		return m.CountdownTick
	}
	return defaultCountdownTick
}

func (m *Manager) retention() time.Duration {
	if m.Retention > 0 {
		return m.Retention
	}
	return defaultRetention
}
