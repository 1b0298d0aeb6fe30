package payment

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/checkout-core/internal/events"
	"github.com/noah-isme/checkout-core/internal/gateway"
	"github.com/noah-isme/checkout-core/internal/obs"
)

// State is the lifecycle position of a payment session. Transitions only
// move forward: once a session is terminal it never changes again.
type State int32

const (
	StateCreated State = iota
	StateAwaiting
	StateSucceeded
	StateCanceled
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateAwaiting:
		return "AWAITING_PAYMENT"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateCanceled:
		return "CANCELED"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateCanceled || s == StateExpired
}

// ErrAlreadyTerminal is returned by Cancel when the session settled before
// the cancel request claimed it.
var ErrAlreadyTerminal = errors.New("payment: session already terminal")

// Seed carries everything a new session needs from the submit flow: order
// identity, the cart to clear on success, and the bank transfer details to
// show while waiting.
type Seed struct {
	OrderID       string
	OrderCode     string
	CartID        string
	Amount        int64
	QRPayload     string
	BankBin       string
	AccountNumber string
	AccountName   string
	Description   string
}

// Session tracks a single bank transfer from creation until a terminal
// state. Two goroutines run per session: a one-second countdown and a
// status poller. Whichever observes a terminal condition first claims the
// session with a CAS; every other outcome arriving later is discarded.
type Session struct {
	ID   string
	Seed Seed

	mgr    *Manager
	logger zerolog.Logger

	state     atomic.Int32
	remaining atomic.Int64

	ctx    context.Context
	stopFn context.CancelFunc
	done   chan struct{}
}

func newSession(mgr *Manager, seed Seed) *Session {
	// Loops outlive the HTTP request that started them, so the session
	// context derives from Background rather than the request.
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:     uuid.NewString(),
		Seed:   seed,
		mgr:    mgr,
		ctx:    ctx,
		stopFn: cancel,
		done:   make(chan struct{}),
	}
	s.logger = mgr.Logger.With().
		Str("session_id", s.ID).
		Str("order_code", seed.OrderCode).
		Logger()
	s.state.Store(int32(StateCreated))
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Remaining returns the seconds left on the payment window, clamped at zero.
func (s *Session) Remaining() int64 {
	left := s.remaining.Load()
	if left < 0 {
		return 0
	}
	return left
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) start(budget, tick, poll time.Duration) {
	s.remaining.Store(int64(budget / time.Second))
	s.state.Store(int32(StateAwaiting))
	s.logger.Info().
		Int64("amount", s.Seed.Amount).
		Int64("window_seconds", s.Remaining()).
		Msg("payment session started")
	go s.countdown(tick)
	go s.pollLoop(poll)
}

func (s *Session) countdown(tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			if left := s.remaining.Add(-1); left <= 0 {
				s.expire()
				return
			}
		}
	}
}

func (s *Session) pollLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			// Ticker drops missed ticks, so a slow request never stacks
			// a second poll behind it.
			if s.State().Terminal() {
				return
			}
			s.pollOnce()
		}
	}
}

func (s *Session) pollOnce() {
	ctx, cancel := context.WithTimeout(s.ctx, s.mgr.pollInterval())
	defer cancel()

	status, err := s.mgr.Gateway.CheckPaymentStatus(ctx, s.Seed.OrderCode)
	if err != nil {
		obs.PaymentPollTotal.WithLabelValues("error").Inc()
		s.logger.Debug().Err(err).Msg("payment status poll failed, will retry")
		return
	}
	switch {
	case status.Settled():
		obs.PaymentPollTotal.WithLabelValues("paid").Inc()
		s.succeed()
	case status == gateway.StatusCanceled:
		obs.PaymentPollTotal.WithLabelValues("canceled").Inc()
		s.cancelRemote()
	default:
		obs.PaymentPollTotal.WithLabelValues("pending").Inc()
	}
}

// finish attempts the single permitted transition out of AwaitingPayment.
// The winner runs its effect exactly once; losers get false and must treat
// their result as stale.
func (s *Session) finish(next State, effect func()) bool {
	if !s.state.CompareAndSwap(int32(StateAwaiting), int32(next)) {
		return false
	}
	s.stopFn()
	if effect != nil {
		effect()
	}
	s.mgr.settle(s, next)
	close(s.done)
	return true
}

func (s *Session) succeed() {
	won := s.finish(StateSucceeded, func() {
		ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
		defer cancel()
		if err := s.mgr.Cart.ClearOnce(ctx, s.Seed.CartID, s.Seed.OrderID); err != nil {
			s.logger.Warn().Err(err).Msg("cart clear after successful payment failed")
		}
		s.emit(ctx, events.TopicPaymentSucceeded, "")
		s.logger.Info().Msg("payment confirmed")
	})
	if !won {
		s.logger.Debug().Msg("discarding stale paid result, session already terminal")
	}
}

func (s *Session) expire() {
	won := s.finish(StateExpired, func() {
		ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
		defer cancel()
		s.emit(ctx, events.TopicPaymentExpired, "")
		s.logger.Info().Msg("payment window expired")
	})
	if !won {
		s.logger.Debug().Msg("countdown hit zero after session settled")
	}
}

func (s *Session) cancelRemote() {
	won := s.finish(StateCanceled, func() {
		ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
		defer cancel()
		s.emit(ctx, events.TopicPaymentCanceled, "remote")
		s.logger.Info().Msg("order canceled on the remote platform")
	})
	if !won {
		s.logger.Debug().Msg("discarding stale canceled result, session already terminal")
	}
}

// Cancel settles the session as canceled on behalf of the user. The remote
// cancel is best effort: the session ends locally even when the platform
// call fails, since the payment window keeps the order from settling later.
func (s *Session) Cancel(ctx context.Context) error {
	won := s.finish(StateCanceled, func() {
		if err := s.mgr.Gateway.CancelOrder(ctx, s.Seed.OrderID); err != nil {
			s.logger.Warn().Err(err).Msg("remote order cancel failed, session canceled locally")
		}
		s.emit(ctx, events.TopicPaymentCanceled, "user")
		s.logger.Info().Msg("payment canceled by user")
	})
	if !won {
		return ErrAlreadyTerminal
	}
	return nil
}

func (s *Session) emit(ctx context.Context, topic string, initiator string) {
	if s.mgr.Events == nil {
		return
	}
	payload := map[string]any{
		"orderCode": s.Seed.OrderCode,
		"amount":    s.Seed.Amount,
	}
	if initiator != "" {
		payload["initiator"] = initiator
	}
	if err := s.mgr.Events.Emit(ctx, topic, s.Seed.OrderID, payload); err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Msg("event emit failed")
	}
}

const settleTimeout = 10 * time.Second

// View is the wire representation of a session for status responses.
type View struct {
	OrderID          string `json:"orderId"`
	OrderCode        string `json:"orderCode"`
	State            string `json:"state"`
	RemainingSeconds int64  `json:"remainingSeconds"`
	Amount           int64  `json:"amount"`
	QRPayload        string `json:"qrPayload"`
	BankBin          string `json:"bankBin"`
	AccountNumber    string `json:"accountNumber"`
	AccountName      string `json:"accountName"`
	Description      string `json:"description"`
}

// Snapshot captures the session for a status response.
func (s *Session) Snapshot() View {
	return View{
		OrderID:          s.Seed.OrderID,
		OrderCode:        s.Seed.OrderCode,
		State:            s.State().String(),
		RemainingSeconds: s.Remaining(),
		Amount:           s.Seed.Amount,
		QRPayload:        s.Seed.QRPayload,
		BankBin:          s.Seed.BankBin,
		AccountNumber:    s.Seed.AccountNumber,
		AccountName:      s.Seed.AccountName,
		Description:      s.Seed.Description,
	}
}
