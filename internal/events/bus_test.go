package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordingNotifier struct {
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestEmitFansOut(t *testing.T) {
	bus := &Bus{Logger: zerolog.Nop(), Now: func() time.Time { return time.Unix(100, 0) }}
	first := &recordingNotifier{}
	second := &recordingNotifier{}
	bus.Subscribe(first)
	bus.Subscribe(second)

	err := bus.Emit(context.Background(), TopicPaymentSucceeded, "order-1", map[string]any{"amount": int64(1000)})
	if err != nil {
		t.Fatalf("Emit() = %v", err)
	}
	if len(first.events) != 1 || len(second.events) != 1 {
		t.Fatalf("expected both notifiers to observe the event, got %d and %d", len(first.events), len(second.events))
	}
	if first.events[0].Topic != TopicPaymentSucceeded {
		t.Fatalf("topic = %q", first.events[0].Topic)
	}
	if !first.events[0].OccurredAt.Equal(time.Unix(100, 0)) {
		t.Fatalf("occurredAt = %v", first.events[0].OccurredAt)
	}
}

func TestEmitRequiresTopicAndAggregate(t *testing.T) {
	bus := &Bus{Logger: zerolog.Nop()}
	if err := bus.Emit(context.Background(), "", "order-1", nil); err == nil {
		t.Fatal("expected error for missing topic")
	}
	if err := bus.Emit(context.Background(), TopicCheckoutPlaced, " ", nil); err == nil {
		t.Fatal("expected error for missing aggregate id")
	}
}

func TestEmitContinuesPastFailingNotifier(t *testing.T) {
	bus := &Bus{Logger: zerolog.Nop()}
	failing := &recordingNotifier{err: errors.New("boom")}
	healthy := &recordingNotifier{}
	bus.Subscribe(failing)
	bus.Subscribe(healthy)

	err := bus.Emit(context.Background(), TopicPaymentExpired, "order-2", nil)
	if err == nil {
		t.Fatal("expected joined notifier error")
	}
	if len(healthy.events) != 1 {
		t.Fatalf("healthy notifier should still run, got %d events", len(healthy.events))
	}
}
