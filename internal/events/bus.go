package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is a domain occurrence fanned out to notifiers. Payloads are small
// JSON-able maps; the bus does not persist anything.
type Event struct {
	Topic       string
	AggregateID string
	Payload     map[string]any
	OccurredAt  time.Time
}

// Notifier reacts to emitted events (user-visible notices, metrics, etc.).
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Bus fans domain events out to subscribed notifiers.
type Bus struct {
	Logger zerolog.Logger
	Now    func() time.Time

	mu        sync.RWMutex
	notifiers []Notifier
}

// Subscribe registers a notifier for all topics.
func (b *Bus) Subscribe(n Notifier) {
	if b == nil || n == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifiers = append(b.notifiers, n)
}

// Emit dispatches the event to all subscribed notifiers. Notifier failures
// are joined and returned but never prevent later notifiers from running.
func (b *Bus) Emit(ctx context.Context, topic, aggregateID string, payload map[string]any) error {
	if b == nil {
		return errors.New("events: bus not configured")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return errors.New("events: topic is required")
	}
	if strings.TrimSpace(aggregateID) == "" {
		return errors.New("events: aggregate id is required")
	}
	ev := Event{
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     payload,
		OccurredAt:  b.now(),
	}

	b.mu.RLock()
	notifiers := make([]Notifier, len(b.notifiers))
	copy(notifiers, b.notifiers)
	b.mu.RUnlock()

	var joined error
	for _, notifier := range notifiers {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, ev); err != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", err))
		}
	}
	if joined != nil {
		b.Logger.Warn().Err(joined).Str("topic", topic).Msg("event notifier failed")
	}
	return joined
}

func (b *Bus) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// LogNotifier writes every event to the structured log; it is the default
// user-visible notice channel when no richer notifier is wired.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, ev Event) error {
	n.Logger.Info().
		Str("topic", ev.Topic).
		Str("aggregate_id", ev.AggregateID).
		Interface("payload", ev.Payload).
		Msg("domain_event")
	return nil
}
