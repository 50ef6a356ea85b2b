// Package events fans obligation changes out to downstream consumers
// (dashboards, the notifier). Publishing is fire-and-forget and happens after
// the engine has committed; nothing in matching or synthesis ever waits on a
// sink.
package events

import (
	"context"
	"sync"
	"time"

	"conformo/pkg/domain"
)

// EventType labels what happened to an obligation.
type EventType string

const (
	EventObligationCreated        EventType = "obligation_created"
	EventObligationRetired        EventType = "obligation_retired"
	EventObligationStatusChanged  EventType = "obligation_status_changed"
	EventObligationCarriedForward EventType = "obligation_carried_forward"
	EventActionPlanOpened         EventType = "action_plan_opened"
)

// Event is emitted from domain logic to capture key transitions. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	Type            EventType              `json:"type"`
	CompanyID       domain.CompanyID       `json:"company_id"`
	ObligationID    domain.ObligationID    `json:"obligation_id"`
	RequirementCode domain.RequirementCode `json:"requirement_code"`
	Actor           string                 `json:"actor"`
	StatusBefore    string                 `json:"status_before,omitempty"`
	StatusAfter     string                 `json:"status_after,omitempty"`
	OccurredAt      time.Time              `json:"occurred_at"`
}

// Publisher delivers events to a sink. Implementations must not block the
// caller on broker round-trips.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// NopPublisher drops events. Used when no sink is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}

// MemorySink collects events in memory. Tests assert against it; the channel
// worker drains into it in single-node deployments.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of everything collected so far.
func (s *MemorySink) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event(nil), s.events...)
}

// ByType filters collected events.
func (s *MemorySink) ByType(t EventType) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
