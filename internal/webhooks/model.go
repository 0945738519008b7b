package webhooks

import (
	"time"

	"github.com/google/uuid"
)

// Event types dispatched by the ledger.
const (
	EventWindowArchived  = "window.archived"
	EventArchivalBlocked = "archival.blocked"
)

var knownEvents = map[string]bool{
	EventWindowArchived:  true,
	EventArchivalBlocked: true,
}

// Subscription is an endpoint listening for some event types.
type Subscription struct {
	ID        uuid.UUID `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Secret    string    `json:"-"` // never returned in API responses
	CreatedAt time.Time `json:"created_at"`
}

func (s *Subscription) wants(eventType string) bool {
	for _, e := range s.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// Event is the body POSTed to subscribers.
type Event struct {
	ID        uuid.UUID         `json:"id"`
	Type      string            `json:"type"`
	LedgerID  string            `json:"ledger_id"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// Delivery records the outcome of a single delivery attempt.
type Delivery struct {
	ID             uuid.UUID `json:"id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	EventID        uuid.UUID `json:"event_id"`
	EventType      string    `json:"event_type"`
	StatusCode     int       `json:"status_code"`
	Attempt        int       `json:"attempt"`
	Success        bool      `json:"success"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	DeliveredAt    time.Time `json:"delivered_at"`
}

// CreateSubscriptionRequest is the payload for creating a subscription.
type CreateSubscriptionRequest struct {
	URL    string   `json:"url"    binding:"required,url"`
	Events []string `json:"events" binding:"required,min=1"`
}
