package billing

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Webhook event types handled by the processor. Unknown types are accepted
// and logged, never rejected, so new provider events cannot break delivery.
const (
	EventSubscriptionCreated   = "subscription.created"
	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventSubscriptionExpired   = "subscription.expired"
	EventPaymentSucceeded      = "payment.succeeded"
	EventPaymentFailed         = "payment.failed"
)

// Event is the parsed provider webhook envelope.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Created int64     `json:"created"`
	Data    EventData `json:"data"`
}

// EventData carries the provider-specific payload fields the processor
// consumes. Fields not relevant to a given event type stay zero.
type EventData struct {
	SubscriptionID string `json:"subscription_id"`
	ProductID      string `json:"product_id"`
	CustomerEmail  string `json:"customer_email"`
	CustomerName   string `json:"customer_name"`
	PeriodStart    int64  `json:"period_start"`
	PeriodEnd      int64  `json:"period_end"`
	PaymentID      string `json:"payment_id"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	Reason         string `json:"reason"`
}

// ParseEvent decodes a raw webhook payload into an Event.
func ParseEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}
	ev.ID = strings.TrimSpace(ev.ID)
	ev.Type = strings.TrimSpace(ev.Type)
	if ev.Type == "" {
		return nil, errors.New("webhook payload missing event type")
	}
	return &ev, nil
}

// OccurredAt returns the provider-side event time, falling back to now when
// the envelope omits it.
func (e *Event) OccurredAt() time.Time {
	if e.Created > 0 {
		return time.Unix(e.Created, 0)
	}
	return time.Now()
}

// PeriodBounds returns the billing period boundaries when present.
func (d *EventData) PeriodBounds() (start, end *time.Time) {
	if d.PeriodStart > 0 {
		t := time.Unix(d.PeriodStart, 0)
		start = &t
	}
	if d.PeriodEnd > 0 {
		t := time.Unix(d.PeriodEnd, 0)
		end = &t
	}
	return start, end
}

// HandlerResult is the uniform outcome of a single event handler.
type HandlerResult struct {
	Handled bool   `json:"handled"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// ProcessingResult is what the webhook endpoint reports back to the
// provider. It always accompanies a 200 acknowledgement.
type ProcessingResult struct {
	Received  bool   `json:"received"`
	EventType string `json:"event_type"`
	Handled   bool   `json:"handled"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Message   string `json:"processing_result"`
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}
