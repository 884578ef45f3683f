package model

import (
	"encoding/json"
	"time"
)

// Webhook is a tenant-configured HTTP destination subscribed to event types.
type Webhook struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	URL         string    `json:"url"`
	Secret      string    `json:"-"`
	Events      []string  `json:"events"`
	Active      bool      `json:"active"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Subscribes reports whether the webhook listens for eventType.
// A "*" entry subscribes to every event type.
func (w Webhook) Subscribes(eventType string) bool {
	for _, e := range w.Events {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

type WebhookRequest struct {
	URL         string   `json:"url" validate:"required,url,startswith=http"`
	Events      []string `json:"events" validate:"required,min=1,dive,required,max=128"`
	Secret      string   `json:"secret" validate:"required,min=16,max=256"`
	Description string   `json:"description,omitempty" validate:"max=512"`
}

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliverySuccess   DeliveryStatus = "success"
	DeliveryExhausted DeliveryStatus = "exhausted"
)

// Terminal reports whether no further transition is allowed from s.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliverySuccess || s == DeliveryExhausted
}

// CanTransition reports whether moving from s to next only goes forward.
func (s DeliveryStatus) CanTransition(next DeliveryStatus) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case DeliveryFailed, DeliverySuccess, DeliveryExhausted:
		return true
	}
	return false
}

type Trigger string

const (
	TriggerEvent Trigger = "event"
	TriggerTest  Trigger = "test"
)

// Delivery is the aggregate record of all attempts to deliver one event to one webhook.
type Delivery struct {
	ID              string          `json:"id"`
	WebhookID       string          `json:"webhookId"`
	TenantID        string          `json:"tenantId"`
	EventID         string          `json:"eventId"`
	EventType       string          `json:"eventType"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Status          DeliveryStatus  `json:"status"`
	ResponseCode    *int            `json:"responseCode,omitempty"`
	Error           *string         `json:"error,omitempty"`
	ResponseExcerpt *string         `json:"responseExcerpt,omitempty"`
	Attempts        int             `json:"attempts"`
	MaxAttempts     int             `json:"maxAttempts"`
	Trigger         Trigger         `json:"trigger"`
	LatencyMs       int             `json:"latencyMs"`
	NextAttemptAt   *time.Time      `json:"nextAttemptAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
}

// AttemptUpdate describes one state transition of a Delivery.
type AttemptUpdate struct {
	Status          DeliveryStatus
	CountAttempt    bool
	ResponseCode    int
	Error           string
	ResponseExcerpt string
	LatencyMs       int
	NextAttemptAt   *time.Time
	At              time.Time
}

// Outcome is the result of a single HTTP attempt. It is never persisted directly.
type Outcome struct {
	DeliveryID   string         `json:"deliveryId,omitempty"`
	Success      bool           `json:"success"`
	StatusCode   int            `json:"statusCode,omitempty"`
	ResponseBody string         `json:"responseBody,omitempty"`
	Error        string         `json:"error,omitempty"`
	Attempt      int            `json:"attempt"`
	Latency      time.Duration  `json:"-"`
	Retrying     bool           `json:"retrying"`
	Status       DeliveryStatus `json:"status,omitempty"`
}

// Envelope is the JSON body posted to webhook receivers.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	TenantID   string          `json:"tenantId"`
	WebhookID  string          `json:"webhookId"`
	DeliveryID string          `json:"deliveryId"`
	Timestamp  string          `json:"ts"`
	Data       json.RawMessage `json:"data"`
}

type EventRequest struct {
	Type string          `json:"type" validate:"required,max=128"`
	Data json.RawMessage `json:"data"`
}

// Pagination describes a page of a page/limit listing.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

type DeliveryPage struct {
	Deliveries []Delivery `json:"deliveries"`
	Pagination Pagination `json:"pagination"`
}

// DeliveryStats aggregates a webhook's deliveries by status.
type DeliveryStats struct {
	Status       DeliveryStatus `json:"status"`
	Count        int            `json:"count"`
	AvgLatencyMs int            `json:"avgLatencyMs"`
}
