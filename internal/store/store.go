package store

import (
	"context"
	"errors"
	"time"

	"hookline/internal/model"
)

// Store is the persistence interface shared by the registry, dispatcher and query API.
type Store interface {
	// Webhooks
	CreateWebhook(ctx context.Context, wh model.Webhook) (model.Webhook, error)
	// GetWebhook returns ErrNotFound both for unknown ids and for webhooks owned by another tenant.
	GetWebhook(ctx context.Context, tenantID, id string) (model.Webhook, error)
	GetWebhookByID(ctx context.Context, id string) (model.Webhook, error)
	ListWebhooks(ctx context.Context, tenantID string) ([]model.Webhook, error)
	ListWebhooksForEvent(ctx context.Context, tenantID, eventType string) ([]model.Webhook, error)
	SetWebhookActive(ctx context.Context, tenantID, id string, active bool) (model.Webhook, error)

	// Deliveries
	CreateDelivery(ctx context.Context, d model.Delivery) (model.Delivery, error)
	GetDelivery(ctx context.Context, id string) (model.Delivery, error)
	// ClaimDelivery leases a non-terminal, due delivery until now+lease. Only one caller wins.
	ClaimDelivery(ctx context.Context, id string, now time.Time, lease time.Duration) (model.Delivery, error)
	// UpdateDelivery applies a forward-only transition; terminal records yield ErrTerminal.
	UpdateDelivery(ctx context.Context, id string, upd model.AttemptUpdate) (model.Delivery, error)
	DueDeliveries(ctx context.Context, now time.Time, limit int) ([]model.Delivery, error)
	ListDeliveries(ctx context.Context, webhookID string, offset, limit int) ([]model.Delivery, error)
	CountDeliveries(ctx context.Context, webhookID string) (int, error)
	DeliveryStats(ctx context.Context, webhookID string, since time.Time) ([]model.DeliveryStats, error)
}

var (
	ErrNotFound     = errors.New("not found")
	ErrNotClaimable = errors.New("delivery not claimable")
	ErrTerminal     = errors.New("delivery already terminal")
)
