package webhooks

import (
	"context"
	"time"

	"hookline/internal/model"
	"hookline/internal/store"
)

// Query is the read side of delivery history. Every call checks webhook ownership first.
type Query struct {
	Registry *Registry
	Store    store.Store
}

func NewQuery(r *Registry, s store.Store) *Query {
	return &Query{Registry: r, Store: s}
}

// ListDeliveries returns one page of a webhook's deliveries, most recent first.
func (q *Query) ListDeliveries(ctx context.Context, tenantID, webhookID string, page, limit int) (model.DeliveryPage, error) {
	wh, err := q.Registry.Resolve(ctx, tenantID, webhookID)
	if err != nil {
		return model.DeliveryPage{}, err
	}
	page, limit = model.ClampPage(page, limit)
	total, err := q.Store.CountDeliveries(ctx, wh.ID)
	if err != nil {
		return model.DeliveryPage{}, err
	}
	pg := model.NewPagination(page, limit, total)
	items := []model.Delivery{}
	if pg.Offset() < total {
		items, err = q.Store.ListDeliveries(ctx, wh.ID, pg.Offset(), limit)
		if err != nil {
			return model.DeliveryPage{}, err
		}
	}
	return model.DeliveryPage{Deliveries: items, Pagination: pg}, nil
}

// GetDelivery returns one delivery of a tenant's webhook.
func (q *Query) GetDelivery(ctx context.Context, tenantID, webhookID, deliveryID string) (model.Delivery, error) {
	if _, err := q.Registry.Resolve(ctx, tenantID, webhookID); err != nil {
		return model.Delivery{}, err
	}
	d, err := q.Store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return model.Delivery{}, err
	}
	if d.WebhookID != webhookID {
		return model.Delivery{}, ErrNotFound
	}
	return d, nil
}

// Stats aggregates deliveries created since the given time by status.
func (q *Query) Stats(ctx context.Context, tenantID, webhookID string, since time.Time) ([]model.DeliveryStats, error) {
	wh, err := q.Registry.Resolve(ctx, tenantID, webhookID)
	if err != nil {
		return nil, err
	}
	return q.Store.DeliveryStats(ctx, wh.ID, since)
}
