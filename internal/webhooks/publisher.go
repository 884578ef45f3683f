package webhooks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher fans an internal event out to every subscribed webhook of the tenant.
type Publisher struct {
	Registry   *Registry
	Dispatcher *Dispatcher
	Logger     *zap.Logger
}

func NewPublisher(r *Registry, d *Dispatcher, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{Registry: r, Dispatcher: d, Logger: logger}
}

// Emit records one pending delivery per subscribed webhook and returns the event id
// and delivery ids. Delivery happens asynchronously; receiver failures never surface here.
func (p *Publisher) Emit(ctx context.Context, tenantID, eventType string, data json.RawMessage) (string, []string, error) {
	subs, err := p.Registry.ListSubscribed(ctx, tenantID, eventType)
	if err != nil {
		return "", nil, fmt.Errorf("list subscribed: %w", err)
	}
	eventID := "evt_" + uuid.NewString()
	ids := make([]string, 0, len(subs))
	for _, wh := range subs {
		del, err := p.Dispatcher.Enqueue(ctx, wh, eventID, eventType, data)
		if err != nil {
			p.Logger.Error("enqueue delivery",
				zap.String("event_id", eventID), zap.String("webhook_id", wh.ID), zap.Error(err))
			continue
		}
		ids = append(ids, del.ID)
	}
	p.Logger.Debug("event emitted",
		zap.String("tenant_id", tenantID), zap.String("event_type", eventType), zap.Int("deliveries", len(ids)))
	return eventID, ids, nil
}
