package webhooks

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"hookline/internal/model"
	"hookline/internal/store"
)

// Registry resolves tenant webhooks. Lookups across tenants report ErrNotFound.
type Registry struct {
	Store store.Store
}

func NewRegistry(s store.Store) *Registry {
	return &Registry{Store: s}
}

func (r *Registry) Resolve(ctx context.Context, tenantID, webhookID string) (model.Webhook, error) {
	if tenantID == "" || webhookID == "" {
		return model.Webhook{}, ErrNotFound
	}
	return r.Store.GetWebhook(ctx, tenantID, webhookID)
}

// ListSubscribed returns the tenant's active webhooks subscribed to eventType.
func (r *Registry) ListSubscribed(ctx context.Context, tenantID, eventType string) ([]model.Webhook, error) {
	return r.Store.ListWebhooksForEvent(ctx, tenantID, eventType)
}

func (r *Registry) List(ctx context.Context, tenantID string) ([]model.Webhook, error) {
	return r.Store.ListWebhooks(ctx, tenantID)
}

func (r *Registry) Create(ctx context.Context, tenantID string, req model.WebhookRequest) (model.Webhook, error) {
	if err := checkDestination(req.URL); err != nil {
		return model.Webhook{}, err
	}
	if strings.TrimSpace(req.Secret) == "" {
		return model.Webhook{}, &ConfigurationError{Field: "secret", Reason: "missing signing secret"}
	}
	return r.Store.CreateWebhook(ctx, model.Webhook{
		TenantID:    tenantID,
		URL:         req.URL,
		Secret:      req.Secret,
		Events:      dedupe(req.Events),
		Active:      true,
		Description: req.Description,
	})
}

// Disable soft-deletes a webhook. Its delivery history is retained and queued
// retries are exhausted when they next come due.
func (r *Registry) Disable(ctx context.Context, tenantID, webhookID string) (model.Webhook, error) {
	return r.Store.SetWebhookActive(ctx, tenantID, webhookID, false)
}

func (r *Registry) Enable(ctx context.Context, tenantID, webhookID string) (model.Webhook, error) {
	return r.Store.SetWebhookActive(ctx, tenantID, webhookID, true)
}

func checkDestination(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &ConfigurationError{Field: "url", Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ConfigurationError{Field: "url", Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return &ConfigurationError{Field: "url", Reason: "missing host"}
	}
	return nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
