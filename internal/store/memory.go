package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"hookline/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu       sync.Mutex
	webhooks map[string]model.Webhook // id -> webhook
	byTen    map[string][]string      // tenant -> webhook ids
	dels     map[string]*memDelivery  // id -> delivery state
	byHook   map[string][]string      // webhook -> delivery ids
	seq      int64
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		webhooks: map[string]model.Webhook{},
		byTen:    map[string][]string{},
		dels:     map[string]*memDelivery{},
		byHook:   map[string][]string{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// memDelivery keeps insertion order so equal timestamps still sort deterministically.
type memDelivery struct {
	model.Delivery
	seq int64
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) CreateWebhook(ctx context.Context, wh model.Webhook) (model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wh.ID == "" {
		wh.ID = uuid.New().String()
	}
	now := m.now()
	wh.CreatedAt, wh.UpdatedAt = now, now
	wh.Events = append([]string(nil), wh.Events...)
	m.webhooks[wh.ID] = wh
	m.byTen[wh.TenantID] = append(m.byTen[wh.TenantID], wh.ID)
	return cloneWebhook(wh), nil
}

func (m *Memory) GetWebhook(ctx context.Context, tenantID, id string) (model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wh, ok := m.webhooks[id]
	if !ok || wh.TenantID != tenantID {
		return model.Webhook{}, ErrNotFound
	}
	return cloneWebhook(wh), nil
}

func (m *Memory) GetWebhookByID(ctx context.Context, id string) (model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wh, ok := m.webhooks[id]
	if !ok {
		return model.Webhook{}, ErrNotFound
	}
	return cloneWebhook(wh), nil
}

func (m *Memory) ListWebhooks(ctx context.Context, tenantID string) ([]model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Webhook{}
	for _, id := range m.byTen[tenantID] {
		out = append(out, cloneWebhook(m.webhooks[id]))
	}
	return out, nil
}

func (m *Memory) ListWebhooksForEvent(ctx context.Context, tenantID, eventType string) ([]model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Webhook
	for _, id := range m.byTen[tenantID] {
		wh := m.webhooks[id]
		if wh.Active && wh.Subscribes(eventType) {
			out = append(out, cloneWebhook(wh))
		}
	}
	return out, nil
}

func (m *Memory) SetWebhookActive(ctx context.Context, tenantID, id string, active bool) (model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wh, ok := m.webhooks[id]
	if !ok || wh.TenantID != tenantID {
		return model.Webhook{}, ErrNotFound
	}
	wh.Active = active
	wh.UpdatedAt = m.now()
	m.webhooks[id] = wh
	return cloneWebhook(wh), nil
}

func (m *Memory) CreateDelivery(ctx context.Context, d model.Delivery) (model.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = model.DeliveryPending
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = m.now()
	}
	d.UpdatedAt = d.CreatedAt
	if d.NextAttemptAt == nil && !d.Status.Terminal() {
		t := d.CreatedAt
		d.NextAttemptAt = &t
	}
	m.seq++
	m.dels[d.ID] = &memDelivery{Delivery: cloneDelivery(d), seq: m.seq}
	m.byHook[d.WebhookID] = append(m.byHook[d.WebhookID], d.ID)
	return cloneDelivery(d), nil
}

func (m *Memory) GetDelivery(ctx context.Context, id string) (model.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dels[id]
	if !ok {
		return model.Delivery{}, ErrNotFound
	}
	return cloneDelivery(d.Delivery), nil
}

func (m *Memory) ClaimDelivery(ctx context.Context, id string, now time.Time, lease time.Duration) (model.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dels[id]
	if !ok || d.Status.Terminal() {
		return model.Delivery{}, ErrNotClaimable
	}
	if d.NextAttemptAt != nil && d.NextAttemptAt.After(now) {
		return model.Delivery{}, ErrNotClaimable
	}
	until := now.Add(lease)
	d.NextAttemptAt = &until
	d.UpdatedAt = now
	return cloneDelivery(d.Delivery), nil
}

func (m *Memory) UpdateDelivery(ctx context.Context, id string, upd model.AttemptUpdate) (model.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dels[id]
	if !ok {
		return model.Delivery{}, ErrNotFound
	}
	if !d.Status.CanTransition(upd.Status) {
		return model.Delivery{}, ErrTerminal
	}
	if upd.CountAttempt && d.Attempts >= d.MaxAttempts {
		return model.Delivery{}, ErrTerminal
	}
	at := upd.At
	if at.IsZero() {
		at = m.now()
	}
	if upd.CountAttempt {
		d.Attempts++
		d.ResponseCode = intPtr(upd.ResponseCode)
		d.Error = strPtr(upd.Error)
		d.ResponseExcerpt = strPtr(upd.ResponseExcerpt)
		d.LatencyMs = upd.LatencyMs
	} else {
		if upd.ResponseCode != 0 {
			d.ResponseCode = intPtr(upd.ResponseCode)
		}
		if upd.Error != "" {
			d.Error = strPtr(upd.Error)
		}
	}
	d.Status = upd.Status
	d.UpdatedAt = at
	if d.Status.Terminal() {
		d.NextAttemptAt = nil
		d.CompletedAt = &at
	} else if upd.NextAttemptAt != nil {
		t := *upd.NextAttemptAt
		d.NextAttemptAt = &t
	}
	return cloneDelivery(d.Delivery), nil
}

func (m *Memory) DueDeliveries(ctx context.Context, now time.Time, limit int) ([]model.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*memDelivery
	for _, d := range m.dels {
		if d.Status.Terminal() || d.NextAttemptAt == nil || d.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, d)
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextAttemptAt.Equal(*due[j].NextAttemptAt) {
			return due[i].NextAttemptAt.Before(*due[j].NextAttemptAt)
		}
		return due[i].seq < due[j].seq
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]model.Delivery, 0, len(due))
	for _, d := range due {
		out = append(out, cloneDelivery(d.Delivery))
	}
	return out, nil
}

// ListDeliveries returns deliveries for a webhook, most recent first.
func (m *Memory) ListDeliveries(ctx context.Context, webhookID string, offset, limit int) ([]model.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.sortedLocked(webhookID)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(list) {
		return []model.Delivery{}, nil
	}
	end := len(list)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]model.Delivery, 0, end-offset)
	for _, d := range list[offset:end] {
		out = append(out, cloneDelivery(d.Delivery))
	}
	return out, nil
}

func (m *Memory) CountDeliveries(ctx context.Context, webhookID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byHook[webhookID]), nil
}

func (m *Memory) DeliveryStats(ctx context.Context, webhookID string, since time.Time) ([]model.DeliveryStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type agg struct{ cnt, sum int }
	by := map[model.DeliveryStatus]*agg{}
	for _, id := range m.byHook[webhookID] {
		d := m.dels[id]
		if !since.IsZero() && d.CreatedAt.Before(since) {
			continue
		}
		a := by[d.Status]
		if a == nil {
			a = &agg{}
			by[d.Status] = a
		}
		a.cnt++
		a.sum += d.LatencyMs
	}
	out := []model.DeliveryStats{}
	for st, a := range by {
		out = append(out, model.DeliveryStats{Status: st, Count: a.cnt, AvgLatencyMs: a.sum / a.cnt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

func (m *Memory) sortedLocked(webhookID string) []*memDelivery {
	ids := m.byHook[webhookID]
	list := make([]*memDelivery, 0, len(ids))
	for _, id := range ids {
		list = append(list, m.dels[id])
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].seq > list[j].seq
	})
	return list
}

func cloneWebhook(wh model.Webhook) model.Webhook {
	wh.Events = append([]string(nil), wh.Events...)
	return wh
}

func cloneDelivery(d model.Delivery) model.Delivery {
	d.Payload = append([]byte(nil), d.Payload...)
	if d.ResponseCode != nil {
		d.ResponseCode = intPtr(*d.ResponseCode)
	}
	if d.Error != nil {
		s := *d.Error
		d.Error = &s
	}
	if d.ResponseExcerpt != nil {
		s := *d.ResponseExcerpt
		d.ResponseExcerpt = &s
	}
	if d.NextAttemptAt != nil {
		t := *d.NextAttemptAt
		d.NextAttemptAt = &t
	}
	if d.CompletedAt != nil {
		t := *d.CompletedAt
		d.CompletedAt = &t
	}
	return d
}

func intPtr(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
