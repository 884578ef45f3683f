package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookline/internal/model"
)

func newDelivery(t *testing.T, m *Memory, webhookID string, max int) model.Delivery {
	t.Helper()
	d, err := m.CreateDelivery(context.Background(), model.Delivery{
		WebhookID: webhookID, TenantID: "t1", EventID: "evt", EventType: "order.created",
		Payload: []byte(`{}`), MaxAttempts: max, Trigger: model.TriggerEvent,
	})
	require.NoError(t, err)
	return d
}

func TestMemoryWebhookTenantIsolation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	wh, err := m.CreateWebhook(ctx, model.Webhook{TenantID: "t1", URL: "http://x", Secret: "s", Events: []string{"a"}, Active: true})
	require.NoError(t, err)

	_, err = m.GetWebhook(ctx, "t2", wh.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.GetWebhook(ctx, "t1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.SetWebhookActive(ctx, "t2", wh.ID, false)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := m.ListWebhooks(ctx, "t2")
	require.NoError(t, err)
	assert.Empty(t, list)

	subs, err := m.ListWebhooksForEvent(ctx, "t1", "a")
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	_, err = m.SetWebhookActive(ctx, "t1", wh.ID, false)
	require.NoError(t, err)
	subs, err = m.ListWebhooksForEvent(ctx, "t1", "a")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestMemoryDeliveryLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	d := newDelivery(t, m, "wh1", 2)
	assert.Equal(t, model.DeliveryPending, d.Status)
	require.NotNil(t, d.NextAttemptAt)

	now := time.Now().UTC()
	_, err := m.ClaimDelivery(ctx, d.ID, now, time.Minute)
	require.NoError(t, err)

	next := now.Add(time.Second)
	got, err := m.UpdateDelivery(ctx, d.ID, model.AttemptUpdate{
		Status: model.DeliveryFailed, CountAttempt: true, ResponseCode: 500, Error: "HTTP 500", NextAttemptAt: &next,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, model.DeliveryFailed, got.Status)
	require.NotNil(t, got.ResponseCode)
	assert.Equal(t, 500, *got.ResponseCode)

	got, err = m.UpdateDelivery(ctx, d.ID, model.AttemptUpdate{Status: model.DeliveryExhausted, CountAttempt: true, Error: "timeout"})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	assert.Nil(t, got.ResponseCode)
	assert.Nil(t, got.NextAttemptAt)
	assert.NotNil(t, got.CompletedAt)

	_, err = m.UpdateDelivery(ctx, d.ID, model.AttemptUpdate{Status: model.DeliverySuccess, CountAttempt: true})
	assert.ErrorIs(t, err, ErrTerminal)
	_, err = m.ClaimDelivery(ctx, d.ID, now.Add(time.Hour), time.Minute)
	assert.ErrorIs(t, err, ErrNotClaimable)
}

func TestMemoryAttemptsNeverExceedMax(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	d := newDelivery(t, m, "wh1", 1)
	_, err := m.UpdateDelivery(ctx, d.ID, model.AttemptUpdate{Status: model.DeliveryFailed, CountAttempt: true})
	require.NoError(t, err)
	_, err = m.UpdateDelivery(ctx, d.ID, model.AttemptUpdate{Status: model.DeliveryFailed, CountAttempt: true})
	assert.ErrorIs(t, err, ErrTerminal)

	// uncounted exhaustion is still allowed at the cap
	got, err := m.UpdateDelivery(ctx, d.ID, model.AttemptUpdate{Status: model.DeliveryExhausted, Error: "webhook disabled"})
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "webhook disabled", *got.Error)
}

func TestMemoryClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	d := newDelivery(t, m, "wh1", 3)
	now := time.Now().UTC()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.ClaimDelivery(ctx, d.ID, now, time.Minute); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)

	// lease expiry makes it claimable again
	_, err := m.ClaimDelivery(ctx, d.ID, now.Add(2*time.Minute), time.Minute)
	assert.NoError(t, err)
}

func TestMemoryDueDeliveries(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := newDelivery(t, m, "wh1", 3)
	b := newDelivery(t, m, "wh1", 3)
	now := time.Now().UTC().Add(time.Second)

	later := now.Add(time.Hour)
	_, err := m.UpdateDelivery(ctx, b.ID, model.AttemptUpdate{Status: model.DeliveryFailed, CountAttempt: true, NextAttemptAt: &later})
	require.NoError(t, err)

	due, err := m.DueDeliveries(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, a.ID, due[0].ID)

	due, err = m.DueDeliveries(ctx, later, 10)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestMemoryListDeliveriesPagesWithoutGaps(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }
	for i := 0; i < 23; i++ {
		newDelivery(t, m, "wh1", 1)
	}
	newDelivery(t, m, "other", 1)

	total, err := m.CountDeliveries(ctx, "wh1")
	require.NoError(t, err)
	assert.Equal(t, 23, total)

	seen := map[string]bool{}
	for offset := 0; offset < total; offset += 5 {
		page, err := m.ListDeliveries(ctx, "wh1", offset, 5)
		require.NoError(t, err)
		for _, d := range page {
			assert.False(t, seen[d.ID], "duplicate %s", d.ID)
			seen[d.ID] = true
		}
	}
	assert.Len(t, seen, 23)

	page, err := m.ListDeliveries(ctx, "wh1", 100, 5)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemoryListDeliveriesNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		m.now = func() time.Time { return ts }
		ids = append(ids, newDelivery(t, m, "wh1", 1).ID)
	}
	list, err := m.ListDeliveries(ctx, "wh1", 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[0], list[2].ID)
}

func TestMemoryDeliveryStats(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := newDelivery(t, m, "wh1", 1)
	newDelivery(t, m, "wh1", 1)
	_, err := m.UpdateDelivery(ctx, a.ID, model.AttemptUpdate{Status: model.DeliverySuccess, CountAttempt: true, ResponseCode: 200, LatencyMs: 40})
	require.NoError(t, err)

	stats, err := m.DeliveryStats(ctx, "wh1", time.Time{})
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, model.DeliveryPending, stats[0].Status)
	assert.Equal(t, model.DeliverySuccess, stats[1].Status)
	assert.Equal(t, 40, stats[1].AvgLatencyMs)
}
