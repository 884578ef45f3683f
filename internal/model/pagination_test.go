package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampPage(t *testing.T) {
	cases := []struct {
		page, limit         int
		wantPage, wantLimit int
	}{
		{0, 0, 1, DefaultPageLimit},
		{-3, -1, 1, 1},
		{2, 500, 2, MaxPageLimit},
		{4, 10, 4, 10},
		{math.MaxInt, 100, math.MaxInt / 100, 100},
		{100000000000000000, 0, math.MaxInt / DefaultPageLimit, DefaultPageLimit},
	}
	for _, c := range cases {
		p, l := ClampPage(c.page, c.limit)
		assert.Equal(t, c.wantPage, p)
		assert.Equal(t, c.wantLimit, l)
	}
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(1, 20, 45)
	assert.Equal(t, 3, p.TotalPages)
	assert.True(t, p.HasMore)
	assert.Equal(t, 0, p.Offset())

	p = NewPagination(3, 20, 45)
	assert.False(t, p.HasMore)
	assert.Equal(t, 40, p.Offset())

	p = NewPagination(1, 20, 0)
	assert.Equal(t, 0, p.TotalPages)
	assert.False(t, p.HasMore)

	p = NewPagination(2, 10, 20)
	assert.Equal(t, 2, p.TotalPages)
	assert.False(t, p.HasMore)
}

func TestPaginationHugePage(t *testing.T) {
	page, limit := ClampPage(math.MaxInt, MaxPageLimit)
	p := NewPagination(page, limit, 3)
	assert.Positive(t, p.Offset())
	assert.Greater(t, p.Offset(), p.Total)
	assert.False(t, p.HasMore)
}

func TestDeliveryStatusTransitions(t *testing.T) {
	assert.True(t, DeliveryPending.CanTransition(DeliveryFailed))
	assert.True(t, DeliveryFailed.CanTransition(DeliveryFailed))
	assert.True(t, DeliveryFailed.CanTransition(DeliveryExhausted))
	assert.False(t, DeliveryPending.CanTransition(DeliveryPending))
	assert.False(t, DeliverySuccess.CanTransition(DeliveryFailed))
	assert.False(t, DeliveryExhausted.CanTransition(DeliverySuccess))
}

func TestWebhookSubscribes(t *testing.T) {
	wh := Webhook{Events: []string{"order.created"}}
	assert.True(t, wh.Subscribes("order.created"))
	assert.False(t, wh.Subscribes("order.deleted"))
	assert.True(t, Webhook{Events: []string{"*"}}.Subscribes("anything"))
}
