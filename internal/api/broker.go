package api

import (
	"sync"

	"hookline/internal/model"
)

// DeliveryEvent is one delivery state transition as pushed to stream subscribers.
type DeliveryEvent struct {
	Type     string         `json:"type"` // delivery.<status>
	Delivery model.Delivery `json:"delivery"`
}

type EventBroker interface {
	Subscribe(webhookID string) chan DeliveryEvent
	Unsubscribe(webhookID string, ch chan DeliveryEvent)
	Publish(webhookID string, evt DeliveryEvent)
}

// Broker fans events out in-process. Slow subscribers drop events.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan DeliveryEvent]struct{} // webhookId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan DeliveryEvent]struct{}{}}
}

func (b *Broker) Subscribe(webhookID string) chan DeliveryEvent {
	ch := make(chan DeliveryEvent, 16)
	b.mu.Lock()
	if b.subs[webhookID] == nil {
		b.subs[webhookID] = map[chan DeliveryEvent]struct{}{}
	}
	b.subs[webhookID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(webhookID string, ch chan DeliveryEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[webhookID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, webhookID)
	}
	close(ch)
}

func (b *Broker) Publish(webhookID string, evt DeliveryEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[webhookID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// BrokerNotifier adapts an EventBroker to webhooks.Notifier.
type BrokerNotifier struct {
	Broker EventBroker
}

func (n BrokerNotifier) DeliveryChanged(d model.Delivery) {
	d.Payload = nil
	n.Broker.Publish(d.WebhookID, DeliveryEvent{Type: "delivery." + string(d.Status), Delivery: d})
}
