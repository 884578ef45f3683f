package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so that stream clients
// see transitions produced by any replica.
type RedisBroker struct {
	rdb    redis.UniversalClient
	logger *zap.Logger
	mu     sync.Mutex
	subs   map[chan DeliveryEvent]*redis.PubSub
}

func NewRedisBroker(rdb redis.UniversalClient, logger *zap.Logger) *RedisBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroker{rdb: rdb, logger: logger, subs: map[chan DeliveryEvent]*redis.PubSub{}}
}

func (b *RedisBroker) Subscribe(webhookID string) chan DeliveryEvent {
	ch := make(chan DeliveryEvent, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(webhookID))
	// initial consume to ensure subscription
	if _, err := ps.Receive(ctx); err != nil {
		b.logger.Warn("redis subscribe", zap.String("webhook_id", webhookID), zap.Error(err))
	}
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt DeliveryEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
				select {
				case ch <- evt:
				default:
				}
			}
		}
	}()
	return ch
}

// Unsubscribe closes the PubSub; the forwarding goroutine then closes ch.
func (b *RedisBroker) Unsubscribe(webhookID string, ch chan DeliveryEvent) {
	b.mu.Lock()
	ps, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(webhookID string, evt DeliveryEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(evt)
	if err := b.rdb.Publish(ctx, b.chanName(webhookID), data).Err(); err != nil {
		b.logger.Warn("redis publish", zap.String("webhook_id", webhookID), zap.Error(err))
	}
}

func (b *RedisBroker) chanName(webhookID string) string { return "hookline:webhook:" + webhookID }
