package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hookline/internal/buildinfo"
	"hookline/internal/metrics"
	"hookline/internal/model"
	"hookline/internal/store"
)

const (
	DefaultMaxAttempts = 5
	DefaultTimeout     = 10 * time.Second
	DefaultLease       = 30 * time.Second

	// TestEventType is the event type of manual test deliveries.
	TestEventType = "webhook.test"

	maxResponseRead = 4 << 10
	maxExcerpt      = 1 << 10

	reasonDisabled = "webhook disabled"
	reasonDeleted  = "webhook not found"
)

// Scheduler arranges for a delivery to be executed at or after at.
type Scheduler interface {
	Name() string
	Schedule(ctx context.Context, deliveryID string, at time.Time) error
}

// Notifier observes every persisted delivery transition.
type Notifier interface {
	DeliveryChanged(d model.Delivery)
}

// ExecuteFunc runs one attempt of a delivery; Dispatcher.Execute satisfies it.
type ExecuteFunc func(ctx context.Context, deliveryID string) (model.Outcome, error)

// Dispatcher performs HTTP delivery attempts and records each transition in the Store.
// Attempts for one delivery are serialized by Store.ClaimDelivery.
type Dispatcher struct {
	Store       store.Store
	HTTP        *http.Client
	Signer      Signer
	Scheduler   Scheduler
	Notifier    Notifier
	Logger      *zap.Logger
	Backoff     Backoff
	MaxAttempts int
	Timeout     time.Duration
	Lease       time.Duration
	Now         func() time.Time
}

func NewDispatcher(s store.Store, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		Store: s,
		HTTP: &http.Client{
			// redirects count as non-2xx
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		Signer:      HMACSigner{},
		Logger:      logger,
		Backoff:     DefaultBackoff(),
		MaxAttempts: DefaultMaxAttempts,
		Timeout:     DefaultTimeout,
		Lease:       DefaultLease,
	}
}

// Enqueue records a pending delivery of an event to wh and hands it to the
// scheduler for immediate execution. It never waits on the receiver.
func (d *Dispatcher) Enqueue(ctx context.Context, wh model.Webhook, eventID, eventType string, data json.RawMessage) (model.Delivery, error) {
	del, err := d.create(ctx, wh, eventID, eventType, data, model.TriggerEvent, d.maxAttempts())
	if err != nil {
		return model.Delivery{}, err
	}
	if d.Scheduler == nil {
		go func() { _, _ = d.Execute(context.WithoutCancel(ctx), del.ID) }()
		return del, nil
	}
	if err := d.Scheduler.Schedule(ctx, del.ID, del.CreatedAt); err != nil {
		// the sweep worker picks it up from next_attempt_at
		d.logger().Warn("schedule delivery", zap.String("delivery_id", del.ID), zap.Error(err))
	}
	return del, nil
}

// Deliver records a pending delivery and performs the first attempt synchronously.
// Failed attempts are retried through the Scheduler.
func (d *Dispatcher) Deliver(ctx context.Context, wh model.Webhook, eventType string, data json.RawMessage) (model.Outcome, error) {
	del, err := d.create(ctx, wh, "", eventType, data, model.TriggerEvent, d.maxAttempts())
	if err != nil {
		return model.Outcome{}, err
	}
	return d.Execute(ctx, del.ID)
}

// Test sends one synthetic event to a tenant's webhook and reports the result.
// The delivery is recorded with trigger "test" and is never retried.
func (d *Dispatcher) Test(ctx context.Context, tenantID, webhookID string) (model.Outcome, error) {
	wh, err := d.Store.GetWebhook(ctx, tenantID, webhookID)
	if err != nil {
		return model.Outcome{}, err
	}
	if !wh.Active {
		return model.Outcome{}, ErrInactive
	}
	data, _ := json.Marshal(map[string]any{
		"message":   "This is a test event from hookline",
		"webhookId": wh.ID,
		"test":      true,
	})
	del, err := d.create(ctx, wh, "", TestEventType, data, model.TriggerTest, 1)
	if err != nil {
		return model.Outcome{}, err
	}
	return d.Execute(ctx, del.ID)
}

// Execute claims the delivery and performs one attempt. ErrNotClaimable means
// another worker holds it or it is not due; callers drop it.
func (d *Dispatcher) Execute(ctx context.Context, deliveryID string) (model.Outcome, error) {
	del, err := d.Store.ClaimDelivery(ctx, deliveryID, d.now(), d.lease())
	if err != nil {
		return model.Outcome{DeliveryID: deliveryID}, err
	}
	log := d.logger().With(
		zap.String("delivery_id", del.ID),
		zap.String("webhook_id", del.WebhookID),
		zap.String("event_type", del.EventType),
	)
	// outcome writes must land even if the caller goes away
	wctx := context.WithoutCancel(ctx)

	wh, err := d.Store.GetWebhookByID(ctx, del.WebhookID)
	if errors.Is(err, store.ErrNotFound) {
		return d.exhaust(wctx, log, del, reasonDeleted), nil
	}
	if err != nil {
		log.Error("load webhook", zap.Error(err))
		return model.Outcome{DeliveryID: del.ID}, fmt.Errorf("load webhook: %w", err)
	}
	if !wh.Active {
		log.Info("webhook disabled; skipping attempt")
		return d.exhaust(wctx, log, del, reasonDisabled), nil
	}

	attempt := del.Attempts + 1
	req, err := d.buildRequest(ctx, wh, del, attempt)
	if err != nil {
		var cfg *ConfigurationError
		if errors.As(err, &cfg) {
			log.Warn("webhook misconfigured", zap.Error(err))
			return d.exhaust(wctx, log, del, err.Error()), err
		}
		log.Error("build request", zap.Error(err))
		return model.Outcome{DeliveryID: del.ID}, err
	}

	out := d.send(req)
	out.DeliveryID = del.ID
	out.Attempt = attempt
	finished := d.now()
	upd := model.AttemptUpdate{
		CountAttempt:    true,
		ResponseCode:    out.StatusCode,
		Error:           out.Error,
		ResponseExcerpt: out.ResponseBody,
		LatencyMs:       int(out.Latency.Milliseconds()),
		At:              finished,
	}
	switch {
	case out.Success:
		upd.Status = model.DeliverySuccess
	case attempt >= del.MaxAttempts:
		upd.Status = model.DeliveryExhausted
	default:
		upd.Status = model.DeliveryFailed
		next := finished.Add(d.Backoff.Delay(attempt))
		upd.NextAttemptAt = &next
	}
	out.Status = upd.Status

	saved, err := d.Store.UpdateDelivery(wctx, del.ID, upd)
	if err != nil {
		// left claimed; the sweep worker retries it once the lease runs out
		log.Error("record attempt", zap.Int("attempt", attempt), zap.Error(err))
		return out, fmt.Errorf("record attempt: %w", err)
	}
	d.observe(saved, out.Latency)
	log.Info("delivery attempt",
		zap.Int("attempt", attempt),
		zap.Int("status_code", out.StatusCode),
		zap.String("status", string(saved.Status)),
		zap.Duration("latency", out.Latency),
	)

	if saved.Status == model.DeliveryFailed && saved.NextAttemptAt != nil {
		out.Retrying = true
		d.scheduleRetry(wctx, log, saved)
	}
	return out, nil
}

func (d *Dispatcher) scheduleRetry(ctx context.Context, log *zap.Logger, del model.Delivery) {
	if d.Scheduler == nil {
		return
	}
	metrics.WebhookRetries.WithLabelValues(d.Scheduler.Name()).Inc()
	if err := d.Scheduler.Schedule(ctx, del.ID, *del.NextAttemptAt); err != nil {
		log.Warn("schedule retry", zap.Time("next_attempt_at", *del.NextAttemptAt), zap.Error(err))
	}
}

// exhaust ends a delivery without counting an attempt.
func (d *Dispatcher) exhaust(ctx context.Context, log *zap.Logger, del model.Delivery, reason string) model.Outcome {
	out := model.Outcome{DeliveryID: del.ID, Error: reason, Attempt: del.Attempts, Status: model.DeliveryExhausted}
	saved, err := d.Store.UpdateDelivery(ctx, del.ID, model.AttemptUpdate{Status: model.DeliveryExhausted, Error: reason, At: d.now()})
	if err != nil {
		log.Error("exhaust delivery", zap.String("reason", reason), zap.Error(err))
		return out
	}
	d.observe(saved, 0)
	return out
}

func (d *Dispatcher) observe(del model.Delivery, latency time.Duration) {
	metrics.WebhookDeliveries.WithLabelValues(del.EventType, string(del.Status)).Inc()
	if latency > 0 {
		metrics.WebhookLatency.WithLabelValues(del.EventType, string(del.Status)).Observe(float64(latency.Milliseconds()))
	}
	if d.Notifier != nil {
		d.Notifier.DeliveryChanged(del)
	}
}

func (d *Dispatcher) create(ctx context.Context, wh model.Webhook, eventID, eventType string, data json.RawMessage, trigger model.Trigger, max int) (model.Delivery, error) {
	if eventID == "" {
		eventID = "evt_" + uuid.NewString()
	}
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	id := uuid.NewString()
	now := d.now()
	body, err := json.Marshal(model.Envelope{
		ID:         eventID,
		Type:       eventType,
		TenantID:   wh.TenantID,
		WebhookID:  wh.ID,
		DeliveryID: id,
		Timestamp:  now.Format(time.RFC3339Nano),
		Data:       data,
	})
	if err != nil {
		return model.Delivery{}, fmt.Errorf("encode payload: %w", err)
	}
	return d.Store.CreateDelivery(ctx, model.Delivery{
		ID:          id,
		WebhookID:   wh.ID,
		TenantID:    wh.TenantID,
		EventID:     eventID,
		EventType:   eventType,
		Payload:     body,
		Status:      model.DeliveryPending,
		MaxAttempts: max,
		Trigger:     trigger,
		CreatedAt:   now,
	})
}

func (d *Dispatcher) buildRequest(ctx context.Context, wh model.Webhook, del model.Delivery, attempt int) (*http.Request, error) {
	if err := checkDestination(wh.URL); err != nil {
		return nil, err
	}
	sig, err := d.signer().Sign(wh.Secret, del.Payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(del.Payload))
	if err != nil {
		return nil, &ConfigurationError{Field: "url", Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	req.Header.Set("X-Event-Type", del.EventType)
	req.Header.Set("X-Delivery-Id", del.ID)
	req.Header.Set("X-Delivery-Attempt", strconv.Itoa(attempt))
	req.Header.Set("X-Signature", sig)
	return req, nil
}

// send performs the request and classifies the result: only 2xx is success.
func (d *Dispatcher) send(req *http.Request) model.Outcome {
	ctx, cancel := context.WithTimeout(req.Context(), d.timeout())
	defer cancel()
	req = req.WithContext(ctx)
	metrics.WebhookInflight.Inc()
	defer metrics.WebhookInflight.Dec()

	start := time.Now()
	resp, err := d.HTTP.Do(req)
	if err != nil {
		return model.Outcome{Error: err.Error(), Latency: time.Since(start)}
	}
	defer resp.Body.Close()
	b, rerr := io.ReadAll(io.LimitReader(resp.Body, maxResponseRead))
	out := model.Outcome{
		StatusCode:   resp.StatusCode,
		ResponseBody: excerpt(b),
		Latency:      time.Since(start),
		Success:      resp.StatusCode >= 200 && resp.StatusCode < 300,
	}
	if !out.Success {
		out.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	} else if rerr != nil {
		d.logger().Debug("read response body", zap.Error(rerr))
	}
	return out
}

func excerpt(b []byte) string {
	if len(b) > maxExcerpt {
		b = b[:maxExcerpt]
	}
	return strings.ToValidUTF8(string(b), "")
}

func (d *Dispatcher) maxAttempts() int {
	if d.MaxAttempts < 1 {
		return DefaultMaxAttempts
	}
	return d.MaxAttempts
}

func (d *Dispatcher) timeout() time.Duration {
	if d.Timeout <= 0 {
		return DefaultTimeout
	}
	return d.Timeout
}

func (d *Dispatcher) lease() time.Duration {
	if d.Lease <= 0 {
		return DefaultLease
	}
	return d.Lease
}

func (d *Dispatcher) signer() Signer {
	if d.Signer == nil {
		return HMACSigner{}
	}
	return d.Signer
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}
