package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"hookline/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies the embedded schema files in lexical order. Files are idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := migrationsFS.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

const webhookCols = `id::text, tenant_id, url, secret, events, active, COALESCE(description,''), created_at, updated_at`

func scanWebhook(row interface{ Scan(...any) error }) (model.Webhook, error) {
	var wh model.Webhook
	var events pq.StringArray
	err := row.Scan(&wh.ID, &wh.TenantID, &wh.URL, &wh.Secret, &events, &wh.Active, &wh.Description, &wh.CreatedAt, &wh.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Webhook{}, ErrNotFound
	}
	if err != nil {
		return model.Webhook{}, err
	}
	wh.Events = []string(events)
	return wh, nil
}

func (p *Postgres) CreateWebhook(ctx context.Context, wh model.Webhook) (model.Webhook, error) {
	if wh.ID == "" {
		wh.ID = uuid.New().String()
	}
	row := p.db.QueryRowContext(ctx, `INSERT INTO webhooks (id, tenant_id, url, secret, events, active, description)
        VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING `+webhookCols,
		wh.ID, wh.TenantID, wh.URL, wh.Secret, pq.StringArray(wh.Events), wh.Active, nullIfEmpty(wh.Description))
	return scanWebhook(row)
}

func (p *Postgres) GetWebhook(ctx context.Context, tenantID, id string) (model.Webhook, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Webhook{}, ErrNotFound
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+webhookCols+` FROM webhooks WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return scanWebhook(row)
}

func (p *Postgres) GetWebhookByID(ctx context.Context, id string) (model.Webhook, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Webhook{}, ErrNotFound
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+webhookCols+` FROM webhooks WHERE id=$1`, id)
	return scanWebhook(row)
}

func (p *Postgres) ListWebhooks(ctx context.Context, tenantID string) ([]model.Webhook, error) {
	return p.queryWebhooks(ctx, `SELECT `+webhookCols+` FROM webhooks WHERE tenant_id=$1 ORDER BY created_at, id`, tenantID)
}

func (p *Postgres) ListWebhooksForEvent(ctx context.Context, tenantID, eventType string) ([]model.Webhook, error) {
	return p.queryWebhooks(ctx, `SELECT `+webhookCols+` FROM webhooks
        WHERE tenant_id=$1 AND active AND (events @> ARRAY[$2]::text[] OR events @> ARRAY['*']::text[])
        ORDER BY created_at, id`, tenantID, eventType)
}

func (p *Postgres) queryWebhooks(ctx context.Context, q string, args ...any) ([]model.Webhook, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Webhook{}
	for rows.Next() {
		wh, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wh)
	}
	return out, rows.Err()
}

func (p *Postgres) SetWebhookActive(ctx context.Context, tenantID, id string, active bool) (model.Webhook, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Webhook{}, ErrNotFound
	}
	row := p.db.QueryRowContext(ctx, `UPDATE webhooks SET active=$3, updated_at=now() WHERE tenant_id=$1 AND id=$2 RETURNING `+webhookCols,
		tenantID, id, active)
	return scanWebhook(row)
}

const deliveryCols = `id::text, webhook_id::text, tenant_id, event_id, event_type, payload, status, response_code, error,
    response_excerpt, attempts, max_attempts, trigger_kind, latency_ms, next_attempt_at, created_at, updated_at, completed_at`

func scanDelivery(row interface{ Scan(...any) error }) (model.Delivery, error) {
	var d model.Delivery
	var code sql.NullInt64
	var errStr, excerpt sql.NullString
	var nextAt, completedAt sql.NullTime
	var status, trigger string
	var payload []byte
	err := row.Scan(&d.ID, &d.WebhookID, &d.TenantID, &d.EventID, &d.EventType, &payload, &status, &code, &errStr,
		&excerpt, &d.Attempts, &d.MaxAttempts, &trigger, &d.LatencyMs, &nextAt, &d.CreatedAt, &d.UpdatedAt, &completedAt)
	if err != nil {
		return model.Delivery{}, err
	}
	d.Payload = payload
	d.Status = model.DeliveryStatus(status)
	d.Trigger = model.Trigger(trigger)
	if code.Valid {
		c := int(code.Int64)
		d.ResponseCode = &c
	}
	if errStr.Valid {
		d.Error = &errStr.String
	}
	if excerpt.Valid {
		d.ResponseExcerpt = &excerpt.String
	}
	if nextAt.Valid {
		d.NextAttemptAt = &nextAt.Time
	}
	if completedAt.Valid {
		d.CompletedAt = &completedAt.Time
	}
	return d, nil
}

func (p *Postgres) CreateDelivery(ctx context.Context, d model.Delivery) (model.Delivery, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = model.DeliveryPending
	}
	if d.Trigger == "" {
		d.Trigger = model.TriggerEvent
	}
	// Timestamps come from the caller's clock; ClaimDelivery compares against the same clock.
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	var next any
	if !d.Status.Terminal() {
		next = d.CreatedAt
		if d.NextAttemptAt != nil {
			next = *d.NextAttemptAt
		}
	}
	row := p.db.QueryRowContext(ctx, `INSERT INTO webhook_deliveries
        (id, webhook_id, tenant_id, event_id, event_type, payload, status, attempts, max_attempts, trigger_kind,
         next_attempt_at, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,0,$8,$9,$10,$11,$11)
        RETURNING `+deliveryCols,
		d.ID, d.WebhookID, d.TenantID, d.EventID, d.EventType, []byte(d.Payload), string(d.Status), d.MaxAttempts, string(d.Trigger),
		next, d.CreatedAt)
	return scanDelivery(row)
}

func (p *Postgres) GetDelivery(ctx context.Context, id string) (model.Delivery, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Delivery{}, ErrNotFound
	}
	d, err := scanDelivery(p.db.QueryRowContext(ctx, `SELECT `+deliveryCols+` FROM webhook_deliveries WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Delivery{}, ErrNotFound
	}
	return d, err
}

func (p *Postgres) ClaimDelivery(ctx context.Context, id string, now time.Time, lease time.Duration) (model.Delivery, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Delivery{}, ErrNotClaimable
	}
	row := p.db.QueryRowContext(ctx, `UPDATE webhook_deliveries SET next_attempt_at=$3, updated_at=$2
        WHERE id=$1 AND status IN ('pending','failed') AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
        RETURNING `+deliveryCols, id, now, now.Add(lease))
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Delivery{}, ErrNotClaimable
	}
	return d, err
}

// UpdateDelivery is a single guarded UPDATE: a row already in a terminal state, or one whose
// attempt counter is at its cap, matches nothing and the caller gets ErrTerminal.
func (p *Postgres) UpdateDelivery(ctx context.Context, id string, upd model.AttemptUpdate) (model.Delivery, error) {
	if !model.DeliveryPending.CanTransition(upd.Status) {
		return model.Delivery{}, ErrTerminal
	}
	at := upd.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	inc := 0
	if upd.CountAttempt {
		inc = 1
	}
	var next any
	if upd.NextAttemptAt != nil && !upd.Status.Terminal() {
		next = *upd.NextAttemptAt
	}
	row := p.db.QueryRowContext(ctx, `UPDATE webhook_deliveries SET
            status = $2::text,
            attempts = attempts + $3::int,
            response_code = CASE WHEN $3::int = 1 THEN $4::int ELSE COALESCE($4::int, response_code) END,
            error = CASE WHEN $3::int = 1 THEN $5::text ELSE COALESCE($5::text, error) END,
            response_excerpt = CASE WHEN $3::int = 1 THEN $6::text ELSE response_excerpt END,
            latency_ms = CASE WHEN $3::int = 1 THEN $7::int ELSE latency_ms END,
            next_attempt_at = CASE WHEN $2::text IN ('success','exhausted') THEN NULL ELSE COALESCE($8::timestamptz, next_attempt_at) END,
            completed_at = CASE WHEN $2::text IN ('success','exhausted') THEN $9::timestamptz ELSE NULL END,
            updated_at = $9::timestamptz
        WHERE id=$1 AND status IN ('pending','failed') AND attempts + $3::int <= max_attempts
        RETURNING `+deliveryCols,
		id, string(upd.Status), inc, nullIfZero(upd.ResponseCode), nullIfEmpty(upd.Error), nullIfEmpty(upd.ResponseExcerpt), upd.LatencyMs, next, at)
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, gerr := p.GetDelivery(ctx, id); errors.Is(gerr, ErrNotFound) {
			return model.Delivery{}, ErrNotFound
		}
		return model.Delivery{}, ErrTerminal
	}
	return d, err
}

func (p *Postgres) DueDeliveries(ctx context.Context, now time.Time, limit int) ([]model.Delivery, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return p.queryDeliveries(ctx, `SELECT `+deliveryCols+` FROM webhook_deliveries
        WHERE status IN ('pending','failed') AND next_attempt_at <= $1 ORDER BY next_attempt_at ASC LIMIT $2`, now, limit)
}

func (p *Postgres) ListDeliveries(ctx context.Context, webhookID string, offset, limit int) ([]model.Delivery, error) {
	if offset < 0 {
		offset = 0
	}
	return p.queryDeliveries(ctx, `SELECT `+deliveryCols+` FROM webhook_deliveries
        WHERE webhook_id=$1 ORDER BY created_at DESC, id DESC OFFSET $2 LIMIT $3`, webhookID, offset, limit)
}

func (p *Postgres) queryDeliveries(ctx context.Context, q string, args ...any) ([]model.Delivery, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) CountDeliveries(ctx context.Context, webhookID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM webhook_deliveries WHERE webhook_id=$1`, webhookID).Scan(&n)
	return n, err
}

func (p *Postgres) DeliveryStats(ctx context.Context, webhookID string, since time.Time) ([]model.DeliveryStats, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT status, count(*), COALESCE(avg(latency_ms),0)::int
        FROM webhook_deliveries WHERE webhook_id=$1 AND created_at >= $2 GROUP BY status ORDER BY status`, webhookID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.DeliveryStats{}
	for rows.Next() {
		var s model.DeliveryStats
		var st string
		if err := rows.Scan(&st, &s.Count, &s.AvgLatencyMs); err != nil {
			return nil, err
		}
		s.Status = model.DeliveryStatus(st)
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
