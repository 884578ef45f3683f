package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"hookline/internal/auth"
	"hookline/internal/config"
	"hookline/internal/metrics"
	"hookline/internal/store"
	"hookline/internal/webhooks"
)

type Server struct {
	Store      store.Store
	Registry   *webhooks.Registry
	Dispatcher *webhooks.Dispatcher
	Query      *webhooks.Query
	Pub        *webhooks.Publisher
	Auth       *auth.Verifier
	Broker     EventBroker
	Logger     *zap.Logger
	Config     config.Config
	limiter    *tenantLimiter
}

// NewServer wires the webhook components around s. The dispatcher has no
// scheduler yet; the caller picks one and assigns Dispatcher.Scheduler.
func NewServer(cfg config.Config, s store.Store, broker EventBroker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if broker == nil {
		broker = NewBroker()
	}
	metrics.RegisterDefault()
	reg := webhooks.NewRegistry(s)
	disp := webhooks.NewDispatcher(s, logger.Named("dispatcher"))
	disp.MaxAttempts = cfg.Webhook.MaxAttempts
	disp.Timeout = cfg.Webhook.Timeout
	disp.Lease = cfg.Webhook.Lease
	disp.Backoff = webhooks.Backoff{Base: cfg.Webhook.BackoffBase, Max: cfg.Webhook.BackoffMax, Jitter: cfg.Webhook.Jitter}
	disp.Notifier = BrokerNotifier{Broker: broker}
	return &Server{
		Store:      s,
		Registry:   reg,
		Dispatcher: disp,
		Query:      webhooks.NewQuery(reg, s),
		Pub:        webhooks.NewPublisher(reg, disp, logger.Named("publisher")),
		Auth:       auth.NewVerifier(cfg.Auth),
		Broker:     broker,
		Logger:     logger,
		Config:     cfg,
		limiter:    newTenantLimiter(cfg.Rate.RPS, cfg.Rate.Burst),
	}
}

// Routes registers every endpoint on a new mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Webhooks
	mux.Handle("/v1/webhooks", s.limited(s.WebhooksHandler))
	mux.Handle("/v1/webhooks/", s.limited(s.WebhookByIDHandler)) // includes /deliveries, /test, /stats, /enable

	// Events
	mux.Handle("/v1/events", s.limited(s.EventsHandler))

	// Health, metrics, docs
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/config", s.DebugJSON)
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/openapi.json", s.OpenAPIJSONHandler)
	return mux
}

// Handler is Routes wrapped in request logging and metrics.
func (s *Server) Handler() http.Handler {
	return s.logMiddleware(s.Routes())
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check DB connectivity when the store supports it
	type pinger interface{ Ping(ctx context.Context) error }
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
