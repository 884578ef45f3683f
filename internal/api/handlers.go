package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hookline/internal/model"
	"hookline/internal/webhooks"
)

// WebhooksHandler handles GET/POST /v1/webhooks
func (s *Server) WebhooksHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/webhooks" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	pr, ok := s.principal(w, r)
	if !ok {
		return
	}
	tenant := pr.Tenant
	switch r.Method {
	case http.MethodGet:
		items, err := s.Registry.List(r.Context(), tenant)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"webhooks": items})
	case http.MethodPost:
		if !canManage(w, r, pr) {
			return
		}
		var req model.WebhookRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validate.Struct(req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid webhook", validationDetail(err), r.URL.Path)
			return
		}
		wh, err := s.Registry.Create(r.Context(), tenant, req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, wh)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// WebhookByIDHandler handles /v1/webhooks/{id} and its sub-resources:
// GET|DELETE /{id}, POST /{id}/enable, POST /{id}/test, GET /{id}/stats,
// GET /{id}/deliveries, GET /{id}/deliveries/stream, GET /{id}/deliveries/{deliveryId}
func (s *Server) WebhookByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.Trim(strings.TrimPrefix(path, "/v1/webhooks/"), "/")
	if rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
		return
	}
	pr, ok := s.principal(w, r)
	if !ok {
		return
	}
	tenant := pr.Tenant
	parts := strings.Split(rest, "/")
	id := parts[0]
	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			wh, err := s.Registry.Resolve(r.Context(), tenant, id)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, wh)
		case http.MethodDelete:
			if !canManage(w, r, pr) {
				return
			}
			wh, err := s.Registry.Disable(r.Context(), tenant, id)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, wh)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(parts) == 2 && parts[1] == "enable":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !canManage(w, r, pr) {
			return
		}
		wh, err := s.Registry.Enable(r.Context(), tenant, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, wh)
	case len(parts) == 2 && parts[1] == "test":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !canManage(w, r, pr) {
			return
		}
		s.testWebhook(w, r, tenant, id)
	case len(parts) == 2 && parts[1] == "stats":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.deliveryStats(w, r, tenant, id)
	case len(parts) == 2 && parts[1] == "deliveries":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.listDeliveries(w, r, tenant, id)
	case len(parts) == 3 && parts[1] == "deliveries" && parts[2] == "stream":
		s.DeliveryStreamHandler(w, r, tenant, id)
	case len(parts) == 3 && parts[1] == "deliveries":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		d, err := s.Query.GetDelivery(r.Context(), tenant, id, parts[2])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", path)
	}
}

func (s *Server) listDeliveries(w http.ResponseWriter, r *http.Request, tenant, id string) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid page", err.Error(), r.URL.Path)
		return
	}
	limit, err := queryInt(r, "limit", model.DefaultPageLimit)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid limit", err.Error(), r.URL.Path)
		return
	}
	res, err := s.Query.ListDeliveries(r.Context(), tenant, id, page, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// testWebhook performs one synchronous attempt. A receiver failure is a 400
// carrying the full outcome; system failures stay 5xx.
func (s *Server) testWebhook(w http.ResponseWriter, r *http.Request, tenant, id string) {
	out, err := s.Dispatcher.Test(r.Context(), tenant, id)
	var cfg *webhooks.ConfigurationError
	switch {
	case errors.As(err, &cfg):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": cfg.Error(), "details": out})
		return
	case err != nil:
		s.writeError(w, r, err)
		return
	}
	if !out.Success {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Test webhook delivery failed", "details": out})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "Test webhook delivered successfully",
		"statusCode":   out.StatusCode,
		"responseBody": out.ResponseBody,
		"deliveryId":   out.DeliveryID,
	})
}

func (s *Server) deliveryStats(w http.ResponseWriter, r *http.Request, tenant, id string) {
	sinceHours, err := queryInt(r, "sinceHours", 24)
	if err != nil || sinceHours < 0 {
		writeProblem(w, http.StatusBadRequest, "Invalid sinceHours", "", r.URL.Path)
		return
	}
	var since time.Time
	if sinceHours > 0 {
		since = time.Now().UTC().Add(-time.Duration(sinceHours) * time.Hour)
	}
	stats, err := s.Query.Stats(r.Context(), tenant, id, since)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sinceHours": sinceHours, "stats": stats})
}

// EventsHandler handles POST /v1/events: fan an event out to subscribed webhooks.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/events" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	pr, ok := s.principal(w, r)
	if !ok {
		return
	}
	if !canManage(w, r, pr) {
		return
	}
	tenant := pr.Tenant
	var req model.EventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid event", validationDetail(err), r.URL.Path)
		return
	}
	if req.Type == webhooks.TestEventType {
		writeProblem(w, http.StatusBadRequest, "Invalid event", "reserved event type", r.URL.Path)
		return
	}
	data := req.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	eventID, ids, err := s.Pub.Emit(r.Context(), tenant, req.Type, data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"eventId": eventID, "deliveries": ids})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
