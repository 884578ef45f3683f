package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"hookline/internal/store"
	"hookline/internal/webhooks"
)

const maxBodyBytes = 1 << 20

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps domain errors to problem responses. Anything unrecognized is
// logged and reported as a 500 without internal detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var cfg *webhooks.ConfigurationError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", "webhook not found", r.URL.Path)
	case errors.Is(err, webhooks.ErrInactive):
		writeProblem(w, http.StatusConflict, "Webhook Inactive", "webhook is disabled", r.URL.Path)
	case errors.As(err, &cfg):
		writeProblem(w, http.StatusBadRequest, "Webhook Misconfigured", cfg.Error(), r.URL.Path)
	default:
		s.logger().Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "", r.URL.Path)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("unexpected data after JSON body")
	}
	return nil
}
