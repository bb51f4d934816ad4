package monitor

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers serves the monitoring HTTP surface.
type Handlers struct {
	agg                *Aggregator
	adminToken         string
	metricsRequireAuth bool
	logger             *slog.Logger
}

// HandlerOptions configures access to the monitoring endpoints.
type HandlerOptions struct {
	AdminToken         string
	MetricsRequireAuth bool
	Logger             *slog.Logger
}

// NewHandlers binds the monitoring endpoints to an aggregator.
func NewHandlers(agg *Aggregator, opts HandlerOptions) *Handlers {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handlers{
		agg:                agg,
		adminToken:         opts.AdminToken,
		metricsRequireAuth: opts.MetricsRequireAuth,
		logger:             opts.Logger,
	}
}

// Metrics serves the Prometheus exposition format.
func (h *Handlers) Metrics() http.Handler {
	scrape := promhttp.HandlerFor(h.agg.Registry(), promhttp.HandlerOpts{})
	if !h.metricsRequireAuth {
		return scrape
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.authorized(r) {
			writeForbidden(w)
			return
		}
		scrape.ServeHTTP(w, r)
	})
}

// Snapshot serves the dashboard snapshot to admin callers.
func (h *Handlers) Snapshot(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeForbidden(w)
		return
	}
	writeJSON(w, http.StatusOK, h.agg.Snapshot(r.Context()))
}

// Timeline serves a bucketed telemetry series to admin callers.
func (h *Handlers) Timeline(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeForbidden(w)
		return
	}
	timeline, err := h.agg.Timeline(r.Context(), r.URL.Query().Get("range"))
	if errors.Is(err, ErrInvalidRange) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"response": "False",
			"error":    "Invalid range. Use one of: " + strings.Join(RangeTokens(), ", ") + ".",
		})
		return
	}
	if err != nil {
		h.logger.Error("timeline failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"response": "False", "error": "Timeline unavailable."})
		return
	}
	writeJSON(w, http.StatusOK, timeline)
}

// Health reports the rolling-window health without touching telemetry.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeForbidden(w)
		return
	}
	stats := h.agg.Stats()
	status := http.StatusOK
	if !stats.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"response":               "True",
		"healthy":                stats.Healthy,
		"failure_rate_in_window": stats.FailureRateInWindow,
		"window_seconds":         stats.WindowSeconds,
	})
}

func (h *Handlers) authorized(r *http.Request) bool {
	if h.adminToken == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(h.adminToken)) == 1
}

func writeForbidden(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, map[string]any{"response": "False", "error": "Forbidden."})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Debug("write json response", slog.Any("error", err))
	}
}
