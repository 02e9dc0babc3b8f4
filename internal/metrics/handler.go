package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	serviceName       = "egtts-worker"
	modelStateFailed  = "failed"
	readHeaderTimeout = 5 * time.Second
)

// HealthResponse is the body served on /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Model   string `json:"model"`
}

// Handler serves the metrics and health endpoints.
type Handler struct {
	gatherer   prometheus.Gatherer
	modelState func() string
	log        *logger.Logger
}

// NewHandler creates a Handler. modelState reports the model lifecycle state
// ("unloaded", "loaded" or "failed").
func NewHandler(gatherer prometheus.Gatherer, modelState func() string, log *logger.Logger) *Handler {
	return &Handler{
		gatherer:   gatherer,
		modelState: modelState,
		log:        log,
	}
}

// MetricsHandler returns the Prometheus scrape handler.
func (h *Handler) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})
}

// HealthHandler reports the service status. A failed model load makes the
// worker unhealthy.
func (h *Handler) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	state := h.modelState()

	resp := HealthResponse{Status: "ok", Service: serviceName, Model: state}
	status := http.StatusOK

	if state == modelStateFailed {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(resp)
	if err != nil {
		h.log.Warn("Failed to write health response: %v", err)
	}
}

// NewServer builds the HTTP server for /metrics and /health on addr.
func NewServer(addr string, h *Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", h.MetricsHandler())
	mux.HandleFunc("GET /health", h.HealthHandler)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}
