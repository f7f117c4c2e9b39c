package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const healthCheckTimeout = 5 * time.Second

// HealthCheck reports a dependency failure, nil when healthy.
type HealthCheck func(ctx context.Context) error

// RouterConfig holds what the HTTP surface exposes.
type RouterConfig struct {
	Transport string
	Gatherer  prometheus.Gatherer
	// TwilioWebhook receives inbound Twilio messages; nil when the
	// transport is whatsmeow.
	TwilioWebhook http.HandlerFunc
	Checks        map[string]HealthCheck
}

type healthResponse struct {
	Status    string            `json:"status"`
	Transport string            `json:"transport"`
	Timestamp string            `json:"timestamp"`
	Failures  map[string]string `json:"failures,omitempty"`
}

// NewRouter builds the chi router: /healthz, /metrics and, for Twilio,
// /twilio/webhook.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthHandler(cfg))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if cfg.TwilioWebhook != nil {
		r.Post("/twilio/webhook", cfg.TwilioWebhook)
	}
	return r
}

func healthHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp := healthResponse{
			Status:    "healthy",
			Transport: cfg.Transport,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		for name, check := range cfg.Checks {
			if err := check(ctx); err != nil {
				if resp.Failures == nil {
					resp.Failures = make(map[string]string)
				}
				resp.Failures[name] = err.Error()
				resp.Status = "degraded"
			}
		}
		code := http.StatusOK
		if resp.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSONResponse(w, code, resp)
	}
}
