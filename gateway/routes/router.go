package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stabilis/gateway/middleware"
	"stabilis/native/stabilization"
	"stabilis/observability/metrics"
)

// Config wires the HTTP surface to the stabilization engine.
type Config struct {
	Engine      *stabilization.Controller
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter
	CORS        middleware.CORSConfig
	Metrics     *metrics.StabilizationMetrics
	// Now supplies engine timestamps; defaults to the wall clock.
	Now func() uint64
}

// New builds the gateway router: health and metrics endpoints at the root,
// engine operations under /v1.
func New(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() uint64 { return uint64(time.Now().Unix()) }
	}
	api := &engineAPI{
		engine:  cfg.Engine,
		logger:  logger,
		metrics: cfg.Metrics,
		now:     now,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware)
		}
		sr.Get("/status", api.handleStatus)
		sr.Get("/prices", api.handlePrices)
		sr.Get("/claimable/{source}/{account}", api.handleClaimable)
		sr.Post("/swap", api.handleSwap)
		sr.Post("/claim", api.handleClaim)
	})
	return r
}
