package routes

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"anchorledger/core/events"
	"anchorledger/gateway/middleware"
	"anchorledger/native/bank"
	"anchorledger/native/pledge"
)

type Config struct {
	Engine        *pledge.Engine
	Book          *bank.Book
	Broadcaster   *events.Broadcaster
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	Logger        *slog.Logger
	// MetricsHandler defaults to the process-wide prometheus registry.
	MetricsHandler http.Handler
}

// New assembles the ledger API. Reads go through the optional authenticator
// and writes require a token whose subject becomes the caller.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("routes: ledger engine required")
	}
	if cfg.Book == nil {
		return nil, errors.New("routes: balance book required")
	}
	if cfg.Authenticator == nil {
		return nil, errors.New("routes: authenticator required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	obs := cfg.Observability
	if obs == nil {
		obs = middleware.NewObservability(middleware.ObservabilityConfig{}, logger)
	}
	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	h := &handlers{
		engine: cfg.Engine,
		book:   cfg.Book,
		self:   cfg.Engine.ConfigSnapshot().Self,
		bus:    cfg.Broadcaster,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metricsHandler)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(reads chi.Router) {
			reads.Use(cfg.Authenticator.Optional)
			reads.Use(obs.Middleware("views"))
			reads.Get("/config", h.getConfig)
			reads.Get("/state", h.getState)
			reads.Get("/seal-hash", h.getSealHash)
			reads.Get("/anchors", h.listAnchors)
			reads.Get("/anchors/id/{id}", h.getAnchorByID)
			reads.Get("/anchors/{hash}", h.getAnchor)
			reads.Get("/pledges/{depositor}", h.listPledges)
			reads.Get("/pledges/{depositor}/{index}", h.getPledge)
			if h.bus != nil {
				reads.Get("/events/ws", h.streamEvents)
			}
		})
		v1.Group(func(writes chi.Router) {
			writes.Use(cfg.Authenticator.Require)
			if cfg.RateLimiter != nil {
				writes.Use(cfg.RateLimiter.Middleware("ledger"))
			}
			writes.Use(obs.Middleware("ledger"))
			writes.Post("/anchors", h.createAnchor)
			writes.Post("/anchors/{hash}/seal", h.sealAnchor)
			writes.Post("/pledges", h.pledge)
			writes.Post("/pledges/record", h.recordPledge)
			writes.Post("/claims", h.claim)
			writes.Post("/treasury/sweep", h.sweep)
			writes.Post("/fallback/forward", h.forward)
		})
	})

	return otelhttp.NewHandler(r, "anchorledger.gateway"), nil
}
