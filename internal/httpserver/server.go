// Package httpserver wires the gateway's HTTP surface: the gated upstream
// proxy, top-up and claim, the price catalog, health, and the task
// marketplace, all under /api/v1.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/alittlebitofmoney/server/internal/btcprice"
	"github.com/alittlebitofmoney/server/internal/config"
	apierrors "github.com/alittlebitofmoney/server/internal/errors"
	"github.com/alittlebitofmoney/server/internal/hire"
	"github.com/alittlebitofmoney/server/internal/ledger"
	"github.com/alittlebitofmoney/server/internal/lightning"
	"github.com/alittlebitofmoney/server/internal/logger"
	"github.com/alittlebitofmoney/server/internal/metrics"
	"github.com/alittlebitofmoney/server/internal/paywall"
	"github.com/alittlebitofmoney/server/internal/proxy"
	"github.com/alittlebitofmoney/server/internal/ratelimit"
	"github.com/alittlebitofmoney/server/internal/usedhash"
)

// Deps carries the services the HTTP layer composes. Ledger and Hire are nil
// when no database (or in-memory fallback) is available; their endpoints then
// answer 503.
type Deps struct {
	Config  *config.Config
	Gate    *paywall.Gate
	Proxy   *proxy.Proxy
	Ledger  ledger.Store
	Hire    hire.Store
	Phoenix *lightning.Client
	BTC     *btcprice.Fetcher
	Used    *usedhash.Set
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg     *config.Config
	gate    *paywall.Gate
	proxy   *proxy.Proxy
	ledger  ledger.Store
	hire    hire.Store
	phoenix *lightning.Client
	btc     *btcprice.Fetcher
	used    *usedhash.Set
	metrics *metrics.Metrics
	logger  zerolog.Logger
	started time.Time
}

// New builds the HTTP server with a configured router.
func New(deps Deps) *Server {
	router := chi.NewRouter()

	h := handlers{
		cfg:     deps.Config,
		gate:    deps.Gate,
		proxy:   deps.Proxy,
		ledger:  deps.Ledger,
		hire:    deps.Hire,
		phoenix: deps.Phoenix,
		btc:     deps.BTC,
		used:    deps.Used,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		started: time.Now(),
	}
	h.configureRouter(router)

	return &Server{
		handlers: h,
		httpServer: &http.Server{
			Addr:         deps.Config.Server.Address,
			ReadTimeout:  deps.Config.Server.ReadTimeout.Duration,
			WriteTimeout: deps.Config.Server.WriteTimeout.Duration,
			IdleTimeout:  deps.Config.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}
}

func (h *handlers) configureRouter(router chi.Router) {
	if len(h.cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   h.cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"WWW-Authenticate", "X-Lightning-Invoice", "X-Payment-Hash", "X-Price-Sats"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	rateLimitCfg := ratelimit.Config{
		GlobalEnabled: h.cfg.RateLimit.GlobalEnabled,
		GlobalLimit:   h.cfg.RateLimit.GlobalLimit,
		GlobalWindow:  h.cfg.RateLimit.GlobalWindow.Duration,
		PerIPEnabled:  h.cfg.RateLimit.PerIPEnabled,
		PerIPLimit:    h.cfg.RateLimit.PerIPLimit,
		PerIPWindow:   h.cfg.RateLimit.PerIPWindow.Duration,
		Metrics:       h.metrics,
	}
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeNotFound, "Route not found")
	})

	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		// Lightweight endpoints get a short timeout; the gated proxy and
		// marketplace run without one so streams and slow upstreams survive.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(10 * time.Second))
			r.Get("/catalog", h.catalog)
			r.Get("/health", h.health)
		})

		r.Post("/topup", h.createTopup)
		r.Post("/topup/claim", h.claimTopup)

		r.Route("/ai-for-hire", func(r chi.Router) {
			r.Get("/me", h.hireMe)
			r.Get("/tasks", h.hireListTasks)
			r.Post("/tasks", h.hireCreateTask)
			r.Get("/tasks/{taskID}", h.hireTaskDetail)
			r.Post("/tasks/{taskID}/quotes", h.hireCreateQuote)
			r.Patch("/tasks/{taskID}/quotes/{quoteID}", h.hireUpdateQuote)
			r.Post("/tasks/{taskID}/quotes/{quoteID}/accept", h.hireAcceptQuote)
			r.Post("/tasks/{taskID}/quotes/{quoteID}/messages", h.hireSendMessage)
			r.Get("/tasks/{taskID}/quotes/{quoteID}/messages", h.hireGetMessages)
			r.Post("/tasks/{taskID}/deliver", h.hireDeliver)
			r.Post("/tasks/{taskID}/confirm", h.hireConfirm)
			r.Post("/collect", h.hireCollect)
		})

		// Static routes above win over the wildcard, so /topup and
		// /ai-for-hire never reach the gateway.
		r.Post("/{api}/*", h.gateway)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
