/*
server.go - HTTP router, handler wiring and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. zapLogger:  Structured request log + Prometheus counters
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/customers/*   Customers, balances, ledger history
  /api/invoices/*    Invoice management
  /api/payments/*    Payment recording and refunds
  /api/ledger/*      Summary rollups
  /api/scenarios/*   Demo data loaders
  /metrics           Prometheus scrape endpoint
  /healthz           Liveness probe

SECURITY NOTE:
  No authentication middleware. All endpoints are public.
*/
package api

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tally/billing-engine/billing"
	"github.com/tally/billing-engine/ledger"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	store      billing.TxStore
	ledger     *ledger.Ledger
	payments   *billing.Processor
	refunds    *billing.RefundProcessor
	aggregator *ledger.SummaryAggregator
	metrics    *Metrics
	logger     *zap.Logger

	// Track currently loaded demo scenario. Guarded by scenarioMu:
	// loads and reads can arrive on concurrent requests.
	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler wires the handler from the store and the two processors.
func NewHandler(store billing.TxStore, payments *billing.Processor, refunds *billing.RefundProcessor, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:      store,
		ledger:     ledger.New(store),
		payments:   payments,
		refunds:    refunds,
		aggregator: ledger.NewSummaryAggregator(store),
		metrics:    NewMetrics(),
		logger:     logger,
	}
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(zapLogger(h.logger, h.metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.ListCustomers)
			r.Post("/", h.CreateCustomer)
			r.Get("/{id}", h.GetCustomer)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/transactions", h.GetTransactions)
			r.Get("/{id}/invoices", h.GetOpenInvoices)
			r.Get("/{id}/audit", h.AuditBalance)
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Post("/", h.CreateInvoice)
			r.Get("/{id}", h.GetInvoice)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.CreatePayment)
			r.Get("/{id}", h.GetPayment)
			r.Post("/{id}/refund", h.RefundPayment)
		})

		r.Route("/ledger", func(r chi.Router) {
			r.Get("/summary", h.GetSummary)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(h.metrics.Registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
