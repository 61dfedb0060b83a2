package handler

import (
	"net/http"
	"time"

	"github.com/akulinin/cardvault/internal/infra/observability"
	"github.com/akulinin/cardvault/internal/port"
	"github.com/akulinin/cardvault/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Services bundles everything the router needs. Keeps NewRouter's
// signature stable as endpoints come and go.
type Services struct {
	Auth      *service.AuthService
	Cards     *service.CardsService
	Ledger    *service.LedgerService
	Transfer  *service.TransferService
	Workflow  *service.WorkflowService
	Lifecycle *service.LifecycleService
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svcs Services, store port.Store, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(store, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// =============================================
		// Authentication
		// =============================================
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authRegisterHandler(svcs.Auth, logger))
			r.Post("/login", authLoginHandler(svcs.Auth, logger))
			r.Post("/refresh", authRefreshHandler(svcs.Auth, logger))

			r.Group(func(r chi.Router) {
				r.Use(JWTAuthMiddleware(svcs.Auth, logger))
				r.Post("/logout", authLogoutHandler(svcs.Auth, logger))
			})
		})

		// =============================================
		// Authenticated user endpoints
		// =============================================
		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(svcs.Auth, logger))

			// Cards
			r.Get("/cards", listCardsHandler(svcs.Cards, logger))
			r.Get("/cards/{cardId}", getCardHandler(svcs.Cards, logger))
			// PAN travels in the body, never in the URL.
			r.Post("/cards/lookup", lookupCardHandler(svcs.Cards, logger))
			r.Post("/cards/{cardId}/block-request", requestBlockHandler(svcs.Workflow, logger))
			r.Post("/block-requests/{requestId}/cancel", cancelBlockRequestHandler(svcs.Workflow, logger))

			// Transfers
			r.Post("/transfers", createTransferHandler(svcs.Transfer, logger))
			r.Get("/transfers", listTransfersHandler(svcs.Transfer, logger))
			r.Get("/transfers/{transferId}", getTransferHandler(svcs.Transfer, logger))

			// Card applications
			r.Post("/applications", createApplicationHandler(svcs.Workflow, logger))
			r.Get("/applications", listApplicationsHandler(svcs.Workflow, logger))
			r.Post("/applications/{applicationId}/cancel", cancelApplicationHandler(svcs.Workflow, logger))
		})

		// =============================================
		// Admin endpoints
		// =============================================
		r.Route("/admin", func(r chi.Router) {
			r.Use(JWTAuthMiddleware(svcs.Auth, logger))
			r.Use(AdminOnly(logger))

			r.Post("/cards", adminIssueCardHandler(svcs.Ledger, svcs.Cards, logger))
			r.Post("/cards/sweep", adminSweepHandler(svcs.Lifecycle, logger))
			r.Post("/cards/{cardId}/credit", adminCreditHandler(svcs.Ledger, svcs.Cards, logger))
			r.Post("/cards/{cardId}/debit", adminDebitHandler(svcs.Ledger, svcs.Cards, logger))
			r.Post("/cards/{cardId}/block", adminBlockCardHandler(svcs.Ledger, svcs.Cards, logger))
			r.Post("/cards/{cardId}/unblock", adminUnblockCardHandler(svcs.Ledger, svcs.Cards, logger))
			r.Delete("/cards/{cardId}", adminDeleteCardHandler(svcs.Ledger, logger))

			r.Get("/applications", adminListApplicationsHandler(svcs.Workflow, logger))
			r.Post("/applications/{applicationId}/approve", adminApproveApplicationHandler(svcs.Workflow, svcs.Cards, logger))
			r.Post("/applications/{applicationId}/reject", adminRejectApplicationHandler(svcs.Workflow, logger))

			r.Get("/block-requests", adminListBlockRequestsHandler(svcs.Workflow, logger))
			r.Post("/block-requests/{requestId}/approve", adminApproveBlockRequestHandler(svcs.Workflow, logger))
			r.Post("/block-requests/{requestId}/reject", adminRejectBlockRequestHandler(svcs.Workflow, logger))

			r.Get("/stats", adminStatsHandler(metrics))
		})
	})

	return r
}

// ============================================================
// Health
// ============================================================

func healthzHandler(store port.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		start := time.Now()
		status := "healthy"
		if err := store.Ping(ctx); err != nil {
			logger.Warn("health check: database unreachable", zap.Error(err))
			status = "degraded"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     status,
			"db_latency": time.Since(start).Milliseconds(),
			"checked_at": time.Now().Format(time.RFC3339),
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
