package handler

import (
	"encoding/json"
	"net/http"

	"github.com/akulinin/cardvault/internal/domain"
	"github.com/akulinin/cardvault/internal/infra/observability"
	"github.com/akulinin/cardvault/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ============================================================
// Admin — /v1/admin
// ============================================================

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func adminCreditHandler(ledgerSvc *service.LedgerService, cardsSvc *service.CardsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/cards/{cardId}/credit")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		var req amountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		card, err := ledgerSvc.Credit(ctx, cardID, req.Amount)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, cardsSvc.PresentCard(card, UserIDFromContext(ctx)))
	}
}

func adminDebitHandler(ledgerSvc *service.LedgerService, cardsSvc *service.CardsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/cards/{cardId}/debit")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		var req amountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		card, err := ledgerSvc.Debit(ctx, cardID, req.Amount)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, cardsSvc.PresentCard(card, UserIDFromContext(ctx)))
	}
}

func adminBlockCardHandler(ledgerSvc *service.LedgerService, cardsSvc *service.CardsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/cards/{cardId}/block")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		var req struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		card, err := ledgerSvc.Block(ctx, cardID, req.Reason)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, cardsSvc.PresentCard(card, UserIDFromContext(ctx)))
	}
}

func adminUnblockCardHandler(ledgerSvc *service.LedgerService, cardsSvc *service.CardsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/cards/{cardId}/unblock")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		card, err := ledgerSvc.Unblock(ctx, cardID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, cardsSvc.PresentCard(card, UserIDFromContext(ctx)))
	}
}

func adminDeleteCardHandler(ledgerSvc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/admin/cards/{cardId}")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		if err := ledgerSvc.DeleteIfEmpty(ctx, cardID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func adminIssueCardHandler(ledgerSvc *service.LedgerService, cardsSvc *service.CardsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/cards")
		defer span.End()

		var req struct {
			OwnerID  string `json:"owner_id"`
			CardType string `json:"card_type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		card, err := ledgerSvc.IssueCard(ctx, req.OwnerID, domain.CardType(req.CardType))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, cardsSvc.PresentCard(card, UserIDFromContext(ctx)))
	}
}

// --- applications moderation ---

func adminListApplicationsHandler(workflowSvc *service.WorkflowService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/applications")
		defer span.End()

		page, pageSize := parsePagination(r)
		apps, err := workflowSvc.ListPendingApplications(ctx, page, pageSize)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"applications": apps, "page": page})
	}
}

func adminApproveApplicationHandler(workflowSvc *service.WorkflowService, cardsSvc *service.CardsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/applications/{applicationId}/approve")
		defer span.End()

		appID := chi.URLParam(r, "applicationId")
		var req struct {
			Comment string `json:"comment"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		card, err := workflowSvc.ApproveApplication(ctx, appID, req.Comment)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, cardsSvc.PresentCard(card, UserIDFromContext(ctx)))
	}
}

func adminRejectApplicationHandler(workflowSvc *service.WorkflowService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/applications/{applicationId}/reject")
		defer span.End()

		appID := chi.URLParam(r, "applicationId")
		var req struct {
			Comment string `json:"comment"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		app, err := workflowSvc.RejectApplication(ctx, appID, req.Comment)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, app)
	}
}

// --- block-request moderation ---

func adminListBlockRequestsHandler(workflowSvc *service.WorkflowService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/block-requests")
		defer span.End()

		page, pageSize := parsePagination(r)
		reqs, err := workflowSvc.ListPendingBlockRequests(ctx, page, pageSize)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"block_requests": reqs, "page": page})
	}
}

func adminApproveBlockRequestHandler(workflowSvc *service.WorkflowService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/block-requests/{requestId}/approve")
		defer span.End()

		requestID := chi.URLParam(r, "requestId")
		var req struct {
			AdminComment string `json:"admin_comment"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		blockReq, err := workflowSvc.ApproveBlockRequest(ctx, requestID, req.AdminComment)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, blockReq)
	}
}

func adminRejectBlockRequestHandler(workflowSvc *service.WorkflowService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/block-requests/{requestId}/reject")
		defer span.End()

		requestID := chi.URLParam(r, "requestId")
		var req struct {
			AdminComment string `json:"admin_comment"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		blockReq, err := workflowSvc.RejectBlockRequest(ctx, requestID, req.AdminComment)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, blockReq)
	}
}

// --- operations ---

// adminSweepHandler runs the expiry sweep on demand. The sweep is guarded
// by an advisory lock, so a concurrent scheduled run is skipped rather
// than doubled.
func adminSweepHandler(lifecycleSvc *service.LifecycleService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/cards/sweep")
		defer span.End()

		result, err := lifecycleSvc.SweepExpiredCards(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func adminStatsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/admin/stats")
		defer span.End()

		writeJSON(w, http.StatusOK, metrics.GetTransferStats())
	}
}
