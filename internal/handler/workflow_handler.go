package handler

import (
	"encoding/json"
	"net/http"

	"github.com/akulinin/cardvault/internal/domain"
	"github.com/akulinin/cardvault/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Card applications — /v1/applications
// ============================================================

func createApplicationHandler(workflowSvc *service.WorkflowService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/applications")
		defer span.End()

		var req struct {
			CardType string `json:"card_type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		app, err := workflowSvc.ApplyForCard(ctx, UserIDFromContext(ctx), domain.CardType(req.CardType))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, app)
	}
}

func listApplicationsHandler(workflowSvc *service.WorkflowService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/applications")
		defer span.End()

		page, pageSize := parsePagination(r)
		apps, err := workflowSvc.ListUserApplications(ctx, UserIDFromContext(ctx), page, pageSize)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"applications": apps, "page": page})
	}
}

func cancelApplicationHandler(workflowSvc *service.WorkflowService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/applications/{applicationId}/cancel")
		defer span.End()

		appID := chi.URLParam(r, "applicationId")
		app, err := workflowSvc.CancelApplication(ctx, UserIDFromContext(ctx), appID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, app)
	}
}

// ============================================================
// Block requests — /v1/block-requests
// ============================================================

func cancelBlockRequestHandler(workflowSvc *service.WorkflowService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/block-requests/{requestId}/cancel")
		defer span.End()

		requestID := chi.URLParam(r, "requestId")
		req, err := workflowSvc.CancelBlockRequest(ctx, UserIDFromContext(ctx), requestID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}
