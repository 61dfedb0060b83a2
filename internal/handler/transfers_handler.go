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
// Transfers — /v1/transfers
// ============================================================

func createTransferHandler(transferSvc *service.TransferService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/transfers")
		defer span.End()

		var req domain.TransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		transfer, err := transferSvc.Transfer(ctx, UserIDFromContext(ctx), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, transfer)
	}
}

func listTransfersHandler(transferSvc *service.TransferService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/transfers")
		defer span.End()

		page, pageSize := parsePagination(r)
		cardID := r.URL.Query().Get("card_id")

		transfers, err := transferSvc.GetUserTransfers(ctx, UserIDFromContext(ctx), cardID, page, pageSize)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transfers": transfers, "page": page})
	}
}

func getTransferHandler(transferSvc *service.TransferService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/transfers/{transferId}")
		defer span.End()

		transferID := chi.URLParam(r, "transferId")
		transfer, err := transferSvc.GetTransfer(ctx, UserIDFromContext(ctx), RoleFromContext(ctx), transferID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, transfer)
	}
}
