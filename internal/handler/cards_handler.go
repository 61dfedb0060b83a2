package handler

import (
	"encoding/json"
	"net/http"

	"github.com/akulinin/cardvault/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Cards — /v1/cards
// ============================================================

func listCardsHandler(cardsSvc *service.CardsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cards")
		defer span.End()

		viewerID := UserIDFromContext(ctx)
		role := RoleFromContext(ctx)

		// Admins may list another user's cards with ?owner_id=.
		ownerID := r.URL.Query().Get("owner_id")
		if ownerID == "" {
			ownerID = viewerID
		}
		// ?status=active narrows the listing to usable cards, unpaged.
		if r.URL.Query().Get("status") == "active" {
			views, err := cardsSvc.ListActiveCards(ctx, viewerID, role, ownerID)
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"cards": views})
			return
		}

		page, pageSize := parsePagination(r)

		views, err := cardsSvc.ListCards(ctx, viewerID, role, ownerID, page, pageSize)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cards": views, "page": page})
	}
}

func getCardHandler(cardsSvc *service.CardsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cards/{cardId}")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		view, err := cardsSvc.GetCard(ctx, UserIDFromContext(ctx), RoleFromContext(ctx), cardID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// lookupCardHandler resolves a card by its plaintext number. POST with
// a JSON body keeps the PAN out of URLs and access logs.
func lookupCardHandler(cardsSvc *service.CardsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/cards/lookup")
		defer span.End()

		var req struct {
			CardNumber string `json:"card_number"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		view, err := cardsSvc.GetCardByNumber(ctx, UserIDFromContext(ctx), RoleFromContext(ctx), req.CardNumber)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func requestBlockHandler(workflowSvc *service.WorkflowService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/cards/{cardId}/block-request")
		defer span.End()

		cardID := chi.URLParam(r, "cardId")
		var req struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		blockReq, err := workflowSvc.RequestBlock(ctx, UserIDFromContext(ctx), cardID, req.Reason)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, blockReq)
	}
}
