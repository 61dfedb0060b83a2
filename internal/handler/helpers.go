package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/akulinin/cardvault/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func parsePagination(r *http.Request) (page, pageSize int) {
	page = 1
	pageSize = 20
	if v := r.URL.Query().Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil && ps > 0 && ps <= 100 {
			pageSize = ps
		}
	}
	return
}

// handleServiceError maps domain errors to HTTP responses. Transfer
// failures unwrap to their cause through errors.As, so a transfer that
// failed on insufficient funds still maps to the specific status.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var validation *domain.ErrValidation
	var insufficientFunds *domain.ErrInsufficientFunds
	var cardBlocked *domain.ErrCardBlocked
	var cardExpired *domain.ErrCardExpired
	var alreadyBlocked *domain.ErrAlreadyBlocked
	var notBlocked *domain.ErrNotBlocked
	var nonZeroBalance *domain.ErrNonZeroBalance
	var forbidden *domain.ErrForbidden
	var unauthorized *domain.ErrUnauthorized
	var conflict *domain.ErrConflict
	var decryption *domain.ErrDecryption
	var exhausted *domain.ErrGenerationExhausted

	switch {
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &insufficientFunds):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &cardBlocked):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &cardExpired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &alreadyBlocked):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &notBlocked):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &nonZeroBalance):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &forbidden):
		logger.Warn("forbidden", zap.String("error", err.Error()))
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &unauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &decryption), errors.As(err, &exhausted):
		logger.Error("crypto failure", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		logger.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
