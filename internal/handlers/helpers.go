package handlers

import (
	"encoding/json"
	"net/http"

	"classpulse-backend/internal/models"
	"classpulse-backend/internal/services"
)

// Shared response helpers. Every error answer goes through handleServiceError
// so the services taxonomy maps to status codes in exactly one place.

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Fields:    fields,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch e := err.(type) {
	case *services.ValidationError:
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", e.Fields, r))
	case *services.NotFoundError:
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", e.Message, r))
	case *services.UnauthorizedError:
		writeJSON(w, http.StatusUnauthorized, errorResp("UNAUTHORIZED", e.Message, r))
	case *services.InvalidTransitionError:
		writeJSON(w, http.StatusConflict, errorResp("INVALID_STATUS", e.Error(), r))
	case *services.InsufficientQuotaError:
		writeJSON(w, http.StatusTooManyRequests, errorResp("INSUFFICIENT_QUOTA", e.Error(), r))
	case *services.SessionNotLiveError:
		writeJSON(w, http.StatusConflict, errorResp("SESSION_NOT_LIVE", e.Message, r))
	case *services.SessionExpiredError:
		writeJSON(w, http.StatusGone, errorResp("SESSION_EXPIRED", e.Message, r))
	case *services.StoreUnavailableError:
		writeJSON(w, http.StatusBadGateway, errorResp("STORE_UNAVAILABLE", "Live session store is unavailable", r))
	default:
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
	}
}
