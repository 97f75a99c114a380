package handlers

import (
	"encoding/json"
	"net/http"

	"classpulse-backend/internal/middleware"
	"classpulse-backend/internal/models"
	"classpulse-backend/internal/services"
)

// SessionHandler serves the student side of a live session. Identity comes
// from the student token minted at join, never from the request body.
type SessionHandler struct {
	sessions *services.SessionService
}

func NewSessionHandler(sessions *services.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req models.JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	resp, err := h.sessions.Join(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *SessionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	sessionID := middleware.GetSessionID(r.Context())
	studentID := middleware.GetStudentID(r.Context())

	state, err := h.sessions.Submit(r.Context(), sessionID, studentID, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// Me is the student's polling fallback when the websocket is unavailable.
func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.GetSessionID(r.Context())
	studentID := middleware.GetStudentID(r.Context())

	state, err := h.sessions.GetStudentState(r.Context(), sessionID, studentID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

func (h *SessionHandler) SelectNextStep(w http.ResponseWriter, r *http.Request) {
	var req models.SelectNextStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	sessionID := middleware.GetSessionID(r.Context())
	studentID := middleware.GetStudentID(r.Context())

	student, err := h.sessions.SelectNextStep(r.Context(), sessionID, studentID, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, student)
}
