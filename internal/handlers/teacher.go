package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"classpulse-backend/internal/middleware"
	"classpulse-backend/internal/models"
	"classpulse-backend/internal/services"
)

// TeacherHandler serves the teacher's monitoring and feedback operations.
// Ownership of the targeted session is checked inside the services, so a
// teacher token alone is never enough to touch another class.
type TeacherHandler struct {
	sessions *services.SessionService
	feedback *services.FeedbackService
	persist  *services.PersistService
	quota    *services.QuotaService
}

func NewTeacherHandler(
	sessions *services.SessionService,
	feedback *services.FeedbackService,
	persist *services.PersistService,
	quota *services.QuotaService,
) *TeacherHandler {
	return &TeacherHandler{
		sessions: sessions,
		feedback: feedback,
		persist:  persist,
		quota:    quota,
	}
}

func (h *TeacherHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseIDParam(w, r, "id", "Invalid session ID")
	if !ok {
		return
	}

	state, err := h.sessions.GetSession(r.Context(), middleware.GetTeacherID(r.Context()), sessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

func (h *TeacherHandler) GenerateFeedback(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseIDParam(w, r, "id", "Invalid session ID")
	if !ok {
		return
	}

	// An empty body means every ready student.
	var req models.GenerateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	result, err := h.feedback.GenerateBatch(r.Context(), middleware.GetTeacherID(r.Context()), sessionID, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *TeacherHandler) ApproveFeedback(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseIDParam(w, r, "id", "Invalid session ID")
	if !ok {
		return
	}
	studentID, ok := parseIDParam(w, r, "studentID", "Invalid student ID")
	if !ok {
		return
	}

	state, err := h.feedback.Approve(r.Context(), middleware.GetTeacherID(r.Context()), sessionID, studentID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

func (h *TeacherHandler) UpdateFeedback(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseIDParam(w, r, "id", "Invalid session ID")
	if !ok {
		return
	}
	studentID, ok := parseIDParam(w, r, "studentID", "Invalid student ID")
	if !ok {
		return
	}

	var req models.UpdateFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	sub, err := h.feedback.UpdateFeedback(r.Context(), middleware.GetTeacherID(r.Context()), sessionID, studentID, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *TeacherHandler) RemoveStudent(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseIDParam(w, r, "id", "Invalid session ID")
	if !ok {
		return
	}
	studentID, ok := parseIDParam(w, r, "studentID", "Invalid student ID")
	if !ok {
		return
	}

	err := h.sessions.RemoveStudent(r.Context(), middleware.GetTeacherID(r.Context()), sessionID, studentID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Student removed"})
}

func (h *TeacherHandler) Persist(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseIDParam(w, r, "id", "Invalid session ID")
	if !ok {
		return
	}

	result, err := h.persist.Persist(r.Context(), middleware.GetTeacherID(r.Context()), sessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *TeacherHandler) Quota(w http.ResponseWriter, r *http.Request) {
	status, err := h.quota.Check(r.Context(), middleware.GetTeacherID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", message, r))
		return uuid.Nil, false
	}
	return id, true
}
