package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"studyplan-backend/internal/middleware"
	"studyplan-backend/internal/services"
)

type ProgressHandler struct {
	progress *services.ProgressService
}

func NewProgressHandler(progress *services.ProgressService) *ProgressHandler {
	return &ProgressHandler{progress: progress}
}

func (h *ProgressHandler) GetPlanStats(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	planID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid plan ID", r))
		return
	}

	stats, err := h.progress.GetPlanStats(r.Context(), userID, planID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"stats": stats})
}

func (h *ProgressHandler) GetDisciplineStats(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	planID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid plan ID", r))
		return
	}
	disciplineID, err := uuid.Parse(chi.URLParam(r, "disciplineId"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid discipline ID", r))
		return
	}

	stats, err := h.progress.GetDisciplineStats(r.Context(), userID, planID, disciplineID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"stats": stats})
}
