package handlers

import (
	"net/http"

	"studyplan-backend/internal/middleware"
	"studyplan-backend/internal/models"
	"studyplan-backend/internal/repository"
	"studyplan-backend/internal/services"
)

type ReviewHandler struct {
	recordRepo *repository.StudyRecordRepo
	scheduler  *services.ReviewScheduler
}

func NewReviewHandler(recordRepo *repository.StudyRecordRepo, scheduler *services.ReviewScheduler) *ReviewHandler {
	return &ReviewHandler{recordRepo: recordRepo, scheduler: scheduler}
}

// ListSchedules returns the user's live scheduled reviews.
func (h *ReviewHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	records, err := h.recordRepo.ListScheduledByUser(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list schedules", r))
		return
	}
	if records == nil {
		records = []models.StudyRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"schedules": records})
}

// GetDueAlarms returns the reviews inside the alarm tolerance window right now.
func (h *ReviewHandler) GetDueAlarms(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	due, err := h.scheduler.GetDueAlarms(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to compute due alarms", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"due": due})
}
