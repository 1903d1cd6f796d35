package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"studyplan-backend/internal/middleware"
	"studyplan-backend/internal/models"
	"studyplan-backend/internal/services"
)

type TimerHandler struct {
	engine *services.TimerEngine
}

func NewTimerHandler(engine *services.TimerEngine) *TimerHandler {
	return &TimerHandler{engine: engine}
}

type timerKeyRequest struct {
	PlanID       uuid.UUID `json:"plan_id"`
	DisciplineID uuid.UUID `json:"discipline_id"`
	Topic        string    `json:"topic"`
	Index        int       `json:"index"`
	SessionID    *string   `json:"session_id,omitempty"`
}

func (req *timerKeyRequest) key() (models.TimerKey, map[string]string) {
	fields := make(map[string]string)
	if req.PlanID == uuid.Nil {
		fields["plan_id"] = "plan_id is required"
	}
	if req.DisciplineID == uuid.Nil {
		fields["discipline_id"] = "discipline_id is required"
	}
	if req.Index < 0 {
		fields["index"] = "index must not be negative"
	}
	if len(fields) > 0 {
		return models.TimerKey{}, fields
	}
	return models.TimerKey{
		PlanID:       req.PlanID,
		DisciplineID: req.DisciplineID,
		Topic:        req.Topic,
		Index:        req.Index,
	}, nil
}

func (h *TimerHandler) decodeKey(w http.ResponseWriter, r *http.Request) (models.TimerKey, *timerKeyRequest, bool) {
	var req timerKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return models.TimerKey{}, nil, false
	}
	key, fields := req.key()
	if fields != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return models.TimerKey{}, nil, false
	}
	return key, &req, true
}

// Start begins the timer for the key; any other running timer for the user is
// paused in the same request. Starting from a second device therefore never
// errors, it just wins.
func (h *TimerHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	key, req, ok := h.decodeKey(w, r)
	if !ok {
		return
	}

	state, err := h.engine.StartTimer(r.Context(), userID, key, req.SessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"timer": state})
}

func (h *TimerHandler) Pause(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	key, _, ok := h.decodeKey(w, r)
	if !ok {
		return
	}

	state, err := h.engine.PauseTimer(r.Context(), userID, key)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"timer": state})
}

func (h *TimerHandler) Reset(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	key, _, ok := h.decodeKey(w, r)
	if !ok {
		return
	}

	if err := h.engine.ResetTimer(r.Context(), userID, key); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Timer reset"})
}

func (h *TimerHandler) Remove(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	key, _, ok := h.decodeKey(w, r)
	if !ok {
		return
	}

	if err := h.engine.RemoveTimer(r.Context(), userID, key); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Timer removed"})
}

func (h *TimerHandler) PauseAll(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	if err := h.engine.PauseAllTimers(r.Context(), userID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "All timers paused"})
}

// GetActive reports the user's single running timer, or null when idle.
func (h *TimerHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	state, err := h.engine.GetActive(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"timer": state})
}
