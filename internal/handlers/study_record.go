package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"studyplan-backend/internal/middleware"
	"studyplan-backend/internal/models"
)

// Storage the handler needs, satisfied by the pgx repositories. Tests supply
// in-memory fakes.
type recordStore interface {
	Append(ctx context.Context, rec *models.StudyRecord) error
	ListByPlan(ctx context.Context, userID, planID uuid.UUID) ([]models.StudyRecord, error)
	ListByDiscipline(ctx context.Context, userID, planID, disciplineID uuid.UUID) ([]models.StudyRecord, error)
}

type planOwnerReader interface {
	GetOwned(ctx context.Context, planID, ownerID uuid.UUID) (*models.Plan, error)
}

type StudyRecordHandler struct {
	recordRepo recordStore
	planRepo   planOwnerReader
}

func NewStudyRecordHandler(recordRepo recordStore, planRepo planOwnerReader) *StudyRecordHandler {
	return &StudyRecordHandler{recordRepo: recordRepo, planRepo: planRepo}
}

type appendRecordRequest struct {
	PlanID           uuid.UUID `json:"plan_id"`
	DisciplineID     uuid.UUID `json:"discipline_id"`
	Topic            *string   `json:"topic"`
	DurationSeconds  int       `json:"duration_seconds"`
	QuestionsPlanned int       `json:"questions_planned"`
	QuestionsDone    int       `json:"questions_done"`
	ActivityType     string    `json:"activity_type"`
	Completed        bool      `json:"completed"`
	ScheduleChoice   string    `json:"schedule_choice"`
	ScheduledDate    *string   `json:"scheduled_date"`
	ScheduledTime    *string   `json:"scheduled_time"`
	SessionID        *string   `json:"session_id"`
}

func (req *appendRecordRequest) validate() map[string]string {
	fields := make(map[string]string)

	if req.PlanID == uuid.Nil {
		fields["plan_id"] = "plan_id is required"
	}
	if req.DisciplineID == uuid.Nil {
		fields["discipline_id"] = "discipline_id is required"
	}
	if req.DurationSeconds < 0 {
		fields["duration_seconds"] = "duration_seconds must not be negative"
	}
	if req.QuestionsPlanned < 0 {
		fields["questions_planned"] = "questions_planned must not be negative"
	}
	if req.QuestionsDone < 0 {
		fields["questions_done"] = "questions_done must not be negative"
	}
	if !models.ValidActivityType(req.ActivityType) {
		fields["activity_type"] = "activity_type must be study, review, or mock_exam"
	}
	if !models.ValidScheduleChoice(req.ScheduleChoice) {
		fields["schedule_choice"] = "schedule_choice must be today, in_progress, already_studied, or schedule"
	}
	if req.ScheduleChoice == models.ScheduleScheduled && (req.ScheduledDate == nil || req.ScheduledTime == nil) {
		fields["scheduled_date"] = "scheduled_date and scheduled_time are required for scheduled records"
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}

// Append logs a study/review session. A request carrying a session_id already
// seen for this user updates the existing record instead of creating a second
// one, so client retries and timer finalization stay idempotent.
func (h *StudyRecordHandler) Append(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req appendRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if fields := req.validate(); fields != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	plan, err := h.planRepo.GetOwned(r.Context(), req.PlanID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Plan not found", r))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load plan", r))
		return
	}

	discipline := plan.Snapshot.Discipline(req.DisciplineID)
	if discipline == nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Discipline not found in plan", r))
		return
	}

	rec := &models.StudyRecord{
		UserID:           userID,
		PlanID:           req.PlanID,
		DisciplineID:     req.DisciplineID,
		DisciplineName:   discipline.Name,
		Topic:            req.Topic,
		DurationSeconds:  req.DurationSeconds,
		QuestionsPlanned: req.QuestionsPlanned,
		QuestionsDone:    req.QuestionsDone,
		ActivityType:     req.ActivityType,
		Completed:        req.Completed,
		ScheduleChoice:   req.ScheduleChoice,
		ScheduledDate:    req.ScheduledDate,
		ScheduledTime:    req.ScheduledTime,
		SessionID:        req.SessionID,
	}

	if err := h.recordRepo.Append(r.Context(), rec); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to save study record", r))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"record": rec})
}

func (h *StudyRecordHandler) ListByPlan(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	planID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid plan ID", r))
		return
	}

	records, err := h.recordRepo.ListByPlan(r.Context(), userID, planID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list study records", r))
		return
	}
	if records == nil {
		records = []models.StudyRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

func (h *StudyRecordHandler) ListByDiscipline(w http.ResponseWriter, r *http.Request) {
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

	records, err := h.recordRepo.ListByDiscipline(r.Context(), userID, planID, disciplineID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list study records", r))
		return
	}
	if records == nil {
		records = []models.StudyRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}
