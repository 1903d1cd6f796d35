package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"studyplan-backend/internal/middleware"
	"studyplan-backend/internal/models"
	"studyplan-backend/internal/repository"
	"studyplan-backend/internal/services"
)

const cascadeQueue = "queue:plan-cascade"

type PlanHandler struct {
	planRepo *repository.PlanRepo
	progress *services.ProgressService
	queue    *redis.Client
}

func NewPlanHandler(planRepo *repository.PlanRepo, progress *services.ProgressService, queue *redis.Client) *PlanHandler {
	return &PlanHandler{planRepo: planRepo, progress: progress, queue: queue}
}

type planRequest struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Snapshot    *models.CurriculumSnapshot `json:"snapshot"`
}

// Create builds a plan around a frozen copy of the curriculum. A missing
// snapshot creates a personalized plan that starts with no disciplines.
func (h *PlanHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Plan name is required", r))
		return
	}

	plan := &models.Plan{
		OwnerID:     userID,
		Name:        req.Name,
		Description: req.Description,
	}
	if req.Snapshot != nil {
		plan.Snapshot = *req.Snapshot
		for i := range plan.Snapshot.Disciplines {
			if plan.Snapshot.Disciplines[i].ID == uuid.Nil {
				plan.Snapshot.Disciplines[i].ID = uuid.New()
			}
			if plan.Snapshot.Disciplines[i].Topics == nil {
				plan.Snapshot.Disciplines[i].Topics = []string{}
			}
		}
	}
	if plan.Snapshot.Disciplines == nil {
		plan.Snapshot.Disciplines = []models.SnapshotDiscipline{}
	}

	if err := h.planRepo.Create(r.Context(), plan); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to create plan", r))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"plan": plan})
}

// List returns the user's plans with computed statistics per plan. The same
// aggregation runs here and in the detail endpoints, so the numbers agree.
func (h *PlanHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	plans, err := h.planRepo.ListByOwner(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list plans", r))
		return
	}

	type planWithStats struct {
		models.Plan
		Stats *models.PlanStats `json:"stats"`
	}

	items := make([]planWithStats, 0, len(plans))
	for _, plan := range plans {
		stats, err := h.progress.StatsForPlan(r.Context(), &plan)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to compute plan stats", r))
			return
		}
		items = append(items, planWithStats{Plan: plan, Stats: stats})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"plans": items})
}

func (h *PlanHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	planID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid plan ID", r))
		return
	}

	plan, err := h.planRepo.GetOwned(r.Context(), planID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Plan not found", r))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load plan", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"plan": plan})
}

func (h *PlanHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	planID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid plan ID", r))
		return
	}

	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Plan name is required", r))
		return
	}

	plan := &models.Plan{ID: planID, OwnerID: userID, Name: req.Name, Description: req.Description}
	if err := h.planRepo.Update(r.Context(), plan); err != nil {
		if errors.Is(err, repository.ErrNotOwned) {
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Plan not found", r))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to update plan", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Plan updated"})
}

// Delete removes the plan row synchronously and hands record cleanup (soft
// deleting reviews, dropping agenda-only schedules and timer rows) to the
// worker pool.
func (h *PlanHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	planID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid plan ID", r))
		return
	}

	if err := h.planRepo.Delete(r.Context(), planID, userID); err != nil {
		if errors.Is(err, repository.ErrNotOwned) {
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Plan not found", r))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to delete plan", r))
		return
	}

	h.enqueueCascade(r, models.CascadeJob{
		Scope:  models.CascadeScopePlan,
		UserID: userID,
		PlanID: planID,
	})

	writeJSON(w, http.StatusOK, map[string]string{"message": "Plan deleted"})
}

func (h *PlanHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req struct {
		PlanIDs []uuid.UUID `json:"plan_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.PlanIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "plan_ids is required", r))
		return
	}

	if err := h.planRepo.Reorder(r.Context(), userID, req.PlanIDs); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to reorder plans", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Plans reordered"})
}

type disciplineRequest struct {
	Name   string   `json:"name"`
	Color  string   `json:"color"`
	Topics []string `json:"topics"`
}

func (h *PlanHandler) AddDiscipline(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	planID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid plan ID", r))
		return
	}

	var req disciplineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Discipline name is required", r))
		return
	}

	plan, err := h.planRepo.GetOwned(r.Context(), planID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Plan not found", r))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load plan", r))
		return
	}

	discipline := models.SnapshotDiscipline{
		ID:     uuid.New(),
		Name:   req.Name,
		Color:  req.Color,
		Topics: req.Topics,
	}
	if discipline.Topics == nil {
		discipline.Topics = []string{}
	}
	plan.Snapshot.Disciplines = append(plan.Snapshot.Disciplines, discipline)

	if err := h.planRepo.UpdateSnapshot(r.Context(), planID, userID, plan.Snapshot); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to save discipline", r))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"discipline": discipline})
}

func (h *PlanHandler) UpdateDiscipline(w http.ResponseWriter, r *http.Request) {
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

	var req disciplineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Discipline name is required", r))
		return
	}

	plan, err := h.planRepo.GetOwned(r.Context(), planID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Plan not found", r))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load plan", r))
		return
	}

	discipline := plan.Snapshot.Discipline(disciplineID)
	if discipline == nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Discipline not found in plan", r))
		return
	}

	discipline.Name = req.Name
	discipline.Color = req.Color
	if req.Topics != nil {
		discipline.Topics = req.Topics
	}

	if err := h.planRepo.UpdateSnapshot(r.Context(), planID, userID, plan.Snapshot); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to save discipline", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"discipline": discipline})
}

func (h *PlanHandler) RemoveDiscipline(w http.ResponseWriter, r *http.Request) {
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

	plan, err := h.planRepo.GetOwned(r.Context(), planID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Plan not found", r))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load plan", r))
		return
	}

	found := false
	disciplines := plan.Snapshot.Disciplines[:0]
	for _, d := range plan.Snapshot.Disciplines {
		if d.ID == disciplineID {
			found = true
			continue
		}
		disciplines = append(disciplines, d)
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Discipline not found in plan", r))
		return
	}
	plan.Snapshot.Disciplines = disciplines

	if err := h.planRepo.UpdateSnapshot(r.Context(), planID, userID, plan.Snapshot); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to save plan", r))
		return
	}

	h.enqueueCascade(r, models.CascadeJob{
		Scope:        models.CascadeScopeDiscipline,
		UserID:       userID,
		PlanID:       planID,
		DisciplineID: disciplineID,
	})

	writeJSON(w, http.StatusOK, map[string]string{"message": "Discipline removed"})
}

func (h *PlanHandler) enqueueCascade(r *http.Request, job models.CascadeJob) {
	payload, err := json.Marshal(job)
	if err != nil {
		log.Printf("plan handler: failed to marshal cascade job: %v", err)
		return
	}
	if err := h.queue.LPush(r.Context(), cascadeQueue, payload).Err(); err != nil {
		log.Printf("plan handler: failed to enqueue cascade job for plan %s: %v", job.PlanID, err)
	}
}
