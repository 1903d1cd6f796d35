package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"studyplan-backend/internal/models"
	"studyplan-backend/internal/services"
)

// ─── Request Validation Tests ───

func strPtr(s string) *string { return &s }

func validAppendRequest() appendRecordRequest {
	return appendRecordRequest{
		PlanID:           uuid.New(),
		DisciplineID:     uuid.New(),
		Topic:            strPtr("Rights"),
		DurationSeconds:  600,
		QuestionsPlanned: 20,
		QuestionsDone:    15,
		ActivityType:     models.ActivityStudy,
		Completed:        true,
		ScheduleChoice:   models.ScheduleToday,
	}
}

func TestAppendRecordRequest_Valid(t *testing.T) {
	req := validAppendRequest()
	if fields := req.validate(); fields != nil {
		t.Errorf("Expected valid request, got field errors: %v", fields)
	}
}

func TestAppendRecordRequest_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*appendRecordRequest)
		field   string
	}{
		{"missing plan", func(r *appendRecordRequest) { r.PlanID = uuid.Nil }, "plan_id"},
		{"missing discipline", func(r *appendRecordRequest) { r.DisciplineID = uuid.Nil }, "discipline_id"},
		{"negative duration", func(r *appendRecordRequest) { r.DurationSeconds = -1 }, "duration_seconds"},
		{"negative questions planned", func(r *appendRecordRequest) { r.QuestionsPlanned = -5 }, "questions_planned"},
		{"negative questions done", func(r *appendRecordRequest) { r.QuestionsDone = -5 }, "questions_done"},
		{"unknown activity type", func(r *appendRecordRequest) { r.ActivityType = "cramming" }, "activity_type"},
		{"unknown schedule choice", func(r *appendRecordRequest) { r.ScheduleChoice = "later" }, "schedule_choice"},
		{"schedule without date", func(r *appendRecordRequest) {
			r.ScheduleChoice = models.ScheduleScheduled
			r.ScheduledDate = nil
			r.ScheduledTime = strPtr("10:00")
		}, "scheduled_date"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := validAppendRequest()
			tc.mutate(&req)

			fields := req.validate()
			if fields == nil {
				t.Fatal("Expected validation to fail")
			}
			if _, ok := fields[tc.field]; !ok {
				t.Errorf("Expected error on field %q, got %v", tc.field, fields)
			}
		})
	}
}

func TestAppendRecordRequest_ScheduledWithDateAndTime(t *testing.T) {
	req := validAppendRequest()
	req.ScheduleChoice = models.ScheduleScheduled
	req.ScheduledDate = strPtr("2024-03-10")
	req.ScheduledTime = strPtr("10:00")

	if fields := req.validate(); fields != nil {
		t.Errorf("Expected valid scheduled request, got field errors: %v", fields)
	}
}

func TestTimerKeyRequest(t *testing.T) {
	planID := uuid.New()
	disciplineID := uuid.New()

	req := timerKeyRequest{PlanID: planID, DisciplineID: disciplineID, Topic: "Rights", Index: 2}
	key, fields := req.key()
	if fields != nil {
		t.Fatalf("Expected valid key, got field errors: %v", fields)
	}
	if key.PlanID != planID || key.DisciplineID != disciplineID || key.Topic != "Rights" || key.Index != 2 {
		t.Errorf("Key fields not carried over: %+v", key)
	}

	bad := timerKeyRequest{Index: -1}
	if _, fields := bad.key(); fields == nil {
		t.Error("Expected field errors for nil IDs and negative index")
	} else {
		for _, f := range []string{"plan_id", "discipline_id", "index"} {
			if _, ok := fields[f]; !ok {
				t.Errorf("Expected error on field %q, got %v", f, fields)
			}
		}
	}
}

// ─── JSON Response Tests ───

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()

	writeJSON(rr, http.StatusCreated, map[string]string{"message": "Created"})

	if rr.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type 'application/json', got %q", ct)
	}

	var result map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result["message"] != "Created" {
		t.Errorf("Expected message 'Created', got %q", result["message"])
	}
}

func TestErrorResponseShape(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/plans", nil)
	req.Header.Set("X-Request-ID", "req-123")

	resp := errorRespWithFields("VALIDATION_ERROR", "Validation failed",
		map[string]string{"plan_id": "plan_id is required"}, req)

	if resp.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("Expected code VALIDATION_ERROR, got %q", resp.Error.Code)
	}
	if resp.Error.RequestID != "req-123" {
		t.Errorf("Expected request ID carried into the error, got %q", resp.Error.RequestID)
	}
	if resp.Error.Fields["plan_id"] == "" {
		t.Error("Expected the field error to survive encoding")
	}
}

// ─── Service Error Mapping Tests ───

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &services.ValidationError{Fields: map[string]string{"topic": "bad"}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"conflict", &services.ConflictError{Message: "Timer already running"}, http.StatusConflict, "CONFLICT"},
		{"not found", &services.NotFoundError{Message: "Plan not found"}, http.StatusNotFound, "NOT_FOUND"},
		{"unauthorized", &services.UnauthorizedError{Message: "Invalid credentials"}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/timer/start", nil)

			handleServiceError(rr, req, tc.err)

			if rr.Code != tc.status {
				t.Errorf("Expected status %d, got %d", tc.status, rr.Code)
			}

			var resp models.ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode error response: %v", err)
			}
			if resp.Error.Code != tc.code {
				t.Errorf("Expected code %q, got %q", tc.code, resp.Error.Code)
			}
		})
	}
}
