package models

import (
	"time"

	"github.com/google/uuid"
)

// ReviewEntry is a scheduled review as seen by the alarm matcher: one study
// record with schedule_choice = "schedule" resolved to an absolute local time.
type ReviewEntry struct {
	RecordID       uuid.UUID `json:"record_id"`
	UserID         uuid.UUID `json:"user_id"`
	PlanID         uuid.UUID `json:"plan_id"`
	DisciplineID   uuid.UUID `json:"discipline_id"`
	DisciplineName string    `json:"discipline_name"`
	Topic          string    `json:"topic"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	CreatedAt      time.Time `json:"created_at"`
}
