package models

import (
	"time"

	"github.com/google/uuid"
)

// TimerKey identifies one timer slot. Index distinguishes repeated study
// slots for the same topic within a plan.
type TimerKey struct {
	PlanID       uuid.UUID `json:"plan_id"`
	DisciplineID uuid.UUID `json:"discipline_id"`
	Topic        string    `json:"topic"`
	Index        int       `json:"index"`
}

// TimerState is the durable checkpoint of one timer slot. Across all rows
// belonging to one user, at most one has Running set.
type TimerState struct {
	UserID           uuid.UUID `json:"user_id"`
	Key              TimerKey  `json:"key"`
	ElapsedSeconds   int       `json:"elapsed_seconds"`
	Running          bool      `json:"running"`
	SessionID        *string   `json:"session_id"`
	LastCheckpointAt time.Time `json:"last_checkpoint_at"`
}
