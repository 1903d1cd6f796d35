package models

import (
	"github.com/google/uuid"
)

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

const (
	EventTimerStarted = "timer.started"
	EventTimerPaused  = "timer.paused"
	EventAlarmOn      = "alarm.on"
	EventAlarmOff     = "alarm.off"
)

type TimerEvent struct {
	Key            TimerKey `json:"key"`
	ElapsedSeconds int      `json:"elapsed_seconds"`
}

type AlarmEvent struct {
	Due []ReviewEntry `json:"due"`
}

// Cascade cleanup jobs consumed by the worker pool.
const (
	CascadeScopePlan       = "plan"
	CascadeScopeDiscipline = "discipline"
)

type CascadeJob struct {
	Scope        string    `json:"scope"` // "plan" | "discipline"
	UserID       uuid.UUID `json:"user_id"`
	PlanID       uuid.UUID `json:"plan_id"`
	DisciplineID uuid.UUID `json:"discipline_id,omitempty"`
	Attempts     int       `json:"attempts,omitempty"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
