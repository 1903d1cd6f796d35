package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActivityStudy    = "study"
	ActivityReview   = "review"
	ActivityMockExam = "mock_exam"
)

const (
	ScheduleToday          = "today"
	ScheduleInProgress     = "in_progress"
	ScheduleAlreadyStudied = "already_studied"
	ScheduleScheduled      = "schedule"
)

// StudyRecord is one entry of the append-mostly study log. Records are never
// rewritten except through the session_id upsert path and the timer engine's
// checkpoint of the single in-flight record it owns.
type StudyRecord struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	PlanID           uuid.UUID  `json:"plan_id"`
	DisciplineID     uuid.UUID  `json:"discipline_id"`
	DisciplineName   string     `json:"discipline_name"`
	Topic            *string    `json:"topic"`
	DurationSeconds  int        `json:"duration_seconds"`
	QuestionsPlanned int        `json:"questions_planned"`
	QuestionsDone    int        `json:"questions_done"`
	ActivityType     string     `json:"activity_type"`
	Completed        bool       `json:"completed"`
	ScheduleChoice   string     `json:"schedule_choice"`
	ScheduledDate    *string    `json:"scheduled_date"` // YYYY-MM-DD
	ScheduledTime    *string    `json:"scheduled_time"` // HH:MM
	SessionID        *string    `json:"session_id"`
	CreatedAt        time.Time  `json:"created_at"`
	DeletedAt        *time.Time `json:"-"`
}

// TopicKey normalizes the nullable topic for grouping.
func (r *StudyRecord) TopicKey() string {
	if r.Topic == nil {
		return ""
	}
	return *r.Topic
}

func ValidActivityType(t string) bool {
	return t == ActivityStudy || t == ActivityReview || t == ActivityMockExam
}

func ValidScheduleChoice(c string) bool {
	switch c {
	case ScheduleToday, ScheduleInProgress, ScheduleAlreadyStudied, ScheduleScheduled:
		return true
	}
	return false
}
