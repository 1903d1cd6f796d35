package models

import (
	"time"

	"github.com/google/uuid"
)

// Plan study status, derived on read from the plan's study records.
const (
	PlanStatusPending    = "pending"
	PlanStatusInProgress = "in_progress"
	PlanStatusCompleted  = "completed"
)

type Institution struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Acronym string `json:"acronym"`
}

// SnapshotDiscipline is a discipline copied into a plan's curriculum snapshot.
// Its ID is local to the snapshot and is what study records reference; it never
// points back into the live catalog.
type SnapshotDiscipline struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Color  string    `json:"color"`
	Topics []string  `json:"topics"`
}

// CurriculumSnapshot is the frozen copy of an institution's curriculum embedded
// into a plan at creation time. Catalog edits after that point never reach it;
// the only mutations are the explicit discipline/topic operations on the plan.
type CurriculumSnapshot struct {
	EditalName  string               `json:"edital_name"`
	Institution Institution          `json:"institution"`
	Disciplines []SnapshotDiscipline `json:"disciplines"`
}

func (s CurriculumSnapshot) Discipline(id uuid.UUID) *SnapshotDiscipline {
	for i := range s.Disciplines {
		if s.Disciplines[i].ID == id {
			return &s.Disciplines[i]
		}
	}
	return nil
}

type Plan struct {
	ID          uuid.UUID          `json:"id"`
	OwnerID     uuid.UUID          `json:"owner_id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Snapshot    CurriculumSnapshot `json:"snapshot"`
	Position    int                `json:"position"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// DisciplineStats is the aggregated view of one snapshot discipline.
type DisciplineStats struct {
	DisciplineID      uuid.UUID `json:"discipline_id"`
	DisciplineName    string    `json:"discipline_name"`
	TotalTopics       int       `json:"total_topics"`
	TopicsStudied     int       `json:"topics_studied"`
	QuestionsResolved int       `json:"questions_resolved"`
	StudyTimeMinutes  int       `json:"study_time_minutes"`
	Complete          bool      `json:"complete"`
}

// PlanStats is the aggregated view of a whole plan.
type PlanStats struct {
	PlanID            uuid.UUID         `json:"plan_id"`
	TotalDisciplines  int               `json:"total_disciplines"`
	TotalTopics       int               `json:"total_topics"`
	TopicsStudied     int               `json:"topics_studied"`
	QuestionsResolved int               `json:"questions_resolved"`
	StudyTimeMinutes  int               `json:"study_time_minutes"`
	Status            string            `json:"status"`
	Disciplines       []DisciplineStats `json:"disciplines,omitempty"`
}
