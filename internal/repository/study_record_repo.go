package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"studyplan-backend/internal/models"
)

type StudyRecordRepo struct {
	pool *pgxpool.Pool
}

func NewStudyRecordRepo(pool *pgxpool.Pool) *StudyRecordRepo {
	return &StudyRecordRepo{pool: pool}
}

const studyRecordColumns = `
	id, user_id, plan_id, discipline_id, discipline_name, topic,
	duration_seconds, questions_planned, questions_done, activity_type,
	completed, schedule_choice, scheduled_date, scheduled_time, session_id,
	created_at, deleted_at`

// Append inserts a record, or — when the record carries a session_id a previous
// save already used — updates that record in place. The upsert keeps retried
// saves from piling up duplicate entries for the same study session.
func (r *StudyRecordRepo) Append(ctx context.Context, rec *models.StudyRecord) error {
	if rec.SessionID != nil && *rec.SessionID != "" {
		query := `
			INSERT INTO study_records (
				id, user_id, plan_id, discipline_id, discipline_name, topic,
				duration_seconds, questions_planned, questions_done, activity_type,
				completed, schedule_choice, scheduled_date, scheduled_time, session_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (user_id, session_id) WHERE session_id IS NOT NULL DO UPDATE SET
				plan_id = EXCLUDED.plan_id,
				discipline_id = EXCLUDED.discipline_id,
				discipline_name = EXCLUDED.discipline_name,
				topic = EXCLUDED.topic,
				duration_seconds = EXCLUDED.duration_seconds,
				questions_planned = EXCLUDED.questions_planned,
				questions_done = EXCLUDED.questions_done,
				activity_type = EXCLUDED.activity_type,
				completed = EXCLUDED.completed,
				schedule_choice = EXCLUDED.schedule_choice,
				scheduled_date = EXCLUDED.scheduled_date,
				scheduled_time = EXCLUDED.scheduled_time
			RETURNING id, created_at
		`
		return r.pool.QueryRow(ctx, query,
			uuid.New(), rec.UserID, rec.PlanID, rec.DisciplineID, rec.DisciplineName,
			rec.Topic, rec.DurationSeconds, rec.QuestionsPlanned, rec.QuestionsDone,
			rec.ActivityType, rec.Completed, rec.ScheduleChoice,
			rec.ScheduledDate, rec.ScheduledTime, rec.SessionID,
		).Scan(&rec.ID, &rec.CreatedAt)
	}

	query := `
		INSERT INTO study_records (
			id, user_id, plan_id, discipline_id, discipline_name, topic,
			duration_seconds, questions_planned, questions_done, activity_type,
			completed, schedule_choice, scheduled_date, scheduled_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at
	`
	return r.pool.QueryRow(ctx, query,
		uuid.New(), rec.UserID, rec.PlanID, rec.DisciplineID, rec.DisciplineName,
		rec.Topic, rec.DurationSeconds, rec.QuestionsPlanned, rec.QuestionsDone,
		rec.ActivityType, rec.Completed, rec.ScheduleChoice,
		rec.ScheduledDate, rec.ScheduledTime,
	).Scan(&rec.ID, &rec.CreatedAt)
}

func (r *StudyRecordRepo) ListByPlan(ctx context.Context, userID, planID uuid.UUID) ([]models.StudyRecord, error) {
	query := `
		SELECT ` + studyRecordColumns + `
		FROM study_records
		WHERE user_id = $1 AND plan_id = $2 AND deleted_at IS NULL
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, userID, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStudyRecords(rows)
}

func (r *StudyRecordRepo) ListByDiscipline(ctx context.Context, userID, planID, disciplineID uuid.UUID) ([]models.StudyRecord, error) {
	query := `
		SELECT ` + studyRecordColumns + `
		FROM study_records
		WHERE user_id = $1 AND plan_id = $2 AND discipline_id = $3 AND deleted_at IS NULL
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, userID, planID, disciplineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStudyRecords(rows)
}

// UpdateDurationBySession is the timer engine's checkpoint path: it folds the
// current elapsed seconds into the single in-flight record owned by the timer.
func (r *StudyRecordRepo) UpdateDurationBySession(ctx context.Context, userID uuid.UUID, sessionID string, durationSeconds int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE study_records
		SET duration_seconds = $3
		WHERE user_id = $1 AND session_id = $2 AND deleted_at IS NULL
	`, userID, sessionID, durationSeconds)
	return err
}

// ListScheduled returns every live scheduled-review entry across all users.
// The alarm matcher polls this wholesale.
func (r *StudyRecordRepo) ListScheduled(ctx context.Context) ([]models.StudyRecord, error) {
	query := `
		SELECT ` + studyRecordColumns + `
		FROM study_records
		WHERE schedule_choice = 'schedule'
		  AND scheduled_date IS NOT NULL
		  AND scheduled_time IS NOT NULL
		  AND deleted_at IS NULL
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStudyRecords(rows)
}

func (r *StudyRecordRepo) ListScheduledByUser(ctx context.Context, userID uuid.UUID) ([]models.StudyRecord, error) {
	query := `
		SELECT ` + studyRecordColumns + `
		FROM study_records
		WHERE user_id = $1
		  AND schedule_choice = 'schedule'
		  AND scheduled_date IS NOT NULL
		  AND scheduled_time IS NOT NULL
		  AND deleted_at IS NULL
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStudyRecords(rows)
}

// SoftDeleteReviewsByPlan marks the plan's review records deleted without
// dropping them, so review history survives plan deletion.
func (r *StudyRecordRepo) SoftDeleteReviewsByPlan(ctx context.Context, userID, planID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE study_records
		SET deleted_at = NOW()
		WHERE user_id = $1 AND plan_id = $2 AND activity_type = 'review' AND deleted_at IS NULL
	`, userID, planID)
	return err
}

// DeleteScheduledByPlan hard-deletes agenda-only records (future schedules
// that never became real study sessions) for a deleted plan.
func (r *StudyRecordRepo) DeleteScheduledByPlan(ctx context.Context, userID, planID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM study_records
		WHERE user_id = $1 AND plan_id = $2 AND schedule_choice = 'schedule' AND completed = FALSE
	`, userID, planID)
	return err
}

func (r *StudyRecordRepo) DeleteByDiscipline(ctx context.Context, userID, planID, disciplineID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM study_records
		WHERE user_id = $1 AND plan_id = $2 AND discipline_id = $3
	`, userID, planID, disciplineID)
	return err
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanStudyRecords(rows pgxRows) ([]models.StudyRecord, error) {
	var records []models.StudyRecord
	for rows.Next() {
		var rec models.StudyRecord
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.PlanID, &rec.DisciplineID, &rec.DisciplineName,
			&rec.Topic, &rec.DurationSeconds, &rec.QuestionsPlanned, &rec.QuestionsDone,
			&rec.ActivityType, &rec.Completed, &rec.ScheduleChoice,
			&rec.ScheduledDate, &rec.ScheduledTime, &rec.SessionID,
			&rec.CreatedAt, &rec.DeletedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
