package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"studyplan-backend/internal/models"
)

type TimerRepo struct {
	pool *pgxpool.Pool
}

func NewTimerRepo(pool *pgxpool.Pool) *TimerRepo {
	return &TimerRepo{pool: pool}
}

const timerColumns = `
	user_id, plan_id, discipline_id, topic, slot_index,
	elapsed_seconds, running, session_id, last_checkpoint_at`

// StartExclusive atomically stops every running timer for the user and marks
// the given key running, in one transaction. Concurrent starts from two
// devices serialize here; the later one wins and the earlier key ends up idle.
// On return state.ElapsedSeconds holds the restored checkpoint (0 for a fresh
// key).
func (r *TimerRepo) StartExclusive(ctx context.Context, state *models.TimerState) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE timer_states
		SET running = FALSE, last_checkpoint_at = NOW()
		WHERE user_id = $1 AND running = TRUE
	`, state.UserID); err != nil {
		return err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO timer_states (
			user_id, plan_id, discipline_id, topic, slot_index,
			elapsed_seconds, running, session_id)
		VALUES ($1, $2, $3, $4, $5, 0, TRUE, $6)
		ON CONFLICT (user_id, plan_id, discipline_id, topic, slot_index) DO UPDATE SET
			running = TRUE,
			session_id = EXCLUDED.session_id,
			last_checkpoint_at = NOW()
		RETURNING elapsed_seconds, last_checkpoint_at
	`, state.UserID, state.Key.PlanID, state.Key.DisciplineID, state.Key.Topic,
		state.Key.Index, state.SessionID,
	).Scan(&state.ElapsedSeconds, &state.LastCheckpointAt)
	if err != nil {
		return err
	}
	state.Running = true

	return tx.Commit(ctx)
}

// Checkpoint durably records the timer's current elapsed time and run flag.
func (r *TimerRepo) Checkpoint(ctx context.Context, state *models.TimerState) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO timer_states (
			user_id, plan_id, discipline_id, topic, slot_index,
			elapsed_seconds, running, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, plan_id, discipline_id, topic, slot_index) DO UPDATE SET
			elapsed_seconds = EXCLUDED.elapsed_seconds,
			running = EXCLUDED.running,
			session_id = EXCLUDED.session_id,
			last_checkpoint_at = NOW()
	`, state.UserID, state.Key.PlanID, state.Key.DisciplineID, state.Key.Topic,
		state.Key.Index, state.ElapsedSeconds, state.Running, state.SessionID)
	return err
}

func (r *TimerRepo) GetActive(ctx context.Context, userID uuid.UUID) (*models.TimerState, error) {
	query := `
		SELECT ` + timerColumns + `
		FROM timer_states
		WHERE user_id = $1 AND running = TRUE
		LIMIT 1
	`
	state, err := r.scanOne(r.pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return state, err
}

func (r *TimerRepo) Get(ctx context.Context, userID uuid.UUID, key models.TimerKey) (*models.TimerState, error) {
	query := `
		SELECT ` + timerColumns + `
		FROM timer_states
		WHERE user_id = $1 AND plan_id = $2 AND discipline_id = $3 AND topic = $4 AND slot_index = $5
	`
	return r.scanOne(r.pool.QueryRow(ctx, query,
		userID, key.PlanID, key.DisciplineID, key.Topic, key.Index))
}

func (r *TimerRepo) Reset(ctx context.Context, userID uuid.UUID, key models.TimerKey) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE timer_states
		SET elapsed_seconds = 0, running = FALSE, last_checkpoint_at = NOW()
		WHERE user_id = $1 AND plan_id = $2 AND discipline_id = $3 AND topic = $4 AND slot_index = $5
	`, userID, key.PlanID, key.DisciplineID, key.Topic, key.Index)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotOwned
	}
	return nil
}

func (r *TimerRepo) Delete(ctx context.Context, userID uuid.UUID, key models.TimerKey) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM timer_states
		WHERE user_id = $1 AND plan_id = $2 AND discipline_id = $3 AND topic = $4 AND slot_index = $5
	`, userID, key.PlanID, key.DisciplineID, key.Topic, key.Index)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotOwned
	}
	return nil
}

// PauseAll stops every running timer for the user in one durable statement.
// Used at logout so no orphaned running timer survives the session.
func (r *TimerRepo) PauseAll(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE timer_states
		SET running = FALSE, last_checkpoint_at = NOW()
		WHERE user_id = $1 AND running = TRUE
	`, userID)
	return err
}

// ListRunning returns every running timer across users, used once at startup
// to resume tick loops after a process restart.
func (r *TimerRepo) ListRunning(ctx context.Context) ([]models.TimerState, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+timerColumns+`
		FROM timer_states
		WHERE running = TRUE
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []models.TimerState
	for rows.Next() {
		var s models.TimerState
		if err := rows.Scan(
			&s.UserID, &s.Key.PlanID, &s.Key.DisciplineID, &s.Key.Topic, &s.Key.Index,
			&s.ElapsedSeconds, &s.Running, &s.SessionID, &s.LastCheckpointAt,
		); err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

func (r *TimerRepo) DeleteByPlan(ctx context.Context, userID, planID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		"DELETE FROM timer_states WHERE user_id = $1 AND plan_id = $2", userID, planID)
	return err
}

func (r *TimerRepo) DeleteByDiscipline(ctx context.Context, userID, planID, disciplineID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM timer_states
		WHERE user_id = $1 AND plan_id = $2 AND discipline_id = $3
	`, userID, planID, disciplineID)
	return err
}

func (r *TimerRepo) scanOne(row pgx.Row) (*models.TimerState, error) {
	s := &models.TimerState{}
	err := row.Scan(
		&s.UserID, &s.Key.PlanID, &s.Key.DisciplineID, &s.Key.Topic, &s.Key.Index,
		&s.ElapsedSeconds, &s.Running, &s.SessionID, &s.LastCheckpointAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}
