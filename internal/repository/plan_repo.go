package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"studyplan-backend/internal/models"
)

type PlanRepo struct {
	pool *pgxpool.Pool
}

func NewPlanRepo(pool *pgxpool.Pool) *PlanRepo {
	return &PlanRepo{pool: pool}
}

func (r *PlanRepo) Create(ctx context.Context, plan *models.Plan) error {
	snapshot, err := json.Marshal(plan.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	plan.ID = uuid.New()

	query := `
		INSERT INTO plans (id, owner_id, name, description, snapshot, position)
		VALUES ($1, $2, $3, $4, $5,
			(SELECT COALESCE(MAX(position), 0) + 1 FROM plans WHERE owner_id = $2))
		RETURNING position, created_at, updated_at
	`

	return r.pool.QueryRow(ctx, query,
		plan.ID, plan.OwnerID, plan.Name, plan.Description, snapshot,
	).Scan(&plan.Position, &plan.CreatedAt, &plan.UpdatedAt)
}

func (r *PlanRepo) GetOwned(ctx context.Context, planID, ownerID uuid.UUID) (*models.Plan, error) {
	plan := &models.Plan{}
	var snapshot []byte

	query := `
		SELECT id, owner_id, name, description, snapshot, position, created_at, updated_at
		FROM plans
		WHERE id = $1 AND owner_id = $2
	`

	err := r.pool.QueryRow(ctx, query, planID, ownerID).Scan(
		&plan.ID, &plan.OwnerID, &plan.Name, &plan.Description,
		&snapshot, &plan.Position, &plan.CreatedAt, &plan.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(snapshot, &plan.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot for plan %s: %w", plan.ID, err)
	}
	return plan, nil
}

func (r *PlanRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Plan, error) {
	query := `
		SELECT id, owner_id, name, description, snapshot, position, created_at, updated_at
		FROM plans
		WHERE owner_id = $1
		ORDER BY position ASC, created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []models.Plan
	for rows.Next() {
		var plan models.Plan
		var snapshot []byte
		if err := rows.Scan(
			&plan.ID, &plan.OwnerID, &plan.Name, &plan.Description,
			&snapshot, &plan.Position, &plan.CreatedAt, &plan.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(snapshot, &plan.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot for plan %s: %w", plan.ID, err)
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

func (r *PlanRepo) Update(ctx context.Context, plan *models.Plan) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE plans
		SET name = $3, description = $4, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2
	`, plan.ID, plan.OwnerID, plan.Name, plan.Description)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotOwned
	}
	return nil
}

// UpdateSnapshot persists the full snapshot after an explicit discipline or
// topic operation. This is the only write path into a plan's snapshot.
func (r *PlanRepo) UpdateSnapshot(ctx context.Context, planID, ownerID uuid.UUID, snapshot models.CurriculumSnapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE plans
		SET snapshot = $3, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2
	`, planID, ownerID, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotOwned
	}
	return nil
}

// Reorder rewrites positions for the given plans in a single transaction.
func (r *PlanRepo) Reorder(ctx context.Context, ownerID uuid.UUID, orderedIDs []uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i, id := range orderedIDs {
		if _, err := tx.Exec(ctx, `
			UPDATE plans SET position = $3, updated_at = NOW()
			WHERE id = $1 AND owner_id = $2
		`, id, ownerID, i+1); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *PlanRepo) Delete(ctx context.Context, planID, ownerID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		"DELETE FROM plans WHERE id = $1 AND owner_id = $2", planID, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotOwned
	}
	return nil
}
