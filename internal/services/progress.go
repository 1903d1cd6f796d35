package services

import (
	"context"
	"errors"
	"math"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"studyplan-backend/internal/models"
)

// The aggregation core is pure: it reduces a slice of study records into
// statistics without touching storage, so the plan list view and the
// per-discipline detail view stay numerically consistent no matter which
// call site runs it.

// latestPerTopic groups records by normalized topic and keeps the one with the
// greatest created_at per group. Intermediate saves superseded by a later save
// for the same topic drop out here; summing raw records would double count
// retries. Identical timestamps are broken by record ID so the result does not
// depend on input order.
func latestPerTopic(records []models.StudyRecord) map[string]models.StudyRecord {
	latest := make(map[string]models.StudyRecord, len(records))
	for _, rec := range records {
		topic := rec.TopicKey()
		cur, ok := latest[topic]
		if !ok || rec.CreatedAt.After(cur.CreatedAt) ||
			(rec.CreatedAt.Equal(cur.CreatedAt) && rec.ID.String() > cur.ID.String()) {
			latest[topic] = rec
		}
	}
	return latest
}

// ComputeDisciplineStats reduces the records belonging to one snapshot
// discipline into its authoritative statistics. Records for other disciplines
// in the input are ignored. Empty input yields zeroed stats, never an error.
func ComputeDisciplineStats(records []models.StudyRecord, discipline models.SnapshotDiscipline) models.DisciplineStats {
	scoped := records[:0:0]
	for _, rec := range records {
		if rec.DisciplineID == discipline.ID {
			scoped = append(scoped, rec)
		}
	}

	stats := models.DisciplineStats{
		DisciplineID:   discipline.ID,
		DisciplineName: discipline.Name,
		TotalTopics:    len(discipline.Topics),
	}

	totalSeconds := 0
	for topic, rec := range latestPerTopic(scoped) {
		stats.QuestionsResolved += rec.QuestionsDone
		totalSeconds += rec.DurationSeconds
		if rec.Completed && topic != "" {
			stats.TopicsStudied++
		}
	}
	stats.StudyTimeMinutes = int(math.Round(float64(totalSeconds) / 60))

	// Note: topics renamed or removed from the snapshot can leave records whose
	// topic no longer exists, inflating TopicsStudied relative to the current
	// topic list. That staleness is inherited behavior, kept as is.
	stats.Complete = len(discipline.Topics) > 0 && stats.TopicsStudied >= len(discipline.Topics)

	return stats
}

// ComputePlanStats applies ComputeDisciplineStats across the whole snapshot
// and derives the plan-level status. Recomputing on an unchanged record set is
// idempotent.
func ComputePlanStats(records []models.StudyRecord, snapshot models.CurriculumSnapshot) models.PlanStats {
	stats := models.PlanStats{
		TotalDisciplines: len(snapshot.Disciplines),
	}

	if len(snapshot.Disciplines) == 0 {
		// Personalized plans can log records before any discipline exists.
		totalSeconds := 0
		for _, rec := range latestPerTopic(records) {
			stats.QuestionsResolved += rec.QuestionsDone
			totalSeconds += rec.DurationSeconds
		}
		stats.StudyTimeMinutes = int(math.Round(float64(totalSeconds) / 60))
		if stats.QuestionsResolved > 0 {
			stats.Status = models.PlanStatusInProgress
		} else {
			stats.Status = models.PlanStatusPending
		}
		return stats
	}

	completable := 0
	completed := 0
	anyProgress := false

	for _, discipline := range snapshot.Disciplines {
		ds := ComputeDisciplineStats(records, discipline)
		stats.Disciplines = append(stats.Disciplines, ds)
		stats.TotalTopics += ds.TotalTopics
		stats.TopicsStudied += ds.TopicsStudied
		stats.QuestionsResolved += ds.QuestionsResolved
		stats.StudyTimeMinutes += ds.StudyTimeMinutes

		if ds.TopicsStudied > 0 || ds.QuestionsResolved > 0 || ds.StudyTimeMinutes > 0 {
			anyProgress = true
		}

		// Zero-topic disciplines can never complete; they count toward
		// TotalDisciplines but are excluded from the completeness check.
		if ds.TotalTopics == 0 {
			continue
		}
		completable++
		if ds.Complete {
			completed++
		}
	}

	switch {
	case completable > 0 && completed == completable:
		stats.Status = models.PlanStatusCompleted
	case anyProgress:
		stats.Status = models.PlanStatusInProgress
	default:
		stats.Status = models.PlanStatusPending
	}

	return stats
}

// Storage the service needs, satisfied by the pgx repositories. Tests supply
// in-memory fakes.
type progressPlanSource interface {
	GetOwned(ctx context.Context, planID, ownerID uuid.UUID) (*models.Plan, error)
}

type progressRecordSource interface {
	ListByPlan(ctx context.Context, userID, planID uuid.UUID) ([]models.StudyRecord, error)
	ListByDiscipline(ctx context.Context, userID, planID, disciplineID uuid.UUID) ([]models.StudyRecord, error)
}

// ProgressService wraps the pure aggregation with repository reads.
type ProgressService struct {
	plans   progressPlanSource
	records progressRecordSource
}

func NewProgressService(plans progressPlanSource, records progressRecordSource) *ProgressService {
	return &ProgressService{plans: plans, records: records}
}

func (s *ProgressService) GetPlanStats(ctx context.Context, userID, planID uuid.UUID) (*models.PlanStats, error) {
	plan, err := s.plans.GetOwned(ctx, planID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Message: "Plan not found"}
		}
		return nil, err
	}
	return s.StatsForPlan(ctx, plan)
}

// StatsForPlan aggregates for a plan already in hand, so list views that
// loaded every plan in one query do not read each row a second time.
func (s *ProgressService) StatsForPlan(ctx context.Context, plan *models.Plan) (*models.PlanStats, error) {
	records, err := s.records.ListByPlan(ctx, plan.OwnerID, plan.ID)
	if err != nil {
		return nil, err
	}

	stats := ComputePlanStats(records, plan.Snapshot)
	stats.PlanID = plan.ID
	return &stats, nil
}

func (s *ProgressService) GetDisciplineStats(ctx context.Context, userID, planID, disciplineID uuid.UUID) (*models.DisciplineStats, error) {
	plan, err := s.plans.GetOwned(ctx, planID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Message: "Plan not found"}
		}
		return nil, err
	}

	discipline := plan.Snapshot.Discipline(disciplineID)
	if discipline == nil {
		return nil, &NotFoundError{Message: "Discipline not found in plan"}
	}

	records, err := s.records.ListByDiscipline(ctx, userID, planID, disciplineID)
	if err != nil {
		return nil, err
	}

	stats := ComputeDisciplineStats(records, *discipline)
	return &stats, nil
}
