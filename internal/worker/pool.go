package worker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"studyplan-backend/internal/models"
	"studyplan-backend/internal/repository"
)

const (
	cascadeQueue       = "queue:plan-cascade"
	maxCascadeAttempts = 3
)

// Pool runs the cascade cleanup that plan and discipline deletion defer:
// review records are soft-deleted, agenda-only schedule records and timer
// rows are dropped. Jobs arrive on a redis list.
type Pool struct {
	redis       *redis.Client
	recordRepo  *repository.StudyRecordRepo
	timerRepo   *repository.TimerRepo
	workerCount int
	stopChan    chan struct{}
}

func NewPool(redisClient *redis.Client, recordRepo *repository.StudyRecordRepo, timerRepo *repository.TimerRepo, workerCount int) *Pool {
	return &Pool{
		redis:       redisClient,
		recordRepo:  recordRepo,
		timerRepo:   timerRepo,
		workerCount: workerCount,
		stopChan:    make(chan struct{}),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		go p.worker(i)
	}
	log.Printf("Started %d cascade worker goroutines", p.workerCount)
}

func (p *Pool) Stop() {
	select {
	case <-p.stopChan:
		return
	default:
		close(p.stopChan)
	}
}

func (p *Pool) worker(id int) {
	for {
		select {
		case <-p.stopChan:
			log.Printf("Worker %d shutting down", id)
			return
		default:
		}

		ctx := context.Background()

		// BLPOP with 30s timeout
		result, err := p.redis.BLPop(ctx, 30*time.Second, cascadeQueue).Result()
		if err != nil {
			continue // Timeout or error, retry
		}

		if len(result) < 2 {
			continue
		}

		var job models.CascadeJob
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Printf("Worker %d: failed to parse cascade job: %v", id, err)
			continue
		}

		if err := p.process(ctx, job); err != nil {
			p.handleFailure(job, err)
		}
	}
}

// handleFailure requeues a failed job with backoff until its attempt bound is
// exhausted, then drops it so a permanently failing cascade cannot loop
// forever. Reports whether a retry was scheduled.
func (p *Pool) handleFailure(job models.CascadeJob, err error) bool {
	job.Attempts++

	backoff, retry := retryBackoff(job.Attempts)
	if !retry {
		log.Printf("Cascade job for plan %s failed permanently after %d attempts: %v", job.PlanID, job.Attempts, err)
		return false
	}

	log.Printf("Cascade job for plan %s failed (attempt %d): %v — retrying", job.PlanID, job.Attempts, err)
	payload, merr := json.Marshal(job)
	if merr != nil {
		log.Printf("Failed to marshal cascade job for retry: %v", merr)
		return false
	}
	time.AfterFunc(backoff, func() {
		p.redis.RPush(context.Background(), cascadeQueue, payload)
	})
	return true
}

// retryBackoff returns the delay before the next attempt, or false once the
// attempt count has reached the bound.
func retryBackoff(attempts int) (time.Duration, bool) {
	if attempts >= maxCascadeAttempts {
		return 0, false
	}
	return time.Duration(1<<uint(attempts)) * time.Second, true
}

func (p *Pool) process(ctx context.Context, job models.CascadeJob) error {
	switch job.Scope {
	case models.CascadeScopeDiscipline:
		if err := p.recordRepo.DeleteByDiscipline(ctx, job.UserID, job.PlanID, job.DisciplineID); err != nil {
			return err
		}
		return p.timerRepo.DeleteByDiscipline(ctx, job.UserID, job.PlanID, job.DisciplineID)

	case models.CascadeScopePlan:
		if err := p.recordRepo.SoftDeleteReviewsByPlan(ctx, job.UserID, job.PlanID); err != nil {
			return err
		}
		if err := p.recordRepo.DeleteScheduledByPlan(ctx, job.UserID, job.PlanID); err != nil {
			return err
		}
		return p.timerRepo.DeleteByPlan(ctx, job.UserID, job.PlanID)

	default:
		log.Printf("cascade worker: unknown job scope %q", job.Scope)
		return nil
	}
}
