package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"studyplan-backend/internal/models"
)

const (
	alarmPollInterval = 30 * time.Second

	// A review fires up to two minutes early and stays due up to two minutes
	// past its nominal time, never longer. Once the window closes the entry
	// silently stops being due and is not retried.
	alarmTolerance = 2 * time.Minute
)

type scheduleSource interface {
	ListScheduled(ctx context.Context) ([]models.StudyRecord, error)
	ListScheduledByUser(ctx context.Context, userID uuid.UUID) ([]models.StudyRecord, error)
}

// ReviewScheduler polls scheduled reviews against wall-clock time and raises
// or clears a per-user alarm. The due set is recomputed wholesale each poll.
type ReviewScheduler struct {
	records scheduleSource
	events  eventPublisher
	now     func() time.Time

	mu      sync.Mutex
	alarmOn map[uuid.UUID]bool

	stopChan chan struct{}
}

func NewReviewScheduler(records scheduleSource, events eventPublisher) *ReviewScheduler {
	return &ReviewScheduler{
		records:  records,
		events:   events,
		now:      time.Now,
		alarmOn:  make(map[uuid.UUID]bool),
		stopChan: make(chan struct{}),
	}
}

func (s *ReviewScheduler) Start() {
	go s.loop()
	log.Printf("Review scheduler started")
}

func (s *ReviewScheduler) Stop() {
	select {
	case <-s.stopChan:
		return
	default:
		close(s.stopChan)
	}
}

func (s *ReviewScheduler) loop() {
	// Run on startup as well as by interval.
	s.poll(context.Background(), s.now())

	ticker := time.NewTicker(alarmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.poll(context.Background(), s.now())
		}
	}
}

func (s *ReviewScheduler) poll(ctx context.Context, now time.Time) {
	records, err := s.records.ListScheduled(ctx)
	if err != nil {
		// Transient poll failure: the current alarm state stays as is and the
		// next cycle retries.
		log.Printf("review scheduler: failed to list schedules: %v", err)
		return
	}

	perUser := make(map[uuid.UUID][]models.ReviewEntry)
	for _, entry := range scheduleEntries(records) {
		perUser[entry.UserID] = append(perUser[entry.UserID], entry)
	}

	s.mu.Lock()
	users := make(map[uuid.UUID]struct{}, len(perUser)+len(s.alarmOn))
	for userID := range perUser {
		users[userID] = struct{}{}
	}
	for userID := range s.alarmOn {
		users[userID] = struct{}{}
	}
	s.mu.Unlock()

	for userID := range users {
		due := dueEntries(dedupeLatest(perUser[userID]), now, alarmTolerance)
		s.transition(ctx, userID, due)
	}
}

// transition flips the user's alarm the instant the due set becomes non-empty
// while off, or empty while on.
func (s *ReviewScheduler) transition(ctx context.Context, userID uuid.UUID, due []models.ReviewEntry) {
	s.mu.Lock()
	wasOn := s.alarmOn[userID]
	isOn := len(due) > 0
	if isOn {
		s.alarmOn[userID] = true
	} else {
		delete(s.alarmOn, userID)
	}
	s.mu.Unlock()

	if isOn == wasOn || s.events == nil {
		return
	}

	eventType := models.EventAlarmOff
	if isOn {
		eventType = models.EventAlarmOn
	}
	msg := models.WSMessage{Type: eventType, Payload: models.AlarmEvent{Due: due}}
	if err := s.events.PublishToUser(ctx, userID, msg); err != nil {
		log.Printf("review scheduler: failed to publish %s for user %s: %v", eventType, userID, err)
	}
}

// GetDueAlarms recomputes the user's currently-due reviews from storage.
func (s *ReviewScheduler) GetDueAlarms(ctx context.Context, userID uuid.UUID) ([]models.ReviewEntry, error) {
	records, err := s.records.ListScheduledByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	due := dueEntries(dedupeLatest(scheduleEntries(records)), s.now(), alarmTolerance)
	if due == nil {
		due = []models.ReviewEntry{}
	}
	return due, nil
}

// scheduleEntries resolves schedule records to absolute local timestamps.
// Records with malformed date/time pairs are skipped.
func scheduleEntries(records []models.StudyRecord) []models.ReviewEntry {
	var entries []models.ReviewEntry
	for _, rec := range records {
		if rec.ScheduledDate == nil || rec.ScheduledTime == nil {
			continue
		}
		at, err := parseScheduleTime(*rec.ScheduledDate, *rec.ScheduledTime)
		if err != nil {
			continue
		}
		entries = append(entries, models.ReviewEntry{
			RecordID:       rec.ID,
			UserID:         rec.UserID,
			PlanID:         rec.PlanID,
			DisciplineID:   rec.DisciplineID,
			DisciplineName: rec.DisciplineName,
			Topic:          rec.TopicKey(),
			ScheduledAt:    at,
			CreatedAt:      rec.CreatedAt,
		})
	}
	return entries
}

func parseScheduleTime(date, clock string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02 15:04", date+" "+clock, time.Local)
}

// dedupeLatest keeps, per (discipline, topic), only the most recently
// scheduled entry; equal schedule times are broken by record creation time.
// Older schedules for the same key are superseded, not due.
func dedupeLatest(entries []models.ReviewEntry) []models.ReviewEntry {
	type dedupKey struct {
		disciplineID uuid.UUID
		topic        string
	}

	latest := make(map[dedupKey]models.ReviewEntry, len(entries))
	for _, entry := range entries {
		k := dedupKey{entry.DisciplineID, entry.Topic}
		cur, ok := latest[k]
		if !ok || entry.ScheduledAt.After(cur.ScheduledAt) ||
			(entry.ScheduledAt.Equal(cur.ScheduledAt) && entry.CreatedAt.After(cur.CreatedAt)) {
			latest[k] = entry
		}
	}

	deduped := make([]models.ReviewEntry, 0, len(latest))
	for _, entry := range latest {
		deduped = append(deduped, entry)
	}
	return deduped
}

// dueEntries returns the entries within the closed tolerance window around
// now: an entry scheduled at T is due for exactly [T-tolerance, T+tolerance].
func dueEntries(entries []models.ReviewEntry, now time.Time, tolerance time.Duration) []models.ReviewEntry {
	var due []models.ReviewEntry
	for _, entry := range entries {
		diff := now.Sub(entry.ScheduledAt)
		if diff < 0 {
			diff = -diff
		}
		if diff <= tolerance {
			due = append(due, entry)
		}
	}
	return due
}
