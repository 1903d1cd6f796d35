package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"studyplan-backend/internal/models"
	"studyplan-backend/internal/repository"
)

const (
	timerTickInterval  = 1 * time.Second
	timerFlushInterval = 20 * time.Second
)

// Storage the engine needs, satisfied by the pgx repositories. Tests supply
// in-memory fakes.
type timerStore interface {
	StartExclusive(ctx context.Context, state *models.TimerState) error
	Checkpoint(ctx context.Context, state *models.TimerState) error
	GetActive(ctx context.Context, userID uuid.UUID) (*models.TimerState, error)
	Get(ctx context.Context, userID uuid.UUID, key models.TimerKey) (*models.TimerState, error)
	Reset(ctx context.Context, userID uuid.UUID, key models.TimerKey) error
	Delete(ctx context.Context, userID uuid.UUID, key models.TimerKey) error
	PauseAll(ctx context.Context, userID uuid.UUID) error
	ListRunning(ctx context.Context) ([]models.TimerState, error)
}

type recordSyncer interface {
	UpdateDurationBySession(ctx context.Context, userID uuid.UUID, sessionID string, durationSeconds int) error
}

type planReader interface {
	GetOwned(ctx context.Context, planID, ownerID uuid.UUID) (*models.Plan, error)
}

// PauseHook runs synchronously after a pause has been durably flushed, with
// the final elapsed seconds. The study-record layer uses it to finalize the
// in-flight record for the session.
type PauseHook func(ctx context.Context, userID uuid.UUID, key models.TimerKey, elapsedSeconds int)

// TimerEngine owns the single running timer per user. Elapsed time advances
// in memory on a one-second tick and reaches storage only on the periodic
// checkpoint flush, on pause, and on shutdown; a crash between flushes loses
// at most one flush interval.
//
// The single-running-timer invariant is not enforced here but at the storage
// boundary: StartExclusive stops every other timer for the user in the same
// transaction that starts the new one, so concurrent starts from two devices
// serialize and the later request wins.
type TimerEngine struct {
	timers  timerStore
	records recordSyncer
	plans   planReader
	events  eventPublisher
	onPause PauseHook

	mu     sync.Mutex
	active map[uuid.UUID]*runningTimer
	dirty  map[uuid.UUID]struct{}

	stopChan chan struct{}
}

type runningTimer struct {
	key       models.TimerKey
	sessionID *string
	elapsed   int
}

func NewTimerEngine(timers timerStore, records recordSyncer, plans planReader, events eventPublisher, onPause PauseHook) *TimerEngine {
	return &TimerEngine{
		timers:   timers,
		records:  records,
		plans:    plans,
		events:   events,
		onPause:  onPause,
		active:   make(map[uuid.UUID]*runningTimer),
		dirty:    make(map[uuid.UUID]struct{}),
		stopChan: make(chan struct{}),
	}
}

// Resume reloads running timers from storage after a restart so their tick
// loops continue. Elapsed time during the downtime itself is lost, same as a
// missed flush.
func (e *TimerEngine) Resume(ctx context.Context) error {
	states, err := e.timers.ListRunning(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range states {
		e.active[s.UserID] = &runningTimer{
			key:       s.Key,
			sessionID: s.SessionID,
			elapsed:   s.ElapsedSeconds,
		}
	}
	if len(states) > 0 {
		log.Printf("timer engine: resumed %d running timer(s)", len(states))
	}
	return nil
}

func (e *TimerEngine) Start() {
	go e.tickLoop()
	go e.flushLoop()
}

// Stop halts the loops and flushes every tracked timer once, preserving the
// running flags so Resume picks them back up.
func (e *TimerEngine) Stop() {
	select {
	case <-e.stopChan:
		return
	default:
		close(e.stopChan)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e.flush(ctx, true)
}

func (e *TimerEngine) tickLoop() {
	ticker := time.NewTicker(timerTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.mu.Lock()
			for userID, rt := range e.active {
				rt.elapsed++
				e.dirty[userID] = struct{}{}
			}
			e.mu.Unlock()
		}
	}
}

func (e *TimerEngine) flushLoop() {
	ticker := time.NewTicker(timerFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.flush(context.Background(), false)
		}
	}
}

// flush persists the enqueued checkpoints. Failures are logged and the key
// stays dirty for the next cycle; in-memory state remains authoritative.
func (e *TimerEngine) flush(ctx context.Context, all bool) {
	type pending struct {
		userID uuid.UUID
		state  models.TimerState
	}

	e.mu.Lock()
	var batch []pending
	for userID, rt := range e.active {
		if !all {
			if _, ok := e.dirty[userID]; !ok {
				continue
			}
		}
		batch = append(batch, pending{userID, models.TimerState{
			UserID:         userID,
			Key:            rt.key,
			ElapsedSeconds: rt.elapsed,
			Running:        true,
			SessionID:      rt.sessionID,
		}})
		delete(e.dirty, userID)
	}
	e.mu.Unlock()

	for _, p := range batch {
		if err := e.persist(ctx, &p.state); err != nil {
			log.Printf("timer engine: checkpoint flush failed for user %s: %v", p.userID, err)
			e.mu.Lock()
			if _, stillActive := e.active[p.userID]; stillActive {
				e.dirty[p.userID] = struct{}{}
			}
			e.mu.Unlock()
		}
	}
}

// persist writes the timer checkpoint and folds the elapsed time into the
// in-flight study record for the session, when there is one.
func (e *TimerEngine) persist(ctx context.Context, state *models.TimerState) error {
	if err := e.timers.Checkpoint(ctx, state); err != nil {
		return err
	}
	if state.SessionID != nil && *state.SessionID != "" {
		return e.records.UpdateDurationBySession(ctx, state.UserID, *state.SessionID, state.ElapsedSeconds)
	}
	return nil
}

// StartTimer begins (or resumes) the timer for the key, forcing any other
// running timer for the user to idle first. The previous timer's elapsed time
// is flushed before the switch so nothing is lost. A concurrent start from
// another device is not an error; the later request ends up running.
func (e *TimerEngine) StartTimer(ctx context.Context, userID uuid.UUID, key models.TimerKey, sessionID *string) (*models.TimerState, error) {
	plan, err := e.plans.GetOwned(ctx, key.PlanID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Message: "Plan not found"}
		}
		return nil, err
	}
	if plan.Snapshot.Discipline(key.DisciplineID) == nil {
		return nil, &NotFoundError{Message: "Discipline not found in plan"}
	}

	// Detach the user's tracked timer under the lock, but keep the database
	// round trips outside it so a slow start does not stall tick accounting
	// for everyone else. Concurrent starts serialize at StartExclusive.
	e.mu.Lock()
	var prev *models.TimerState
	if cur, ok := e.active[userID]; ok {
		prev = &models.TimerState{
			UserID:         userID,
			Key:            cur.key,
			ElapsedSeconds: cur.elapsed,
			Running:        cur.key == key,
			SessionID:      cur.sessionID,
		}
		delete(e.active, userID)
		delete(e.dirty, userID)
	}
	e.mu.Unlock()

	// The tracked elapsed time must land durably before the exclusive start
	// rereads it: a displaced timer idles here, and a restart of the same key
	// checkpoints so StartExclusive returns the fresh count instead of the
	// last flush.
	if prev != nil {
		if err := e.persist(ctx, prev); err != nil {
			e.mu.Lock()
			if _, taken := e.active[userID]; !taken {
				e.active[userID] = &runningTimer{
					key:       prev.Key,
					sessionID: prev.SessionID,
					elapsed:   prev.ElapsedSeconds,
				}
				e.dirty[userID] = struct{}{}
			}
			e.mu.Unlock()
			return nil, err
		}
	}

	state := &models.TimerState{UserID: userID, Key: key, SessionID: sessionID}
	if err := e.timers.StartExclusive(ctx, state); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.active[userID] = &runningTimer{
		key:       key,
		sessionID: sessionID,
		elapsed:   state.ElapsedSeconds,
	}
	delete(e.dirty, userID)
	e.mu.Unlock()

	e.publish(ctx, userID, models.EventTimerStarted, models.TimerEvent{
		Key:            key,
		ElapsedSeconds: state.ElapsedSeconds,
	})
	return state, nil
}

// PauseTimer flushes the key's elapsed time immediately, bypassing the batch
// queue, transitions it to idle and invokes the completion hook.
func (e *TimerEngine) PauseTimer(ctx context.Context, userID uuid.UUID, key models.TimerKey) (*models.TimerState, error) {
	e.mu.Lock()

	var state *models.TimerState
	if cur, ok := e.active[userID]; ok && cur.key == key {
		state = &models.TimerState{
			UserID:         userID,
			Key:            key,
			ElapsedSeconds: cur.elapsed,
			SessionID:      cur.sessionID,
		}
		delete(e.active, userID)
		delete(e.dirty, userID)
	}
	e.mu.Unlock()

	if state == nil {
		// Not running in this process; pause whatever checkpoint exists.
		stored, err := e.timers.Get(ctx, userID, key)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, &NotFoundError{Message: "Timer not found"}
			}
			return nil, err
		}
		stored.Running = false
		state = stored
	}
	state.Running = false

	if err := e.persist(ctx, state); err != nil {
		return nil, err
	}

	if e.onPause != nil {
		e.onPause(ctx, userID, key, state.ElapsedSeconds)
	}
	e.publish(ctx, userID, models.EventTimerPaused, models.TimerEvent{
		Key:            key,
		ElapsedSeconds: state.ElapsedSeconds,
	})
	return state, nil
}

// ResetTimer durably zeroes the key and leaves it idle.
func (e *TimerEngine) ResetTimer(ctx context.Context, userID uuid.UUID, key models.TimerKey) error {
	e.mu.Lock()
	if cur, ok := e.active[userID]; ok && cur.key == key {
		delete(e.active, userID)
		delete(e.dirty, userID)
	}
	e.mu.Unlock()

	if err := e.timers.Reset(ctx, userID, key); err != nil {
		if errors.Is(err, repository.ErrNotOwned) {
			return &NotFoundError{Message: "Timer not found"}
		}
		return err
	}
	return nil
}

// RemoveTimer deletes the key's durable row; a running timer stops ticking.
func (e *TimerEngine) RemoveTimer(ctx context.Context, userID uuid.UUID, key models.TimerKey) error {
	e.mu.Lock()
	if cur, ok := e.active[userID]; ok && cur.key == key {
		delete(e.active, userID)
		delete(e.dirty, userID)
	}
	e.mu.Unlock()

	if err := e.timers.Delete(ctx, userID, key); err != nil {
		if errors.Is(err, repository.ErrNotOwned) {
			return &NotFoundError{Message: "Timer not found"}
		}
		return err
	}
	return nil
}

// PauseAllTimers flushes and stops everything the user has running, in one
// durable batch. Wired to logout so no orphaned running timer survives the
// session.
func (e *TimerEngine) PauseAllTimers(ctx context.Context, userID uuid.UUID) error {
	e.mu.Lock()
	cur, ok := e.active[userID]
	if ok {
		delete(e.active, userID)
		delete(e.dirty, userID)
	}
	e.mu.Unlock()

	if ok {
		idle := models.TimerState{
			UserID:         userID,
			Key:            cur.key,
			ElapsedSeconds: cur.elapsed,
			Running:        false,
			SessionID:      cur.sessionID,
		}
		if err := e.persist(ctx, &idle); err != nil {
			return err
		}
		e.publish(ctx, userID, models.EventTimerPaused, models.TimerEvent{
			Key:            cur.key,
			ElapsedSeconds: cur.elapsed,
		})
	}

	return e.timers.PauseAll(ctx, userID)
}

// GetActive returns the user's running timer, if any, with the freshest
// elapsed count this process knows about.
func (e *TimerEngine) GetActive(ctx context.Context, userID uuid.UUID) (*models.TimerState, error) {
	state, err := e.timers.GetActive(ctx, userID)
	if err != nil || state == nil {
		return state, err
	}

	e.mu.Lock()
	if cur, ok := e.active[userID]; ok && cur.key == state.Key && cur.elapsed > state.ElapsedSeconds {
		state.ElapsedSeconds = cur.elapsed
	}
	e.mu.Unlock()
	return state, nil
}

func (e *TimerEngine) publish(ctx context.Context, userID uuid.UUID, eventType string, payload interface{}) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishToUser(ctx, userID, models.WSMessage{Type: eventType, Payload: payload}); err != nil {
		log.Printf("timer engine: failed to publish %s for user %s: %v", eventType, userID, err)
	}
}
