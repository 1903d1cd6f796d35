package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"studyplan-backend/internal/models"
	"studyplan-backend/internal/repository"
)

// fakeTimerStore keeps timer rows in a map and mirrors the repository's
// exclusivity semantics: StartExclusive idles every other row for the user in
// the same step that marks the target running.
type fakeTimerStore struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]map[models.TimerKey]*models.TimerState
	fail  bool
	calls int
}

func newFakeTimerStore() *fakeTimerStore {
	return &fakeTimerStore{rows: make(map[uuid.UUID]map[models.TimerKey]*models.TimerState)}
}

func (f *fakeTimerStore) userRows(userID uuid.UUID) map[models.TimerKey]*models.TimerState {
	if f.rows[userID] == nil {
		f.rows[userID] = make(map[models.TimerKey]*models.TimerState)
	}
	return f.rows[userID]
}

func (f *fakeTimerStore) StartExclusive(ctx context.Context, state *models.TimerState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("store down")
	}
	rows := f.userRows(state.UserID)
	for _, row := range rows {
		row.Running = false
	}
	if existing, ok := rows[state.Key]; ok {
		existing.Running = true
		existing.SessionID = state.SessionID
		state.ElapsedSeconds = existing.ElapsedSeconds
	} else {
		cp := *state
		cp.Running = true
		rows[state.Key] = &cp
	}
	state.Running = true
	return nil
}

func (f *fakeTimerStore) Checkpoint(ctx context.Context, state *models.TimerState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errors.New("store down")
	}
	cp := *state
	f.userRows(state.UserID)[state.Key] = &cp
	return nil
}

func (f *fakeTimerStore) GetActive(ctx context.Context, userID uuid.UUID) (*models.TimerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows[userID] {
		if row.Running {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeTimerStore) Get(ctx context.Context, userID uuid.UUID, key models.TimerKey) (*models.TimerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[userID][key]; ok {
		cp := *row
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeTimerStore) Reset(ctx context.Context, userID uuid.UUID, key models.TimerKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[userID][key]
	if !ok {
		return repository.ErrNotOwned
	}
	row.ElapsedSeconds = 0
	row.Running = false
	return nil
}

func (f *fakeTimerStore) Delete(ctx context.Context, userID uuid.UUID, key models.TimerKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[userID][key]; !ok {
		return repository.ErrNotOwned
	}
	delete(f.rows[userID], key)
	return nil
}

func (f *fakeTimerStore) PauseAll(ctx context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows[userID] {
		row.Running = false
	}
	return nil
}

func (f *fakeTimerStore) ListRunning(ctx context.Context) ([]models.TimerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.TimerState
	for _, rows := range f.rows {
		for _, row := range rows {
			if row.Running {
				out = append(out, *row)
			}
		}
	}
	return out, nil
}

type fakeRecordSyncer struct {
	mu        sync.Mutex
	durations map[string]int
}

func newFakeRecordSyncer() *fakeRecordSyncer {
	return &fakeRecordSyncer{durations: make(map[string]int)}
}

func (f *fakeRecordSyncer) UpdateDurationBySession(ctx context.Context, userID uuid.UUID, sessionID string, durationSeconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.durations[sessionID] = durationSeconds
	return nil
}

type fakePlanReader struct {
	plans map[uuid.UUID]*models.Plan
}

func (f *fakePlanReader) GetOwned(ctx context.Context, planID, ownerID uuid.UUID) (*models.Plan, error) {
	if plan, ok := f.plans[planID]; ok {
		return plan, nil
	}
	return nil, pgx.ErrNoRows
}

type capturedEvent struct {
	userID  uuid.UUID
	message models.WSMessage
}

type fakePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (f *fakePublisher) PublishToUser(ctx context.Context, userID uuid.UUID, msg models.WSMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, capturedEvent{userID, msg})
	return nil
}

func (f *fakePublisher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.message.Type)
	}
	return out
}

type timerFixture struct {
	engine *TimerEngine
	store  *fakeTimerStore
	syncer *fakeRecordSyncer
	pub    *fakePublisher

	userID uuid.UUID
	planID uuid.UUID
	discID uuid.UUID
}

func newTimerFixture(t *testing.T, onPause PauseHook) *timerFixture {
	t.Helper()

	planID := uuid.New()
	discID := uuid.New()
	plans := &fakePlanReader{plans: map[uuid.UUID]*models.Plan{
		planID: {
			ID: planID,
			Snapshot: models.CurriculumSnapshot{
				Disciplines: []models.SnapshotDiscipline{
					{ID: discID, Name: "Law", Topics: []string{"Rights", "Duties"}},
				},
			},
		},
	}}

	store := newFakeTimerStore()
	syncer := newFakeRecordSyncer()
	pub := &fakePublisher{}

	return &timerFixture{
		engine: NewTimerEngine(store, syncer, plans, pub, onPause),
		store:  store,
		syncer: syncer,
		pub:    pub,
		userID: uuid.New(),
		planID: planID,
		discID: discID,
	}
}

func (fx *timerFixture) key(topic string, index int) models.TimerKey {
	return models.TimerKey{PlanID: fx.planID, DisciplineID: fx.discID, Topic: topic, Index: index}
}

// advance simulates n ticks without waiting on the real ticker.
func (fx *timerFixture) advance(n int) {
	fx.engine.mu.Lock()
	defer fx.engine.mu.Unlock()
	for userID, rt := range fx.engine.active {
		rt.elapsed += n
		fx.engine.dirty[userID] = struct{}{}
	}
}

func TestStartTimer_NewTimerRunsFromZero(t *testing.T) {
	fx := newTimerFixture(t, nil)
	ctx := context.Background()

	state, err := fx.engine.StartTimer(ctx, fx.userID, fx.key("Rights", 0), nil)
	if err != nil {
		t.Fatalf("StartTimer failed: %v", err)
	}
	if !state.Running || state.ElapsedSeconds != 0 {
		t.Errorf("Expected running timer at 0s, got running=%v elapsed=%d", state.Running, state.ElapsedSeconds)
	}

	got := fx.pub.types()
	if len(got) != 1 || got[0] != models.EventTimerStarted {
		t.Errorf("Expected one %s event, got %v", models.EventTimerStarted, got)
	}
}

func TestStartTimer_UnknownPlanOrDiscipline(t *testing.T) {
	fx := newTimerFixture(t, nil)
	ctx := context.Background()

	var notFound *NotFoundError

	badPlan := models.TimerKey{PlanID: uuid.New(), DisciplineID: fx.discID, Topic: "Rights"}
	if _, err := fx.engine.StartTimer(ctx, fx.userID, badPlan, nil); !errors.As(err, &notFound) {
		t.Errorf("Expected NotFoundError for unknown plan, got %v", err)
	}

	badDisc := models.TimerKey{PlanID: fx.planID, DisciplineID: uuid.New(), Topic: "Rights"}
	if _, err := fx.engine.StartTimer(ctx, fx.userID, badDisc, nil); !errors.As(err, &notFound) {
		t.Errorf("Expected NotFoundError for discipline outside snapshot, got %v", err)
	}
}

func TestStartTimer_DisplacesRunningTimer(t *testing.T) {
	fx := newTimerFixture(t, nil)
	ctx := context.Background()

	keyA := fx.key("Rights", 0)
	keyB := fx.key("Duties", 0)

	if _, err := fx.engine.StartTimer(ctx, fx.userID, keyA, nil); err != nil {
		t.Fatalf("StartTimer A failed: %v", err)
	}
	fx.advance(45)

	if _, err := fx.engine.StartTimer(ctx, fx.userID, keyB, nil); err != nil {
		t.Fatalf("StartTimer B failed: %v", err)
	}

	rowA, err := fx.store.Get(ctx, fx.userID, keyA)
	if err != nil {
		t.Fatalf("Timer A row missing: %v", err)
	}
	if rowA.Running {
		t.Error("Timer A should be idle after B started")
	}
	if rowA.ElapsedSeconds != 45 {
		t.Errorf("Timer A elapsed should be flushed before the switch, got %d", rowA.ElapsedSeconds)
	}

	active, err := fx.store.GetActive(ctx, fx.userID)
	if err != nil || active == nil {
		t.Fatalf("Expected an active timer, got %v (%v)", active, err)
	}
	if active.Key != keyB {
		t.Errorf("Expected timer B running, got %+v", active.Key)
	}
}

func TestStartTimer_ResumesStoredElapsed(t *testing.T) {
	fx := newTimerFixture(t, nil)
	ctx := context.Background()
	key := fx.key("Rights", 0)

	if _, err := fx.engine.StartTimer(ctx, fx.userID, key, nil); err != nil {
		t.Fatalf("StartTimer failed: %v", err)
	}
	fx.advance(30)
	if _, err := fx.engine.PauseTimer(ctx, fx.userID, key); err != nil {
		t.Fatalf("PauseTimer failed: %v", err)
	}

	state, err := fx.engine.StartTimer(ctx, fx.userID, key, nil)
	if err != nil {
		t.Fatalf("Second StartTimer failed: %v", err)
	}
	if state.ElapsedSeconds != 30 {
		t.Errorf("Expected elapsed to resume at 30s, got %d", state.ElapsedSeconds)
	}
}

func TestStartTimer_SameKeyRestartKeepsElapsed(t *testing.T) {
	fx := newTimerFixture(t, nil)
	ctx := context.Background()
	key := fx.key("Rights", 0)

	if _, err := fx.engine.StartTimer(ctx, fx.userID, key, nil); err != nil {
		t.Fatalf("StartTimer failed: %v", err)
	}
	// Ticks accumulated since the last flush only exist in memory.
	fx.advance(45)

	state, err := fx.engine.StartTimer(ctx, fx.userID, key, nil)
	if err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if state.ElapsedSeconds != 45 {
		t.Errorf("Restarting the running key must not roll elapsed back, got %d", state.ElapsedSeconds)
	}

	row, err := fx.store.Get(ctx, fx.userID, key)
	if err != nil {
		t.Fatalf("Timer row missing: %v", err)
	}
	if row.ElapsedSeconds != 45 || !row.Running {
		t.Errorf("Expected durable row running at 45s, got running=%v elapsed=%d", row.Running, row.ElapsedSeconds)
	}
}

func TestStartTimer_FlushFailureKeepsTimerTicking(t *testing.T) {
	fx := newTimerFixture(t, nil)
	ctx := context.Background()

	if _, err := fx.engine.StartTimer(ctx, fx.userID, fx.key("Rights", 0), nil); err != nil {
		t.Fatalf("StartTimer failed: %v", err)
	}
	fx.advance(20)

	fx.store.fail = true
	if _, err := fx.engine.StartTimer(ctx, fx.userID, fx.key("Duties", 0), nil); err == nil {
		t.Fatal("Expected the start to fail when the pre-flush cannot persist")
	}
	fx.store.fail = false

	state, err := fx.engine.GetActive(ctx, fx.userID)
	if err != nil {
		t.Fatalf("GetActive failed: %v", err)
	}
	if state == nil || state.Key != fx.key("Rights", 0) || state.ElapsedSeconds != 20 {
		t.Errorf("The displaced timer must survive a failed switch, got %+v", state)
	}
}

// slowStartStore gates StartExclusive so a test can observe the engine while
// a start is in flight against storage.
type slowStartStore struct {
	*fakeTimerStore
	entered chan struct{}
	release chan struct{}
}

func (s *slowStartStore) StartExclusive(ctx context.Context, state *models.TimerState) error {
	close(s.entered)
	<-s.release
	return s.fakeTimerStore.StartExclusive(ctx, state)
}

func TestStartTimer_SlowStoreDoesNotBlockTicks(t *testing.T) {
	fx := newTimerFixture(t, nil)
	store := &slowStartStore{
		fakeTimerStore: fx.store,
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	fx.engine.timers = store
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := fx.engine.StartTimer(ctx, fx.userID, fx.key("Rights", 0), nil)
		done <- err
	}()
	<-store.entered

	// Tick accounting takes the engine lock; it must not wait on the start's
	// storage round trip.
	advanced := make(chan struct{})
	go func() {
		fx.advance(1)
		close(advanced)
	}()
	select {
	case <-advanced:
	case <-time.After(2 * time.Second):
		t.Fatal("Tick accounting blocked while a start was in flight")
	}

	close(store.release)
	if err := <-done; err != nil {
		t.Fatalf("StartTimer failed: %v", err)
	}
}

func TestPauseTimer_FlushesAndFiresHook(t *testing.T) {
	var hookElapsed int
	hookCalls := 0
	fx := newTimerFixture(t, func(ctx context.Context, userID uuid.UUID, key models.TimerKey, elapsedSeconds int) {
		hookCalls++
		hookElapsed = elapsedSeconds
	})
	ctx := context.Background()

	sessionID := "sess-42"
	key := fx.key("Rights", 0)
	if _, err := fx.engine.StartTimer(ctx, fx.userID, key, &sessionID); err != nil {
		t.Fatalf("StartTimer failed: %v", err)
	}
	fx.advance(90)

	state, err := fx.engine.PauseTimer(ctx, fx.userID, key)
	if err != nil {
		t.Fatalf("PauseTimer failed: %v", err)
	}
	if state.Running {
		t.Error("Paused timer must not report running")
	}
	if state.ElapsedSeconds != 90 {
		t.Errorf("Expected 90s elapsed, got %d", state.ElapsedSeconds)
	}

	if hookCalls != 1 || hookElapsed != 90 {
		t.Errorf("Expected pause hook once with 90s, got calls=%d elapsed=%d", hookCalls, hookElapsed)
	}
	if got := fx.syncer.durations[sessionID]; got != 90 {
		t.Errorf("Expected session duration synced to 90s, got %d", got)
	}

	row, err := fx.store.Get(ctx, fx.userID, key)
	if err != nil {
		t.Fatalf("Timer row missing after pause: %v", err)
	}
	if row.Running || row.ElapsedSeconds != 90 {
		t.Errorf("Stored row should be idle at 90s, got running=%v elapsed=%d", row.Running, row.ElapsedSeconds)
	}
}

func TestPauseTimer_UnknownKey(t *testing.T) {
	fx := newTimerFixture(t, nil)

	var notFound *NotFoundError
	_, err := fx.engine.PauseTimer(context.Background(), fx.userID, fx.key("Rights", 0))
	if !errors.As(err, &notFound) {
		t.Errorf("Expected NotFoundError for never-started timer, got %v", err)
	}
}

func TestResetAndRemoveTimer(t *testing.T) {
	fx := newTimerFixture(t, nil)
	ctx := context.Background()
	key := fx.key("Rights", 0)

	if _, err := fx.engine.StartTimer(ctx, fx.userID, key, nil); err != nil {
		t.Fatalf("StartTimer failed: %v", err)
	}
	fx.advance(10)

	if err := fx.engine.ResetTimer(ctx, fx.userID, key); err != nil {
		t.Fatalf("ResetTimer failed: %v", err)
	}
	row, err := fx.store.Get(ctx, fx.userID, key)
	if err != nil {
		t.Fatalf("Timer row missing after reset: %v", err)
	}
	if row.ElapsedSeconds != 0 || row.Running {
		t.Errorf("Reset should zero and idle the row, got elapsed=%d running=%v", row.ElapsedSeconds, row.Running)
	}

	if err := fx.engine.RemoveTimer(ctx, fx.userID, key); err != nil {
		t.Fatalf("RemoveTimer failed: %v", err)
	}
	if _, err := fx.store.Get(ctx, fx.userID, key); !errors.Is(err, pgx.ErrNoRows) {
		t.Error("Expected row gone after remove")
	}

	var notFound *NotFoundError
	if err := fx.engine.ResetTimer(ctx, fx.userID, key); !errors.As(err, &notFound) {
		t.Errorf("Expected NotFoundError resetting a removed timer, got %v", err)
	}
	if err := fx.engine.RemoveTimer(ctx, fx.userID, key); !errors.As(err, &notFound) {
		t.Errorf("Expected NotFoundError removing a removed timer, got %v", err)
	}
}

func TestPauseAllTimers(t *testing.T) {
	fx := newTimerFixture(t, nil)
	ctx := context.Background()

	if _, err := fx.engine.StartTimer(ctx, fx.userID, fx.key("Rights", 0), nil); err != nil {
		t.Fatalf("StartTimer failed: %v", err)
	}
	fx.advance(15)

	if err := fx.engine.PauseAllTimers(ctx, fx.userID); err != nil {
		t.Fatalf("PauseAllTimers failed: %v", err)
	}

	active, err := fx.store.GetActive(ctx, fx.userID)
	if err != nil {
		t.Fatalf("GetActive failed: %v", err)
	}
	if active != nil {
		t.Errorf("Expected no running timer after pause-all, got %+v", active)
	}

	row, err := fx.store.Get(ctx, fx.userID, fx.key("Rights", 0))
	if err != nil {
		t.Fatalf("Timer row missing: %v", err)
	}
	if row.ElapsedSeconds != 15 {
		t.Errorf("Pause-all should flush elapsed, got %d", row.ElapsedSeconds)
	}
}

func TestGetActive_PrefersFresherMemoryElapsed(t *testing.T) {
	fx := newTimerFixture(t, nil)
	ctx := context.Background()
	key := fx.key("Rights", 0)

	if _, err := fx.engine.StartTimer(ctx, fx.userID, key, nil); err != nil {
		t.Fatalf("StartTimer failed: %v", err)
	}
	// Ticks accumulated since the last flush only exist in memory.
	fx.advance(7)

	state, err := fx.engine.GetActive(ctx, fx.userID)
	if err != nil {
		t.Fatalf("GetActive failed: %v", err)
	}
	if state == nil || state.ElapsedSeconds != 7 {
		t.Errorf("Expected in-memory elapsed 7s, got %+v", state)
	}
}

func TestFlush_RetainsDirtyOnFailure(t *testing.T) {
	fx := newTimerFixture(t, nil)
	ctx := context.Background()
	key := fx.key("Rights", 0)

	if _, err := fx.engine.StartTimer(ctx, fx.userID, key, nil); err != nil {
		t.Fatalf("StartTimer failed: %v", err)
	}
	fx.advance(5)

	fx.store.fail = true
	fx.engine.flush(ctx, false)
	fx.store.fail = false

	fx.engine.mu.Lock()
	_, stillDirty := fx.engine.dirty[fx.userID]
	fx.engine.mu.Unlock()
	if !stillDirty {
		t.Error("Failed flush must leave the timer dirty for the next cycle")
	}

	fx.engine.flush(ctx, false)
	row, err := fx.store.Get(ctx, fx.userID, key)
	if err != nil {
		t.Fatalf("Timer row missing: %v", err)
	}
	if row.ElapsedSeconds != 5 {
		t.Errorf("Retried flush should persist 5s, got %d", row.ElapsedSeconds)
	}
}

func TestResume_RestoresRunningTimers(t *testing.T) {
	fx := newTimerFixture(t, nil)
	ctx := context.Background()
	key := fx.key("Rights", 0)

	fx.store.userRows(fx.userID)[key] = &models.TimerState{
		UserID:         fx.userID,
		Key:            key,
		ElapsedSeconds: 120,
		Running:        true,
	}

	if err := fx.engine.Resume(ctx); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	state, err := fx.engine.GetActive(ctx, fx.userID)
	if err != nil {
		t.Fatalf("GetActive failed: %v", err)
	}
	if state == nil || state.ElapsedSeconds != 120 || state.Key != key {
		t.Errorf("Expected resumed timer at 120s, got %+v", state)
	}

	// The resumed timer keeps ticking.
	fx.advance(3)
	state, _ = fx.engine.GetActive(ctx, fx.userID)
	if state.ElapsedSeconds != 123 {
		t.Errorf("Expected resumed timer to keep counting, got %d", state.ElapsedSeconds)
	}
}
