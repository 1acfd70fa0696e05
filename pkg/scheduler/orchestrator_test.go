package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/celebwire/pkg/fetcher"
	"github.com/Sternrassler/celebwire/pkg/roster"
	"github.com/Sternrassler/celebwire/pkg/rotation"
	"github.com/Sternrassler/celebwire/pkg/store"
)

type fakeExecutor struct {
	result *fetcher.Result
	err    error
	calls  int
	batch  rotation.Batch
}

func (f *fakeExecutor) Execute(_ context.Context, batch rotation.Batch) (*fetcher.Result, error) {
	f.calls++
	f.batch = batch
	if f.result == nil {
		f.result = &fetcher.Result{}
	}
	return f.result, f.err
}

type fakeCursor struct {
	state   rotation.State
	loadErr error
	saves   []rotation.State
}

func (f *fakeCursor) Load(_ context.Context) (rotation.State, error) {
	return f.state, f.loadErr
}

func (f *fakeCursor) Save(_ context.Context, state rotation.State) error {
	f.saves = append(f.saves, state)
	return nil
}

type fakeStore struct {
	mu        sync.Mutex
	ingested  [][]store.Incoming
	ingestRes store.IngestResult
	ingestErr error
	cycles    []store.FetchLog
	recorded  chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{recorded: make(chan struct{}, 8)}
}

func (f *fakeStore) IngestArticles(_ context.Context, items []store.Incoming) (store.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, items)
	if f.ingestErr != nil {
		return store.IngestResult{}, f.ingestErr
	}
	if f.ingestRes == (store.IngestResult{}) {
		return store.IngestResult{New: len(items)}, nil
	}
	return f.ingestRes, nil
}

func (f *fakeStore) RecordCycle(_ context.Context, log store.FetchLog) (string, error) {
	f.mu.Lock()
	f.cycles = append(f.cycles, log)
	f.mu.Unlock()
	f.recorded <- struct{}{}
	return log.ID, nil
}

func (f *fakeStore) cycleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cycles)
}

func (f *fakeStore) lastCycle(t *testing.T) store.FetchLog {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.cycles) == 0 {
		t.Fatal("no cycle recorded")
	}
	return f.cycles[len(f.cycles)-1]
}

type fakeCache struct {
	mu       sync.Mutex
	prefixes []string
}

func (f *fakeCache) Invalidate(_ context.Context, prefix string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefixes = append(f.prefixes, prefix)
	return 1, nil
}

func testEntities() []roster.Entity {
	return []roster.Entity{
		{ID: "taylor-swift", Name: "Taylor Swift", Active: true},
		{ID: "zendaya", Name: "Zendaya", Active: true},
	}
}

type fixture struct {
	orch     *Orchestrator
	executor *fakeExecutor
	cursor   *fakeCursor
	store    *fakeStore
	cache    *fakeCache
}

func setup(t *testing.T, executor *fakeExecutor, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		executor: executor,
		cursor:   &fakeCursor{},
		store:    newFakeStore(),
		cache:    &fakeCache{},
	}
	if opts.Interval == 0 {
		opts.Interval = 30 * time.Minute
	}
	f.orch = New(Deps{
		Roster:   roster.NewStaticProvider(testEntities()),
		Planner:  rotation.NewPlanner(25),
		Cursor:   f.cursor,
		Executor: executor,
		Store:    f.store,
		Cache:    f.cache,
	}, opts, zerolog.Nop())
	return f
}

func TestRunCycle_Success(t *testing.T) {
	executor := &fakeExecutor{
		result: &fetcher.Result{
			Items: []fetcher.RawItem{
				{URL: "https://example.com/a", Title: "Zendaya stuns at premiere"},
				{URL: "https://example.com/b", Title: "Taylor Swift tour dates", Description: "New leg announced"},
			},
			APICalls: 1,
		},
	}
	f := setup(t, executor, Options{AdvanceOnFailure: true})

	f.orch.runCycle(context.Background())

	if f.store.cycleCount() != 1 {
		t.Fatalf("recorded %d cycles, want exactly 1", f.store.cycleCount())
	}
	audit := f.store.lastCycle(t)
	if audit.Status != store.CycleSuccess {
		t.Errorf("status = %q, want success", audit.Status)
	}
	if audit.NewItems != 2 || audit.APICalls != 1 {
		t.Errorf("audit counts = %+v", audit)
	}
	if audit.ID == "" {
		t.Error("audit missing cycle ID")
	}
	if !audit.NextDueAt.After(audit.FetchedAt) {
		t.Error("next due must be after fetched at")
	}

	if len(f.cursor.saves) != 1 {
		t.Fatalf("cursor saved %d times, want 1", len(f.cursor.saves))
	}
	if len(f.cache.prefixes) != 2 {
		t.Errorf("invalidated prefixes = %v, want news and stats", f.cache.prefixes)
	}
	if f.orch.Phase() != PhaseIdle {
		t.Errorf("phase = %q, want idle after cycle", f.orch.Phase())
	}

	if len(f.store.ingested) != 1 {
		t.Fatalf("ingested %d batches, want 1", len(f.store.ingested))
	}
	items := f.store.ingested[0]
	if items[0].EntityID != "zendaya" || items[1].EntityID != "taylor-swift" {
		t.Errorf("attribution = %q, %q", items[0].EntityID, items[1].EntityID)
	}
}

func TestRunCycle_FetchFailureRecordsFailedCycle(t *testing.T) {
	executor := &fakeExecutor{
		result: &fetcher.Result{APICalls: 3},
		err:    errors.New("all credentials exhausted: server error"),
	}
	f := setup(t, executor, Options{AdvanceOnFailure: true})

	f.orch.runCycle(context.Background())

	if f.store.cycleCount() != 1 {
		t.Fatalf("recorded %d cycles, want exactly 1", f.store.cycleCount())
	}
	audit := f.store.lastCycle(t)
	if audit.Status != store.CycleFailed {
		t.Errorf("status = %q, want failed", audit.Status)
	}
	if audit.Error == "" {
		t.Error("failed cycle missing error text")
	}
	if audit.APICalls != 3 {
		t.Errorf("api calls = %d, want consumed calls recorded even on failure", audit.APICalls)
	}
	if audit.NewItems != 0 || audit.Duplicates != 0 {
		t.Errorf("counts = %+v, want zeros", audit)
	}

	// advance_on_failure moves the cursor past the broken batch.
	if len(f.cursor.saves) != 1 {
		t.Errorf("cursor saved %d times, want 1", len(f.cursor.saves))
	}
	if len(f.cache.prefixes) != 0 {
		t.Errorf("cache invalidated on failed cycle: %v", f.cache.prefixes)
	}
}

func TestRunCycle_CursorHeldWhenAdvanceDisabled(t *testing.T) {
	executor := &fakeExecutor{
		result: &fetcher.Result{},
		err:    errors.New("network unreachable"),
	}
	f := setup(t, executor, Options{AdvanceOnFailure: false})

	f.orch.runCycle(context.Background())

	if len(f.cursor.saves) != 0 {
		t.Errorf("cursor saved %d times, want 0 when advance on failure is off", len(f.cursor.saves))
	}
}

func TestRunCycle_PartialWhenItemsLost(t *testing.T) {
	executor := &fakeExecutor{
		result: &fetcher.Result{
			Items: []fetcher.RawItem{
				{URL: "https://example.com/a", Title: "Zendaya interview"},
				{URL: "bogus", Title: "Broken"},
			},
			APICalls: 1,
		},
	}
	f := setup(t, executor, Options{AdvanceOnFailure: true})
	f.store.ingestRes = store.IngestResult{New: 1, Failed: 1}

	f.orch.runCycle(context.Background())

	audit := f.store.lastCycle(t)
	if audit.Status != store.CyclePartial {
		t.Errorf("status = %q, want partial when some items fail ingestion", audit.Status)
	}
	if audit.NewItems != 1 {
		t.Errorf("new items = %d, want 1", audit.NewItems)
	}
}

func TestRunCycle_IngestErrorFailsCycle(t *testing.T) {
	executor := &fakeExecutor{
		result: &fetcher.Result{
			Items:    []fetcher.RawItem{{URL: "https://example.com/a", Title: "Story"}},
			APICalls: 1,
		},
	}
	f := setup(t, executor, Options{AdvanceOnFailure: true})
	f.store.ingestErr = errors.New("database is locked")

	f.orch.runCycle(context.Background())

	audit := f.store.lastCycle(t)
	if audit.Status != store.CycleFailed {
		t.Errorf("status = %q, want failed", audit.Status)
	}
	if len(f.cursor.saves) != 0 {
		t.Errorf("cursor advanced past a batch whose items were never stored")
	}
}

func TestRunCycle_EmptyRoster(t *testing.T) {
	f := setup(t, &fakeExecutor{}, Options{AdvanceOnFailure: true})
	f.orch.deps.Roster = roster.NewStaticProvider(nil)

	f.orch.runCycle(context.Background())

	audit := f.store.lastCycle(t)
	if audit.Status != store.CycleFailed {
		t.Errorf("status = %q, want failed", audit.Status)
	}
	if f.executor.calls != 0 {
		t.Errorf("executor called %d times with empty roster, want 0", f.executor.calls)
	}
}

func TestTriggerNow(t *testing.T) {
	executor := &fakeExecutor{result: &fetcher.Result{}}
	f := setup(t, executor, Options{AdvanceOnFailure: true})

	status := f.orch.TriggerNow()
	if !status.Accepted {
		t.Fatal("idle trigger should be accepted")
	}

	select {
	case <-f.store.recorded:
	case <-time.After(5 * time.Second):
		t.Fatal("triggered cycle never recorded an audit entry")
	}
}

func TestTriggerNow_RejectedWhileRunning(t *testing.T) {
	f := setup(t, &fakeExecutor{}, Options{})

	f.orch.running.Lock()
	defer f.orch.running.Unlock()

	status := f.orch.TriggerNow()
	if status.Accepted {
		t.Error("trigger accepted while a cycle holds the lock")
	}
}

func TestTriggerNow_RejectedWhenDisabled(t *testing.T) {
	f := setup(t, &fakeExecutor{}, Options{})
	f.orch.SetIngestionEnabled(false)

	status := f.orch.TriggerNow()
	if status.Accepted {
		t.Error("trigger accepted while ingestion disabled")
	}
	if f.executor.calls != 0 {
		t.Errorf("executor called %d times, want 0", f.executor.calls)
	}
}

func TestNew_DefaultIntervalIsOneDay(t *testing.T) {
	executor := &fakeExecutor{result: &fetcher.Result{}}
	st := newFakeStore()
	orch := New(Deps{
		Roster:   roster.NewStaticProvider(testEntities()),
		Planner:  rotation.NewPlanner(25),
		Cursor:   &fakeCursor{},
		Executor: executor,
		Store:    st,
		Cache:    &fakeCache{},
	}, Options{}, zerolog.Nop())

	if got := orch.Status().Interval; got != 24*time.Hour {
		t.Fatalf("default interval = %v, want 24h", got)
	}

	orch.runCycle(context.Background())

	audit := st.lastCycle(t)
	if due := audit.NextDueAt.Sub(audit.FetchedAt); due != 24*time.Hour {
		t.Errorf("next due offset = %v, want 24h", due)
	}
}

func TestStatus(t *testing.T) {
	f := setup(t, &fakeExecutor{}, Options{Interval: 15 * time.Minute})

	got := f.orch.Status()
	if got.Phase != PhaseIdle {
		t.Errorf("phase = %q, want idle", got.Phase)
	}
	if !got.IngestionEnabled {
		t.Error("ingestion should start enabled")
	}
	if got.Interval != 15*time.Minute {
		t.Errorf("interval = %v", got.Interval)
	}
}

func TestAttribute(t *testing.T) {
	entities := testEntities()
	items := []fetcher.RawItem{
		{URL: "https://example.com/a", Title: "Taylor Swift and Zendaya share a stage"},
		{URL: "https://example.com/b", Title: "Quiet news day", Description: "nothing relevant"},
		{URL: "https://example.com/c", Title: "Premiere night", Description: "Zendaya arrives early"},
	}

	incoming := attribute(entities, items)
	if len(incoming) != 3 {
		t.Fatalf("got %d items, want 3", len(incoming))
	}
	// Multiple matches credit the first entity in batch order.
	if incoming[0].EntityID != "taylor-swift" {
		t.Errorf("item 0 entity = %q, want taylor-swift", incoming[0].EntityID)
	}
	// Unmatched items are kept with no attribution.
	if incoming[1].EntityID != "" {
		t.Errorf("item 1 entity = %q, want empty", incoming[1].EntityID)
	}
	if incoming[2].EntityID != "zendaya" {
		t.Errorf("item 2 entity = %q, want zendaya", incoming[2].EntityID)
	}
}
