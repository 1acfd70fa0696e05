package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/celebwire/pkg/cache"
	"github.com/Sternrassler/celebwire/pkg/credential"
	"github.com/Sternrassler/celebwire/pkg/fetcher"
	"github.com/Sternrassler/celebwire/pkg/roster"
	"github.com/Sternrassler/celebwire/pkg/rotation"
	"github.com/Sternrassler/celebwire/pkg/scheduler"
	"github.com/Sternrassler/celebwire/pkg/store"
)

type stubExecutor struct {
	result *fetcher.Result
}

func (s *stubExecutor) Execute(_ context.Context, _ rotation.Batch) (*fetcher.Result, error) {
	if s.result == nil {
		return &fetcher.Result{}, nil
	}
	return s.result, nil
}

type stubCursor struct {
	state rotation.State
}

func (s *stubCursor) Load(_ context.Context) (rotation.State, error) { return s.state, nil }
func (s *stubCursor) Save(_ context.Context, state rotation.State) error {
	s.state = state
	return nil
}

type stubPool struct {
	states   []credential.State
	resets   []string
	statsErr error
}

func (s *stubPool) States(_ context.Context) ([]credential.State, error) {
	return s.states, s.statsErr
}

func (s *stubPool) RevalidateAll(_ context.Context) ([]credential.State, error) {
	return s.states, nil
}

func (s *stubPool) ResetUsage(_ context.Context, fingerprint string) error {
	s.resets = append(s.resets, fingerprint)
	return nil
}

func (s *stubPool) Size() int { return len(s.states) }

func setupTestServer(t *testing.T) (*server, *store.DB) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "celebwire.db"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cacheMgr := cache.NewManager(nil, zerolog.Nop())

	orch := scheduler.New(scheduler.Deps{
		Roster:   roster.NewStaticProvider([]roster.Entity{{ID: "zendaya", Name: "Zendaya", Active: true}}),
		Planner:  rotation.NewPlanner(25),
		Cursor:   &stubCursor{},
		Executor: &stubExecutor{},
		Store:    db,
		Cache:    cacheMgr,
	}, scheduler.Options{Interval: time.Hour}, zerolog.Nop())

	return &server{
		orch:  orch,
		db:    db,
		cache: cacheMgr,
		ttl:   cache.DefaultTTLPolicy(),
		pool:  &stubPool{states: []credential.State{{Fingerprint: "deadbeef", Status: credential.StatusValid}}},
	}, db
}

func doRequest(t *testing.T, s *server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := setupTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["ingestion_enabled"] != true {
		t.Errorf("ingestion_enabled = %v, want true", body["ingestion_enabled"])
	}
}

func TestHealthEndpoint_LimitedMode(t *testing.T) {
	s, _ := setupTestServer(t)
	s.limited = true
	s.orch.SetIngestionEnabled(false)

	rec := doRequest(t, s, http.MethodGet, "/health")

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "limited" {
		t.Errorf("status = %v, want limited", body["status"])
	}
}

func TestArticlesEndpoint_CachesSecondRead(t *testing.T) {
	s, db := setupTestServer(t)

	_, err := db.IngestArticles(context.Background(), []store.Incoming{
		{EntityID: "zendaya", URL: "https://example.com/a", Title: "Premiere", PublishedAt: time.Now()},
	})
	if err != nil {
		t.Fatalf("ingest error: %v", err)
	}

	first := doRequest(t, s, http.MethodGet, "/articles?entity=zendaya")
	if first.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", first.Code)
	}
	if got := first.Header().Get("X-Cache"); got != "miss" {
		t.Errorf("first read X-Cache = %q, want miss", got)
	}

	second := doRequest(t, s, http.MethodGet, "/articles?entity=zendaya")
	if got := second.Header().Get("X-Cache"); got != "hit" {
		t.Errorf("second read X-Cache = %q, want hit", got)
	}
	if first.Body.String() != second.Body.String() {
		t.Error("cached payload differs from original")
	}

	var articles []store.Article
	if err := json.Unmarshal(second.Body.Bytes(), &articles); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(articles) != 1 || articles[0].Title != "Premiere" {
		t.Errorf("articles = %+v", articles)
	}
}

func TestStatsEndpoint(t *testing.T) {
	s, db := setupTestServer(t)

	if _, err := db.RecordCycle(context.Background(), store.FetchLog{
		FetchedAt: time.Now(),
		NextDueAt: time.Now().Add(time.Hour),
		Status:    store.CycleSuccess,
		APICalls:  2,
	}); err != nil {
		t.Fatalf("RecordCycle error: %v", err)
	}

	rec := doRequest(t, s, http.MethodGet, "/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var stats store.Statistics
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if stats.TotalCycles != 1 || stats.TotalAPICalls != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestTriggerEndpoint(t *testing.T) {
	s, db := setupTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/fetch/trigger")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	// The triggered cycle runs in the background; wait for its audit record.
	deadline := time.Now().Add(5 * time.Second)
	for {
		logs, err := db.RecentCycles(context.Background(), 1)
		if err != nil {
			t.Fatalf("RecentCycles error: %v", err)
		}
		if len(logs) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("triggered cycle never recorded an audit entry")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTriggerEndpoint_RejectedWhenDisabled(t *testing.T) {
	s, _ := setupTestServer(t)
	s.orch.SetIngestionEnabled(false)

	rec := doRequest(t, s, http.MethodPost, "/fetch/trigger")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestFetchHistoryEndpoint(t *testing.T) {
	s, db := setupTestServer(t)

	base := time.Now().Add(-2 * time.Hour)
	for i, status := range []store.CycleStatus{store.CycleSuccess, store.CycleFailed} {
		log := store.FetchLog{
			FetchedAt: base.Add(time.Duration(i) * time.Hour),
			NextDueAt: base.Add(time.Duration(i+1) * time.Hour),
			Status:    status,
		}
		if status == store.CycleFailed {
			log.Error = "boom"
		}
		if _, err := db.RecordCycle(context.Background(), log); err != nil {
			t.Fatalf("RecordCycle error: %v", err)
		}
	}

	rec := doRequest(t, s, http.MethodGet, "/fetch/history")
	var history []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d records, want 2", len(history))
	}
	if history[0]["status"] != "failed" {
		t.Errorf("first record = %v, want newest first", history[0]["status"])
	}

	rec = doRequest(t, s, http.MethodGet, "/fetch/failures")
	var failures []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &failures); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(failures) != 1 || failures[0]["error"] != "boom" {
		t.Errorf("failures = %v", failures)
	}
}

func TestCredentialsEndpoint(t *testing.T) {
	s, _ := setupTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/credentials")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var states []credential.State
	if err := json.Unmarshal(rec.Body.Bytes(), &states); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(states) != 1 || states[0].Fingerprint != "deadbeef" {
		t.Errorf("states = %+v", states)
	}
}

func TestResetUsageEndpoint(t *testing.T) {
	s, _ := setupTestServer(t)
	pool := s.pool.(*stubPool)

	rec := doRequest(t, s, http.MethodPost, "/credentials/reset-usage?fingerprint=deadbeef")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(pool.resets) != 1 || pool.resets[0] != "deadbeef" {
		t.Errorf("resets = %v", pool.resets)
	}
}

func TestCacheInvalidateEndpoint(t *testing.T) {
	s, db := setupTestServer(t)

	_, err := db.IngestArticles(context.Background(), []store.Incoming{
		{EntityID: "zendaya", URL: "https://example.com/a", Title: "Premiere"},
	})
	if err != nil {
		t.Fatalf("ingest error: %v", err)
	}

	// Warm the cache, then drop the news prefix.
	doRequest(t, s, http.MethodGet, "/articles?entity=zendaya")
	rec := doRequest(t, s, http.MethodPost, "/cache/invalidate?prefix=news")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["dropped"].(float64) < 1 {
		t.Errorf("dropped = %v, want at least 1", body["dropped"])
	}

	after := doRequest(t, s, http.MethodGet, "/articles?entity=zendaya")
	if got := after.Header().Get("X-Cache"); got != "miss" {
		t.Errorf("read after invalidation X-Cache = %q, want miss", got)
	}
}

func TestCacheStatsEndpoint(t *testing.T) {
	s, _ := setupTestServer(t)

	doRequest(t, s, http.MethodGet, "/stats") // miss
	doRequest(t, s, http.MethodGet, "/stats") // hit

	rec := doRequest(t, s, http.MethodGet, "/cache/stats")
	var stats cache.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if stats.Hits < 1 || stats.Misses < 1 {
		t.Errorf("stats = %+v, want at least one hit and one miss", stats)
	}
}
