package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/celebwire/pkg/cache"
	"github.com/Sternrassler/celebwire/pkg/credential"
	"github.com/Sternrassler/celebwire/pkg/scheduler"
	"github.com/Sternrassler/celebwire/pkg/store"
)

// credentialAdmin is the slice of the credential pool the admin API needs.
type credentialAdmin interface {
	States(ctx context.Context) ([]credential.State, error)
	RevalidateAll(ctx context.Context) ([]credential.State, error)
	ResetUsage(ctx context.Context, fingerprint string) error
	Size() int
}

// server exposes the admin and read API.
type server struct {
	orch    *scheduler.Orchestrator
	db      *store.DB
	cache   *cache.Manager
	ttl     cache.TTLPolicy
	pool    credentialAdmin
	limited bool
	logger  zerolog.Logger
}

func serveHTTP(ctx context.Context, a *app, port int) error {
	s := &server{
		orch:    a.orch,
		db:      a.db,
		cache:   a.cache,
		ttl:     a.ttl,
		pool:    a.pool,
		limited: a.limited,
		logger:  a.logger,
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Int("port", port).Msg("Admin API listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /articles", s.handleArticles)
	mux.HandleFunc("GET /trending", s.handleTrending)
	mux.HandleFunc("GET /stats", s.handleStats)

	mux.HandleFunc("POST /fetch/trigger", s.handleTrigger)
	mux.HandleFunc("GET /fetch/status", s.handleFetchStatus)
	mux.HandleFunc("GET /fetch/history", s.handleFetchHistory)
	mux.HandleFunc("GET /fetch/failures", s.handleFetchFailures)

	mux.HandleFunc("GET /credentials", s.handleCredentials)
	mux.HandleFunc("POST /credentials/revalidate", s.handleRevalidate)
	mux.HandleFunc("POST /credentials/reset-usage", s.handleResetUsage)

	mux.HandleFunc("GET /cache/stats", s.handleCacheStats)
	mux.HandleFunc("POST /cache/invalidate", s.handleCacheInvalidate)

	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.limited {
		status = "limited"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            status,
		"phase":             s.orch.Phase(),
		"ingestion_enabled": s.orch.IngestionEnabled(),
		"credentials":       s.pool.Size(),
	})
}

func (s *server) handleArticles(w http.ResponseWriter, r *http.Request) {
	entity := r.URL.Query().Get("entity")
	limit := queryInt(r, "limit", 50)

	key := cache.Key{
		Category: cache.CategoryList,
		Params:   map[string]string{"entity": entity, "limit": strconv.Itoa(limit)},
	}
	s.cached(w, r, key, s.ttl.For(cache.CategoryList), func(ctx context.Context) (any, error) {
		if entity != "" {
			return s.db.ArticlesByEntity(ctx, entity, limit)
		}
		return s.db.RecentArticles(ctx, limit)
	})
}

func (s *server) handleTrending(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	limit := queryInt(r, "limit", 10)

	key := cache.Key{
		Category: cache.CategoryTrending,
		Params:   map[string]string{"days": strconv.Itoa(days), "limit": strconv.Itoa(limit)},
	}
	s.cached(w, r, key, s.ttl.For(cache.CategoryTrending), func(ctx context.Context) (any, error) {
		since := time.Now().AddDate(0, 0, -days)
		return s.db.TrendingEntities(ctx, since, limit)
	})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	key := cache.Key{Category: cache.CategoryStatistics}
	s.cached(w, r, key, s.ttl.For(cache.CategoryStatistics), func(ctx context.Context) (any, error) {
		return s.db.Stats(ctx)
	})
}

func (s *server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	status := s.orch.TriggerNow()
	code := http.StatusAccepted
	if !status.Accepted {
		code = http.StatusConflict
	}
	writeJSON(w, code, status)
}

func (s *server) handleFetchStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"scheduler": s.orch.Status()}

	last, err := s.db.LastSuccessful(r.Context())
	switch {
	case errors.Is(err, store.ErrNoCycles):
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	default:
		resp["last_successful"] = fetchLogJSON(last)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleFetchHistory(w http.ResponseWriter, r *http.Request) {
	logs, err := s.db.RecentCycles(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, fetchLogsJSON(logs))
}

func (s *server) handleFetchFailures(w http.ResponseWriter, r *http.Request) {
	logs, err := s.db.FailedCycles(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, fetchLogsJSON(logs))
}

func (s *server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	states, err := s.pool.States(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *server) handleRevalidate(w http.ResponseWriter, r *http.Request) {
	states, err := s.pool.RevalidateAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *server) handleResetUsage(w http.ResponseWriter, r *http.Request) {
	fingerprint := r.URL.Query().Get("fingerprint")
	if err := s.pool.ResetUsage(r.Context(), fingerprint); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reset": fingerprint})
}

func (s *server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.CacheStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	dropped, err := s.cache.Invalidate(r.Context(), prefix)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prefix": prefix, "dropped": dropped})
}

// cached serves a read through the cache layer: a hit returns the
// stored payload, a miss computes it and stores it for the category TTL.
func (s *server) cached(w http.ResponseWriter, r *http.Request, key cache.Key, ttl time.Duration, load func(ctx context.Context) (any, error)) {
	ctx := r.Context()

	if payload, err := s.cache.Get(ctx, key); err == nil {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "hit")
		w.WriteHeader(http.StatusOK)
		w.Write(payload)
		return
	}

	value, err := load(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.cache.Set(ctx, key, payload, ttl); err != nil {
		s.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to cache response")
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "miss")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func fetchLogJSON(l store.FetchLog) map[string]any {
	out := map[string]any{
		"id":          l.ID,
		"fetched_at":  l.FetchedAt,
		"next_due_at": l.NextDueAt,
		"status":      l.Status,
		"duration_ms": l.Duration.Milliseconds(),
		"api_calls":   l.APICalls,
		"new_items":   l.NewItems,
		"duplicates":  l.Duplicates,
	}
	if l.Error != "" {
		out["error"] = l.Error
	}
	if l.RateRemaining != nil {
		out["rate_remaining"] = *l.RateRemaining
	}
	if l.RateResetAt != nil {
		out["rate_reset_at"] = *l.RateResetAt
	}
	return out
}

func fetchLogsJSON(logs []store.FetchLog) []map[string]any {
	out := make([]map[string]any, 0, len(logs))
	for _, l := range logs {
		out = append(out, fetchLogJSON(l))
	}
	return out
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
