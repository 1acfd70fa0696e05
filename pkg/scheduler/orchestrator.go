// Package scheduler drives the ingestion pipeline: it plans the next
// roster batch on a fixed interval, executes the fetch, ingests the
// results, invalidates cached reads, and records one audit entry per
// cycle. At most one cycle runs at a time; a manual trigger that
// arrives mid-cycle is rejected rather than queued.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/celebwire/pkg/cache"
	"github.com/Sternrassler/celebwire/pkg/fetcher"
	"github.com/Sternrassler/celebwire/pkg/roster"
	"github.com/Sternrassler/celebwire/pkg/rotation"
	"github.com/Sternrassler/celebwire/pkg/store"
)

var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "celebwire_fetch_cycles_total",
		Help: "Completed fetch cycles by status",
	}, []string{"status"})
	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "celebwire_fetch_cycle_duration_seconds",
		Help:    "Wall time of a full fetch cycle",
		Buckets: prometheus.DefBuckets,
	})
	triggersRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "celebwire_fetch_triggers_rejected_total",
		Help: "Manual triggers rejected because a cycle was already running",
	})
)

// Phase is the orchestrator's current position in the cycle.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhasePlanning     Phase = "planning"
	PhaseFetching     Phase = "fetching"
	PhaseIngesting    Phase = "ingesting"
	PhaseInvalidating Phase = "invalidating"
	PhaseAuditing     Phase = "auditing"
)

// BatchExecutor runs the combined search for one batch.
type BatchExecutor interface {
	Execute(ctx context.Context, batch rotation.Batch) (*fetcher.Result, error)
}

// CursorStore persists the rotation cursor between cycles.
type CursorStore interface {
	Load(ctx context.Context) (rotation.State, error)
	Save(ctx context.Context, state rotation.State) error
}

// ArticleStore ingests fetched items and records cycle audit entries.
type ArticleStore interface {
	IngestArticles(ctx context.Context, items []store.Incoming) (store.IngestResult, error)
	RecordCycle(ctx context.Context, log store.FetchLog) (string, error)
}

// CacheInvalidator drops cached read results after new articles land.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, prefix string) (int, error)
}

// Deps are the pipeline stages the orchestrator coordinates.
type Deps struct {
	Roster   roster.Provider
	Planner  *rotation.Planner
	Cursor   CursorStore
	Executor BatchExecutor
	Store    ArticleStore
	Cache    CacheInvalidator
}

// Options tune the cycle cadence.
type Options struct {
	// Interval between cycle starts. Also determines the next-due
	// timestamp written to the audit log.
	Interval time.Duration

	// AdvanceOnFailure moves the rotation cursor past a batch even when
	// its cycle fails, so one broken batch cannot starve the roster.
	AdvanceOnFailure bool
}

// TriggerStatus is the response to a manual cycle request.
type TriggerStatus struct {
	Accepted bool  `json:"accepted"`
	Phase    Phase `json:"phase"`
}

// Status is a point-in-time snapshot of the orchestrator.
type Status struct {
	Phase            Phase         `json:"phase"`
	IngestionEnabled bool          `json:"ingestion_enabled"`
	Interval         time.Duration `json:"interval"`
}

// Orchestrator owns the fetch cycle lifecycle.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger

	running sync.Mutex
	phase   atomic.Value
	enabled atomic.Bool
}

// New builds an orchestrator. Ingestion starts enabled; callers running
// in limited mode disable it before Run.
func New(deps Deps, opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.Interval <= 0 {
		// Without a configured cadence the next fetch is due a day out.
		opts.Interval = 24 * time.Hour
	}
	o := &Orchestrator{deps: deps, opts: opts, logger: logger}
	o.phase.Store(PhaseIdle)
	o.enabled.Store(true)
	return o
}

// Phase returns the current cycle phase.
func (o *Orchestrator) Phase() Phase {
	return o.phase.Load().(Phase)
}

// Status reports the orchestrator snapshot.
func (o *Orchestrator) Status() Status {
	return Status{
		Phase:            o.Phase(),
		IngestionEnabled: o.enabled.Load(),
		Interval:         o.opts.Interval,
	}
}

// SetIngestionEnabled toggles cycle execution. Disabled cycles are
// skipped, not queued; the read path stays up regardless.
func (o *Orchestrator) SetIngestionEnabled(enabled bool) {
	o.enabled.Store(enabled)
}

// IngestionEnabled reports whether cycles currently run.
func (o *Orchestrator) IngestionEnabled() bool {
	return o.enabled.Load()
}

// Run executes cycles on the configured interval until ctx is
// cancelled. The first cycle starts immediately.
func (o *Orchestrator) Run(ctx context.Context) {
	o.logger.Info().
		Dur("interval", o.opts.Interval).
		Bool("advance_on_failure", o.opts.AdvanceOnFailure).
		Msg("Scheduler started")

	o.tick(ctx)

	ticker := time.NewTicker(o.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info().Msg("Scheduler stopped")
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// TriggerNow requests an immediate cycle. The cycle runs in the
// background; the call reports whether it was accepted. A trigger that
// lands while a cycle is in flight is rejected.
func (o *Orchestrator) TriggerNow() TriggerStatus {
	if !o.enabled.Load() {
		return TriggerStatus{Accepted: false, Phase: o.Phase()}
	}
	if !o.running.TryLock() {
		triggersRejectedTotal.Inc()
		return TriggerStatus{Accepted: false, Phase: o.Phase()}
	}

	go func() {
		defer o.running.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), o.opts.Interval)
		defer cancel()
		o.runCycle(ctx)
	}()
	return TriggerStatus{Accepted: true, Phase: o.Phase()}
}

// RunOnce executes a single cycle synchronously. It reports false when
// ingestion is disabled or another cycle already holds the lock.
func (o *Orchestrator) RunOnce(ctx context.Context) bool {
	if !o.enabled.Load() {
		return false
	}
	if !o.running.TryLock() {
		return false
	}
	defer o.running.Unlock()
	o.runCycle(ctx)
	return true
}

func (o *Orchestrator) tick(ctx context.Context) {
	if !o.enabled.Load() {
		o.logger.Debug().Msg("Ingestion disabled, skipping cycle")
		return
	}
	if !o.running.TryLock() {
		o.logger.Warn().Msg("Previous cycle still running, skipping tick")
		return
	}
	defer o.running.Unlock()
	o.runCycle(ctx)
}

// runCycle executes one full cycle. The caller must hold the running
// lock. Exactly one audit record is written regardless of outcome.
func (o *Orchestrator) runCycle(ctx context.Context) {
	cycleID := uuid.NewString()
	start := time.Now()
	logger := o.logger.With().Str("cycle_id", cycleID).Logger()

	audit := store.FetchLog{
		ID:        cycleID,
		FetchedAt: start.UTC(),
		NextDueAt: start.Add(o.opts.Interval).UTC(),
	}
	defer func() {
		o.setPhase(PhaseIdle)
		audit.Duration = time.Since(start)
		cycleDuration.Observe(audit.Duration.Seconds())
		cyclesTotal.WithLabelValues(string(audit.Status)).Inc()
		// The audit record must land even when the cycle's context was
		// cancelled mid-flight.
		if _, err := o.deps.Store.RecordCycle(context.WithoutCancel(ctx), audit); err != nil {
			logger.Error().Err(err).Msg("Failed to record cycle audit entry")
		}
	}()

	o.setPhase(PhasePlanning)

	entities, err := o.deps.Roster.ActiveEntities(ctx)
	if err != nil {
		o.failCycle(&audit, logger, "loading roster", err)
		return
	}

	state, err := o.deps.Cursor.Load(ctx)
	if err != nil {
		// A lost cursor restarts the rotation at batch zero. That
		// re-fetches recent batches but the dedup layer absorbs it.
		logger.Warn().Err(err).Msg("Cursor unavailable, starting rotation from zero")
		state = rotation.State{}
	}

	batch, next, err := o.deps.Planner.PlanCycle(entities, state)
	if err != nil {
		if errors.Is(err, rotation.ErrEmptyRoster) {
			logger.Warn().Msg("Roster empty, nothing to fetch")
		}
		o.failCycle(&audit, logger, "planning batch", err)
		return
	}

	logger.Info().
		Int("batch_index", batch.Index).
		Int("batch_entities", len(batch.Entities)).
		Int("total_batches", next.TotalBatches).
		Msg("Cycle planned")

	o.setPhase(PhaseFetching)
	result, fetchErr := o.deps.Executor.Execute(ctx, batch)
	audit.APICalls = result.APICalls
	audit.RateRemaining = result.RateRemaining
	audit.RateResetAt = result.RateResetAt

	var ingest store.IngestResult
	if len(result.Items) > 0 {
		o.setPhase(PhaseIngesting)
		items := attribute(batch.Entities, result.Items)
		ingest, err = o.deps.Store.IngestArticles(ctx, items)
		if err != nil {
			// Cursor stays put: the fetched items were never stored, so
			// the batch must be retried even when advance on failure is on.
			o.failCycle(&audit, logger, "ingesting articles", err)
			return
		}
		audit.NewItems = ingest.New
		audit.Duplicates = ingest.Duplicates
	}

	if ingest.New > 0 {
		o.setPhase(PhaseInvalidating)
		for _, prefix := range []string{cache.PrefixNews, cache.CategoryStatistics} {
			dropped, err := o.deps.Cache.Invalidate(ctx, prefix)
			if err != nil {
				logger.Warn().Err(err).Str("prefix", prefix).Msg("Cache invalidation failed")
				continue
			}
			logger.Debug().Str("prefix", prefix).Int("dropped", dropped).Msg("Cache invalidated")
		}
	}

	o.setPhase(PhaseAuditing)
	o.advanceCursor(ctx, logger, next, fetchErr == nil)

	switch {
	case fetchErr != nil && len(result.Items) == 0:
		audit.Status = store.CycleFailed
		audit.Error = fetchErr.Error()
	case fetchErr != nil || ingest.Failed > 0:
		audit.Status = store.CyclePartial
		if fetchErr != nil {
			audit.Error = fetchErr.Error()
		}
	default:
		audit.Status = store.CycleSuccess
	}

	logger.Info().
		Str("status", string(audit.Status)).
		Int("new_items", audit.NewItems).
		Int("duplicates", audit.Duplicates).
		Int("api_calls", audit.APICalls).
		Dur("duration", time.Since(start)).
		Msg("Cycle finished")
}

// advanceCursor persists the next rotation state. On failure the cursor
// only moves when configured to, so a persistently broken batch either
// gets retried or gets skipped per deployment policy.
func (o *Orchestrator) advanceCursor(ctx context.Context, logger zerolog.Logger, next rotation.State, succeeded bool) {
	if !succeeded && !o.opts.AdvanceOnFailure {
		logger.Debug().Msg("Cycle failed, cursor held in place")
		return
	}
	if err := o.deps.Cursor.Save(ctx, next); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist rotation cursor")
	}
}

func (o *Orchestrator) failCycle(audit *store.FetchLog, logger zerolog.Logger, stage string, err error) {
	audit.Status = store.CycleFailed
	audit.Error = stage + ": " + err.Error()
	logger.Error().Err(err).Str("stage", stage).Msg("Cycle failed")
}

func (o *Orchestrator) setPhase(p Phase) {
	o.phase.Store(p)
}

// attribute maps fetched items back to the batch entities whose name or
// alias appears in the title or description. An item that matches
// several entities is credited to the first match in batch order; an
// item matching none keeps an empty entity ID and is stored anyway.
func attribute(entities []roster.Entity, items []fetcher.RawItem) []store.Incoming {
	incoming := make([]store.Incoming, 0, len(items))
	for _, item := range items {
		text := item.Title + " " + item.Description
		var entityID string
		for _, e := range entities {
			if e.Matches(text) {
				entityID = e.ID
				break
			}
		}
		incoming = append(incoming, store.Incoming{
			EntityID:    entityID,
			URL:         item.URL,
			Title:       strings.TrimSpace(item.Title),
			Description: strings.TrimSpace(item.Description),
			ImageURL:    item.ImageURL,
			Source:      item.Source,
			PublishedAt: item.PublishedAt,
		})
	}
	return incoming
}
