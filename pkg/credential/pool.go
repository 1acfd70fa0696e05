package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for credential pool operations.
var (
	credentialProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "celebwire_credential_probes_total",
		Help: "Total credential probe requests by outcome",
	}, []string{"outcome"})

	credentialsUsable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "celebwire_credentials_usable",
		Help: "Whether the last selection found a usable credential (1) or exhausted the pool (0)",
	})

	credentialExhaustionTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "celebwire_credential_exhaustion_total",
		Help: "Total selections that found no usable credential",
	})
)

// How long a confirmed status is trusted before a credential is re-probed.
const (
	defaultStaleAfter   = 15 * time.Minute
	invalidRecheckAfter = 12 * time.Hour
)

// Prober issues a minimal probe request against the search API and classifies
// the response. Implemented by fetcher.Client. Expected failure classes come
// back as outcomes; the error is only set for unexpected conditions and as
// detail alongside OutcomeNetworkError.
type Prober interface {
	Probe(ctx context.Context, secret string) (Outcome, error)
}

// Credential is a selected, usable credential.
type Credential struct {
	// Secret is the opaque API key. Never logged.
	Secret string

	// Fingerprint is the loggable identifier for this credential.
	Fingerprint string
}

// Pool owns the configured credentials and their persisted state.
// State is shared across processes via Redis; only the Pool mutates it.
type Pool struct {
	redis      *redis.Client
	prober     Prober
	secrets    []string
	staleAfter time.Duration
	logger     zerolog.Logger
}

// NewPool creates a credential pool over the configured secrets, in priority
// order.
func NewPool(redisClient *redis.Client, prober Prober, secrets []string, logger zerolog.Logger) *Pool {
	return &Pool{
		redis:      redisClient,
		prober:     prober,
		secrets:    secrets,
		staleAfter: defaultStaleAfter,
		logger:     logger,
	}
}

// Size returns the number of configured credentials.
func (p *Pool) Size() int {
	return len(p.secrets)
}

// Validate probes a single credential and persists the resulting status.
// Expected failure classes (invalid, rate limited, network error) are
// returned as outcomes, never as errors.
func (p *Pool) Validate(ctx context.Context, secret string) (Outcome, error) {
	fp := Fingerprint(secret)

	outcome, probeErr := p.prober.Probe(ctx, secret)
	credentialProbesTotal.WithLabelValues(string(outcome)).Inc()

	p.logger.Debug().
		Str("credential", fp).
		Str("outcome", string(outcome)).
		Msg("Credential probed")

	switch outcome {
	case OutcomeValid:
		err := p.saveState(ctx, &State{Fingerprint: fp, Status: StatusValid, LastChecked: time.Now()})
		return outcome, err
	case OutcomeInvalid:
		err := p.saveState(ctx, &State{Fingerprint: fp, Status: StatusInvalid, LastChecked: time.Now()})
		return outcome, err
	case OutcomeRateLimited:
		err := p.MarkRateLimited(ctx, fp, nil)
		return outcome, err
	case OutcomeNetworkError:
		// Transient: keep the previously persisted status.
		return outcome, probeErr
	default:
		return outcome, fmt.Errorf("unexpected probe outcome %q: %w", outcome, probeErr)
	}
}

// SelectUsable tries each credential in priority order and returns the first
// one classified valid. Known-invalid and still-rate-limited credentials are
// skipped without a probe; stale or unknown ones are probed first.
func (p *Pool) SelectUsable(ctx context.Context) (Credential, error) {
	if len(p.secrets) == 0 {
		return Credential{}, ErrNoCredentialsConfigured
	}

	now := time.Now()
	rateLimited := 0
	var lastErr error

	for _, secret := range p.secrets {
		fp := Fingerprint(secret)

		state, err := p.loadState(ctx, fp)
		if err != nil {
			return Credential{}, fmt.Errorf("load credential state: %w", err)
		}

		if state.Usable(p.staleAfter) {
			credentialsUsable.Set(1)
			return Credential{Secret: secret, Fingerprint: fp}, nil
		}

		switch {
		case state.Status == StatusRateLimited && !state.RateLimitExpired(now):
			rateLimited++
			p.logger.Debug().Str("credential", fp).Msg("Skipping rate-limited credential")
			continue
		case state.Status == StatusInvalid && !state.IsStale(invalidRecheckAfter):
			p.logger.Debug().Str("credential", fp).Msg("Skipping known-invalid credential")
			continue
		}

		// Stale, unknown, or rate-limit window passed: probe.
		outcome, probeErr := p.Validate(ctx, secret)
		switch outcome {
		case OutcomeValid:
			credentialsUsable.Set(1)
			return Credential{Secret: secret, Fingerprint: fp}, nil
		case OutcomeRateLimited:
			rateLimited++
		case OutcomeNetworkError:
			lastErr = probeErr
		}
	}

	credentialsUsable.Set(0)
	credentialExhaustionTotal.Inc()

	if rateLimited == len(p.secrets) {
		p.logger.Warn().Int("credentials", rateLimited).Msg("All credentials rate limited")
		return Credential{}, ErrAllRateLimited
	}

	if lastErr != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrNoUsableCredential, lastErr)
	}
	return Credential{}, ErrNoUsableCredential
}

// StartupCheck validates the pool at process start.
//
// Returns ErrNoCredentialsConfigured (fatal) when the pool is empty,
// ErrAllRateLimited (limited mode: process continues with ingestion disabled)
// when every credential is rate limited, and a fatal error for any other
// all-unusable outcome.
func (p *Pool) StartupCheck(ctx context.Context) error {
	if len(p.secrets) == 0 {
		return ErrNoCredentialsConfigured
	}

	cred, err := p.SelectUsable(ctx)
	if err != nil {
		if errors.Is(err, ErrAllRateLimited) {
			return ErrAllRateLimited
		}
		return fmt.Errorf("startup credential check: %w", err)
	}

	p.logger.Info().
		Str("credential", cred.Fingerprint).
		Int("pool_size", len(p.secrets)).
		Msg("Credential pool ready")
	return nil
}

// RecordUse charges API calls to a credential's per-day usage counter.
func (p *Pool) RecordUse(ctx context.Context, fingerprint string, calls int) error {
	if calls <= 0 {
		return nil
	}

	key := usageKey(fingerprint, time.Now())
	pipe := p.redis.Pipeline()
	pipe.IncrBy(ctx, key, int64(calls))
	pipe.Expire(ctx, key, usageKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record credential use: %w", err)
	}
	return nil
}

// MarkRateLimited records that the API rejected the credential for quota,
// with an optional reset time reported by the API.
func (p *Pool) MarkRateLimited(ctx context.Context, fingerprint string, resetAt *time.Time) error {
	state := &State{
		Fingerprint:      fingerprint,
		Status:           StatusRateLimited,
		LastChecked:      time.Now(),
		RateLimitResetAt: resetAt,
	}

	event := p.logger.Warn().Str("credential", fingerprint)
	if resetAt != nil {
		event = event.Time("reset_at", *resetAt)
	}
	event.Msg("Credential rate limited")

	return p.saveState(ctx, state)
}

// MarkInvalid records that the API rejected the credential as invalid.
func (p *Pool) MarkInvalid(ctx context.Context, fingerprint string) error {
	p.logger.Warn().Str("credential", fingerprint).Msg("Credential invalid")
	return p.saveState(ctx, &State{Fingerprint: fingerprint, Status: StatusInvalid, LastChecked: time.Now()})
}

// States returns the persisted state of every configured credential, with
// today's usage counter filled in. Used by the credential health API.
func (p *Pool) States(ctx context.Context) ([]State, error) {
	states := make([]State, 0, len(p.secrets))
	now := time.Now()

	for _, secret := range p.secrets {
		fp := Fingerprint(secret)

		state, err := p.loadState(ctx, fp)
		if err != nil {
			return nil, fmt.Errorf("load credential state: %w", err)
		}

		usage, err := p.redis.Get(ctx, usageKey(fp, now)).Int()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("load credential usage: %w", err)
		}
		state.UsageToday = usage

		states = append(states, *state)
	}

	return states, nil
}

// RevalidateAll probes every credential regardless of staleness and
// returns the refreshed states. Probe failures are reflected in the
// returned status rather than aborting the sweep.
func (p *Pool) RevalidateAll(ctx context.Context) ([]State, error) {
	for _, secret := range p.secrets {
		if _, err := p.Validate(ctx, secret); err != nil {
			p.logger.Warn().
				Str("credential", Fingerprint(secret)).
				Err(err).
				Msg("Revalidation probe failed")
		}
	}
	return p.States(ctx)
}

// ResetUsage clears the per-day usage counter for one credential, or for all
// credentials when fingerprint is empty.
func (p *Pool) ResetUsage(ctx context.Context, fingerprint string) error {
	now := time.Now()
	for _, secret := range p.secrets {
		fp := Fingerprint(secret)
		if fingerprint != "" && fp != fingerprint {
			continue
		}
		if err := p.redis.Del(ctx, usageKey(fp, now)).Err(); err != nil {
			return fmt.Errorf("reset credential usage: %w", err)
		}
	}
	return nil
}

// loadState fetches a credential's persisted state. Returns a default
// unknown state if nothing is stored.
func (p *Pool) loadState(ctx context.Context, fingerprint string) (*State, error) {
	data, err := p.redis.Get(ctx, stateKey(fingerprint)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return &State{Fingerprint: fingerprint, Status: StatusUnknown}, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal credential state: %w", err)
	}
	return &state, nil
}

// saveState persists a credential's state record.
func (p *Pool) saveState(ctx context.Context, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal credential state: %w", err)
	}

	if err := p.redis.Set(ctx, stateKey(state.Fingerprint), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
