// Package engine implements the task-execution engine: task lifecycle,
// lease protocol, receipt ledger semantics, obligation query, and lease
// expiry. The engine behaves identically regardless of which facade invokes
// it; facades only adapt transport to these operations.
package engine

import (
	"context"
	"time"

	"asyncgate/internal/shared/logging"
)

// Config carries the engine-level knobs. Store-level caps (renewal limits,
// backoff caps, receipt size limits) are configured on the stores themselves.
type Config struct {
	DefaultLeaseTTL time.Duration
	MaxLeaseTTL     time.Duration

	// MaxClaimTasks caps max_tasks per claim request.
	MaxClaimTasks int

	DefaultListLimit int
	MaxListLimit     int

	// ObligationCandidateMultiplier is the k in the candidate over-fetch
	// min(limit*k, hard cap); the hard cap bounds work per request even for
	// tenants with huge open-obligation backlogs.
	ObligationCandidateMultiplier int
	ObligationCandidateHardCap    int

	SweepBatch int

	// ExpiryJitterMax spreads requeue eligibility after a sweep so expired
	// tasks do not all become claimable in the same instant.
	ExpiryJitterMax time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		DefaultLeaseTTL:               120 * time.Second,
		MaxLeaseTTL:                   1800 * time.Second,
		MaxClaimTasks:                 10,
		DefaultListLimit:              50,
		MaxListLimit:                  200,
		ObligationCandidateMultiplier: 3,
		ObligationCandidateHardCap:    1000,
		SweepBatch:                    20,
		ExpiryJitterMax:               5 * time.Second,
	}
}

// Metrics receives engine telemetry. Implementations must be safe for
// concurrent use; a nil Metrics disables collection.
type Metrics interface {
	TaskCreated()
	TaskSucceeded()
	TaskFailed()
	TaskCanceled()
	TaskRequeued()
	LeasesClaimed(n int)
	LeaseRenewed()
	LeasesExpired(n int)
	ReceiptEmitted(receiptType string)
	ObligationQuery(duration time.Duration, returned int)
}

type nopMetrics struct{}

func (nopMetrics) TaskCreated()                       {}
func (nopMetrics) TaskSucceeded()                     {}
func (nopMetrics) TaskFailed()                        {}
func (nopMetrics) TaskCanceled()                      {}
func (nopMetrics) TaskRequeued()                      {}
func (nopMetrics) LeasesClaimed(int)                  {}
func (nopMetrics) LeaseRenewed()                      {}
func (nopMetrics) LeasesExpired(int)                  {}
func (nopMetrics) ReceiptEmitted(string)              {}
func (nopMetrics) ObligationQuery(time.Duration, int) {}

// Engine composes the stores and preserves cross-store invariants.
type Engine struct {
	stores     Stores
	cfg        Config
	instanceID string
	logger     logging.Logger
	metrics    Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(logger) }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(metrics Metrics) Option {
	return func(e *Engine) {
		if metrics != nil {
			e.metrics = metrics
		}
	}
}

// New constructs the engine over a store set.
func New(stores Stores, cfg Config, instanceID string, opts ...Option) *Engine {
	e := &Engine{
		stores:     stores,
		cfg:        cfg,
		instanceID: instanceID,
		logger:     logging.NewComponentLogger("Engine"),
		metrics:    nopMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Health verifies the backing store is reachable.
func (e *Engine) Health(ctx context.Context) error {
	return e.stores.Ping(ctx)
}

// ConfigSnapshot exposes the operational settings a client may need to adapt
// to (lease caps, claim limits). It never includes secrets.
func (e *Engine) ConfigSnapshot() map[string]any {
	return map[string]any{
		"instance_id":               e.instanceID,
		"default_lease_ttl_seconds": int(e.cfg.DefaultLeaseTTL.Seconds()),
		"max_lease_ttl_seconds":     int(e.cfg.MaxLeaseTTL.Seconds()),
		"max_claim_tasks":           e.cfg.MaxClaimTasks,
		"default_list_limit":        e.cfg.DefaultListLimit,
		"max_list_limit":            e.cfg.MaxListLimit,
		"capabilities":              []string{"lease_based_execution", "receipt_emission"},
	}
}

// clampLimit applies the default/max listing bounds.
func (e *Engine) clampLimit(limit int) int {
	if limit <= 0 {
		return e.cfg.DefaultListLimit
	}
	if limit > e.cfg.MaxListLimit {
		return e.cfg.MaxListLimit
	}
	return limit
}

// clampTTL applies lease TTL bounds to a requested duration.
func (e *Engine) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return e.cfg.DefaultLeaseTTL
	}
	if ttl > e.cfg.MaxLeaseTTL {
		return e.cfg.MaxLeaseTTL
	}
	return ttl
}
