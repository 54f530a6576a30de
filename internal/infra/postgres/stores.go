// Package postgres implements the engine's store ports on PostgreSQL via
// pgx. One Stores value wraps a pgxpool.Pool; Atomic hands the callback a
// Stores bound to a transaction, and nested Atomic calls map onto savepoints
// (pgx models tx.Begin inside a transaction as SAVEPOINT).
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"asyncgate/internal/engine"
	"asyncgate/internal/shared/logging"
)

// querier is the subset of pgxpool.Pool and pgx.Tx the stores need.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Config carries the persistence-level policy knobs.
type Config struct {
	DefaultMaxAttempts  int
	DefaultRetryBackoff time.Duration
	MaxRetryBackoff     time.Duration

	MaxLeaseRenewals int
	MaxLeaseLifetime time.Duration

	MaxBodyBytes int
	MaxParents   int
	MaxArtifacts int

	// StrictLocatability rejects task.completed discharges that carry neither
	// artifacts nor delivery_proof. When false the discharge is recorded with
	// parents stripped and a locatability anomaly is emitted alongside.
	StrictLocatability bool

	// InstanceID is stamped onto every row this node writes.
	InstanceID string
}

// DefaultStoreConfig returns the documented persistence defaults.
func DefaultStoreConfig() Config {
	return Config{
		DefaultMaxAttempts:  2,
		DefaultRetryBackoff: 15 * time.Second,
		MaxRetryBackoff:     900 * time.Second,
		MaxLeaseRenewals:    10,
		MaxLeaseLifetime:    2 * time.Hour,
		MaxBodyBytes:        64 * 1024,
		MaxParents:          10,
		MaxArtifacts:        100,
	}
}

// Stores implements engine.Stores on Postgres.
type Stores struct {
	pool   *pgxpool.Pool
	q      querier
	cfg    Config
	logger logging.Logger

	tasks    *TaskStore
	leases   *LeaseStore
	receipts *ReceiptLedger
	progress *ProgressStore
}

var _ engine.Stores = (*Stores)(nil)

// NewStores wraps a pool. The pool's lifecycle belongs to the caller.
func NewStores(pool *pgxpool.Pool, cfg Config, logger logging.Logger) *Stores {
	s := &Stores{
		pool:   pool,
		q:      pool,
		cfg:    cfg,
		logger: logging.OrNop(logger),
	}
	s.bind()
	return s
}

func (s *Stores) bind() {
	s.tasks = &TaskStore{q: s.q, cfg: s.cfg}
	s.leases = &LeaseStore{q: s.q, cfg: s.cfg}
	s.receipts = &ReceiptLedger{q: s.q, cfg: s.cfg, logger: s.logger}
	s.progress = &ProgressStore{q: s.q}
}

func (s *Stores) Tasks() engine.TaskStore        { return s.tasks }
func (s *Stores) Leases() engine.LeaseStore      { return s.leases }
func (s *Stores) Receipts() engine.ReceiptLedger { return s.receipts }
func (s *Stores) Progress() engine.ProgressStore { return s.progress }

// Atomic runs fn in a transaction bound to this Stores' connection scope.
// Called on the pool it opens a top-level transaction; called inside a
// transaction it opens a savepoint, so partial work rolls back cleanly.
func (s *Stores) Atomic(ctx context.Context, fn func(engine.Stores) error) error {
	tx, err := s.q.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin atomic block: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort on defer

	child := &Stores{pool: s.pool, q: tx, cfg: s.cfg, logger: s.logger}
	child.bind()
	if err := fn(child); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit atomic block: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *Stores) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres stores not initialized")
	}
	return s.pool.Ping(ctx)
}
