package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"asyncgate/internal/domain/lease"
	"asyncgate/internal/domain/task"
	"asyncgate/internal/engine"
)

// LeaseStore persists leases. The UNIQUE (tenant_id, task_id) constraint is
// what enforces single-active-lease: a second claim on the same task fails at
// the database no matter what the application believes.
type LeaseStore struct {
	q   querier
	cfg Config
}

var _ engine.LeaseStore = (*LeaseStore)(nil)

const leaseColumns = `tenant_id, lease_id, task_id, worker_id, acquired_at, expires_at, renewal_count`

// ClaimNext claims up to maxTasks eligible queued tasks in one transaction.
// FOR UPDATE SKIP LOCKED keeps concurrent claimers from serialising on the
// same rows; each claimed task flips to leased and gets a lease row.
func (s *LeaseStore) ClaimNext(ctx context.Context, tenant uuid.UUID, workerID string, capabilities []string, maxTasks int, ttl time.Duration) ([]engine.Claim, error) {
	if capabilities == nil {
		capabilities = []string{}
	}
	capsJSON, err := json.Marshal(capabilities)
	if err != nil {
		return nil, fmt.Errorf("marshal capabilities: %w", err)
	}

	tx, err := s.q.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort on defer

	now := time.Now().UTC()
	rows, err := tx.Query(ctx,
		`SELECT `+taskColumns+` FROM `+tasksTable+`
		 WHERE tenant_id = $1 AND status = $2
		   AND (next_eligible_at IS NULL OR next_eligible_at <= $3)
		   AND COALESCE(requirements->'capabilities', '[]'::jsonb) <@ $4::jsonb
		 ORDER BY priority DESC, created_at ASC, task_id ASC
		 FOR UPDATE SKIP LOCKED
		 LIMIT $5`,
		tenant, string(task.StatusQueued), now, capsJSON, maxTasks,
	)
	if err != nil {
		return nil, fmt.Errorf("select claimable tasks: %w", err)
	}
	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		tasks = append(tasks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select claimable tasks: %w", err)
	}

	claims := make([]engine.Claim, 0, len(tasks))
	expiresAt := now.Add(ttl)
	for _, t := range tasks {
		if _, err := tx.Exec(ctx,
			`UPDATE `+tasksTable+` SET status = $1, updated_at = now()
			 WHERE tenant_id = $2 AND task_id = $3`,
			string(task.StatusLeased), tenant, t.TaskID,
		); err != nil {
			return nil, fmt.Errorf("lease task %s: %w", t.TaskID, err)
		}
		l := &lease.Lease{
			TenantID:   tenant,
			LeaseID:    uuid.New(),
			TaskID:     t.TaskID,
			WorkerID:   workerID,
			AcquiredAt: now,
			ExpiresAt:  expiresAt,
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+leasesTable+` (tenant_id, lease_id, task_id, worker_id, acquired_at, expires_at, renewal_count)
			 VALUES ($1, $2, $3, $4, $5, $6, 0)`,
			tenant, l.LeaseID, l.TaskID, workerID, now, expiresAt,
		); err != nil {
			return nil, fmt.Errorf("insert lease for task %s: %w", t.TaskID, err)
		}
		t.Status = task.StatusLeased
		claims = append(claims, engine.Claim{Task: t, Lease: l})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return claims, nil
}

// Validate returns the lease iff it matches task and worker and has not
// expired; nil otherwise. Pure read, no side effects.
func (s *LeaseStore) Validate(ctx context.Context, tenant, taskID, leaseID uuid.UUID, workerID string) (*lease.Lease, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+leaseColumns+` FROM `+leasesTable+`
		 WHERE tenant_id = $1 AND lease_id = $2 AND task_id = $3 AND worker_id = $4 AND expires_at > $5`,
		tenant, leaseID, taskID, workerID, time.Now().UTC(),
	)
	l, err := scanLease(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

// Renew extends the lease. The caps are checked against the current row, and
// the UPDATE predicates on both the observed renewal_count and a live
// expires_at, so an expired or concurrently-renewed lease cannot be extended.
func (s *LeaseStore) Renew(ctx context.Context, tenant, taskID, leaseID uuid.UUID, workerID string, extendBy time.Duration) (*lease.Lease, error) {
	now := time.Now().UTC()
	current, err := s.Validate(ctx, tenant, taskID, leaseID, workerID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, engine.NewLeaseInvalidOrExpired(taskID.String(), leaseID.String())
	}
	if current.RenewalCount >= s.cfg.MaxLeaseRenewals {
		return nil, engine.NewRenewalLimitExceeded(leaseID.String(), s.cfg.MaxLeaseRenewals)
	}
	newExpiry := now.Add(extendBy)
	if newExpiry.Sub(current.AcquiredAt) > s.cfg.MaxLeaseLifetime {
		return nil, engine.NewLifetimeExceeded(leaseID.String())
	}

	row := s.q.QueryRow(ctx,
		`UPDATE `+leasesTable+` SET expires_at = $1, renewal_count = renewal_count + 1
		 WHERE tenant_id = $2 AND lease_id = $3 AND task_id = $4 AND worker_id = $5
		   AND renewal_count = $6 AND expires_at > $7
		 RETURNING `+leaseColumns,
		newExpiry, tenant, leaseID, taskID, workerID, current.RenewalCount, now,
	)
	renewed, err := scanLease(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.NewLeaseInvalidOrExpired(taskID.String(), leaseID.String())
	}
	return renewed, err
}

// Release removes the active lease on the task, if any.
func (s *LeaseStore) Release(ctx context.Context, tenant, taskID uuid.UUID) (bool, error) {
	tag, err := s.q.Exec(ctx,
		`DELETE FROM `+leasesTable+` WHERE tenant_id = $1 AND task_id = $2`,
		tenant, taskID,
	)
	if err != nil {
		return false, fmt.Errorf("release lease on task %s: %w", taskID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetExpired returns leases past their expiry across all tenants, oldest
// first. Sweeper-only.
func (s *LeaseStore) GetExpired(ctx context.Context, now time.Time, limit int) ([]*lease.Lease, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+leaseColumns+` FROM `+leasesTable+`
		 WHERE expires_at <= $1
		 ORDER BY expires_at ASC
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select expired leases: %w", err)
	}
	defer rows.Close()

	var leases []*lease.Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		leases = append(leases, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select expired leases: %w", err)
	}
	return leases, nil
}

func scanLease(row pgx.Row) (*lease.Lease, error) {
	var l lease.Lease
	err := row.Scan(&l.TenantID, &l.LeaseID, &l.TaskID, &l.WorkerID, &l.AcquiredAt, &l.ExpiresAt, &l.RenewalCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan lease: %w", err)
	}
	return &l, nil
}
