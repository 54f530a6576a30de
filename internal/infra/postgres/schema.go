package postgres

import (
	"context"
	"fmt"
)

const (
	tasksTable    = "asyncgate_tasks"
	leasesTable   = "asyncgate_leases"
	receiptsTable = "asyncgate_receipts"
	progressTable = "asyncgate_task_progress"
)

// EnsureSchema creates the tables and indices if they do not exist.
func (s *Stores) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres stores not initialized")
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + tasksTable + ` (
    tenant_id             UUID NOT NULL,
    task_id               UUID NOT NULL,
    task_type             TEXT NOT NULL,
    payload               JSONB NOT NULL DEFAULT '{}'::jsonb,
    requirements          JSONB NOT NULL DEFAULT '{}'::jsonb,
    priority              INTEGER NOT NULL DEFAULT 0,
    created_by_kind       TEXT NOT NULL,
    created_by_id         TEXT NOT NULL,
    idempotency_key       TEXT,
    status                TEXT NOT NULL DEFAULT 'queued',
    attempt               INTEGER NOT NULL DEFAULT 1,
    max_attempts          INTEGER NOT NULL DEFAULT 3,
    retry_backoff_seconds INTEGER NOT NULL DEFAULT 5,
    next_eligible_at      TIMESTAMPTZ,
    result                JSONB,
    instance              TEXT NOT NULL DEFAULT '',
    created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (tenant_id, task_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_asyncgate_tasks_claim
    ON ` + tasksTable + ` (tenant_id, status, priority DESC, created_at ASC, task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_asyncgate_tasks_list
    ON ` + tasksTable + ` (tenant_id, created_at, task_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_asyncgate_tasks_idempotency
    ON ` + tasksTable + ` (tenant_id, idempotency_key) WHERE idempotency_key IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS ` + leasesTable + ` (
    tenant_id     UUID NOT NULL,
    lease_id      UUID NOT NULL,
    task_id       UUID NOT NULL,
    worker_id     TEXT NOT NULL,
    acquired_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    expires_at    TIMESTAMPTZ NOT NULL,
    renewal_count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (tenant_id, lease_id),
    UNIQUE (tenant_id, task_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_asyncgate_leases_expiry
    ON ` + leasesTable + ` (expires_at)`,

		`CREATE TABLE IF NOT EXISTS ` + receiptsTable + ` (
    tenant_id    UUID NOT NULL,
    receipt_id   UUID NOT NULL,
    receipt_type TEXT NOT NULL,
    from_kind    TEXT NOT NULL,
    from_id      TEXT NOT NULL,
    to_kind      TEXT NOT NULL,
    to_id        TEXT NOT NULL,
    task_id      UUID,
    lease_id     UUID,
    parents      TEXT[] NOT NULL DEFAULT '{}',
    body         JSONB NOT NULL DEFAULT '{}'::jsonb,
    hash         TEXT NOT NULL,
    instance     TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (tenant_id, receipt_id),
    UNIQUE (tenant_id, hash)
)`,
		`CREATE INDEX IF NOT EXISTS idx_asyncgate_receipts_parents
    ON ` + receiptsTable + ` USING GIN (parents)`,
		`CREATE INDEX IF NOT EXISTS idx_asyncgate_receipts_inbox
    ON ` + receiptsTable + ` (tenant_id, to_kind, to_id, created_at, receipt_id)`,
		`CREATE INDEX IF NOT EXISTS idx_asyncgate_receipts_task
    ON ` + receiptsTable + ` (tenant_id, task_id, receipt_type, created_at)`,

		`CREATE TABLE IF NOT EXISTS ` + progressTable + ` (
    tenant_id  UUID NOT NULL,
    task_id    UUID NOT NULL,
    progress   JSONB NOT NULL DEFAULT '{}'::jsonb,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (tenant_id, task_id)
)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
