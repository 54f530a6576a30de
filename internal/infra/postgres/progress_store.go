package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"asyncgate/internal/engine"
)

// ProgressStore keeps the latest progress report per task. Progress is a
// convenience view; the authoritative history is the task.progress receipts.
type ProgressStore struct {
	q querier
}

var _ engine.ProgressStore = (*ProgressStore)(nil)

func (s *ProgressStore) Upsert(ctx context.Context, tenant, taskID uuid.UUID, progress map[string]any) error {
	progressJSON, err := json.Marshal(orEmptyMap(progress))
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	_, err = s.q.Exec(ctx,
		`INSERT INTO `+progressTable+` (tenant_id, task_id, progress, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (tenant_id, task_id) DO UPDATE SET progress = EXCLUDED.progress, updated_at = now()`,
		tenant, taskID, progressJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert progress for task %s: %w", taskID, err)
	}
	return nil
}

func (s *ProgressStore) Get(ctx context.Context, tenant, taskID uuid.UUID) (map[string]any, error) {
	var progressJSON []byte
	err := s.q.QueryRow(ctx,
		`SELECT progress FROM `+progressTable+` WHERE tenant_id = $1 AND task_id = $2`,
		tenant, taskID,
	).Scan(&progressJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get progress for task %s: %w", taskID, err)
	}
	var progress map[string]any
	if err := json.Unmarshal(progressJSON, &progress); err != nil {
		return nil, fmt.Errorf("unmarshal progress: %w", err)
	}
	return progress, nil
}
