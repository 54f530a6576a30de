package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"asyncgate/internal/domain/principal"
	"asyncgate/internal/domain/task"
	"asyncgate/internal/engine"
)

// TaskStore persists tasks and enforces the state machine at the row level.
type TaskStore struct {
	q   querier
	cfg Config
}

var _ engine.TaskStore = (*TaskStore)(nil)

const taskColumns = `tenant_id, task_id, task_type, payload, requirements, priority,
	created_by_kind, created_by_id, idempotency_key, status, attempt, max_attempts,
	retry_backoff_seconds, next_eligible_at, result, instance, created_at, updated_at`

// Create inserts a queued task, applying configured defaults for zero-valued
// spec fields. With an idempotency key, a duplicate insert returns the
// existing task; a key reused for a different task type is a conflict.
func (s *TaskStore) Create(ctx context.Context, tenant uuid.UUID, spec task.Spec, idempotencyKey string) (*task.Task, error) {
	now := time.Now().UTC()
	t := &task.Task{
		TenantID:            tenant,
		TaskID:              uuid.New(),
		Type:                spec.Type,
		Payload:             spec.Payload,
		Requirements:        spec.Requirements,
		Priority:            spec.Priority,
		CreatedBy:           spec.CreatedBy,
		IdempotencyKey:      idempotencyKey,
		Status:              task.StatusQueued,
		Attempt:             1,
		MaxAttempts:         spec.MaxAttempts,
		RetryBackoffSeconds: spec.RetryBackoffSeconds,
		Instance:            s.cfg.InstanceID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = s.cfg.DefaultMaxAttempts
	}
	if t.RetryBackoffSeconds <= 0 {
		t.RetryBackoffSeconds = int(s.cfg.DefaultRetryBackoff.Seconds())
	}
	if spec.DelaySeconds > 0 {
		eligible := now.Add(time.Duration(spec.DelaySeconds) * time.Second)
		t.NextEligibleAt = &eligible
	}

	payloadJSON, err := json.Marshal(orEmptyMap(t.Payload))
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	reqsJSON, err := json.Marshal(t.Requirements)
	if err != nil {
		return nil, fmt.Errorf("marshal requirements: %w", err)
	}

	tag, err := s.q.Exec(ctx,
		`INSERT INTO `+tasksTable+` (tenant_id, task_id, task_type, payload, requirements, priority,
			created_by_kind, created_by_id, idempotency_key, status, attempt, max_attempts,
			retry_backoff_seconds, next_eligible_at, instance, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12, $13, $14, $15, $16, $17)
		 ON CONFLICT (tenant_id, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING`,
		tenant, t.TaskID, t.Type, payloadJSON, reqsJSON, t.Priority,
		string(t.CreatedBy.Kind), t.CreatedBy.ID, idempotencyKey, string(t.Status),
		t.Attempt, t.MaxAttempts, t.RetryBackoffSeconds, t.NextEligibleAt,
		t.Instance, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return t, nil
	}

	existing, err := s.getByIdempotencyKey(ctx, tenant, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// The winning insert is not visible yet (concurrent uncommitted tx).
		return nil, engine.NewIdempotencyConflict(idempotencyKey, errors.New("concurrent creation with the same idempotency key"))
	}
	if existing.Type != spec.Type {
		return nil, engine.NewIdempotencyConflict(idempotencyKey, errors.New("idempotency key already used for a different task type"))
	}
	return existing, nil
}

func (s *TaskStore) getByIdempotencyKey(ctx context.Context, tenant uuid.UUID, key string) (*task.Task, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM `+tasksTable+`
		 WHERE tenant_id = $1 AND idempotency_key = $2`,
		tenant, key,
	)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// Get returns the task or TaskNotFound.
func (s *TaskStore) Get(ctx context.Context, tenant, taskID uuid.UUID) (*task.Task, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM `+tasksTable+`
		 WHERE tenant_id = $1 AND task_id = $2`,
		tenant, taskID,
	)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.NewTaskNotFound(taskID.String())
	}
	return t, err
}

// List pages tasks by (created_at, task_id).
func (s *TaskStore) List(ctx context.Context, tenant uuid.UUID, filters task.Filters, cursor *engine.Cursor, limit int) ([]*task.Task, *engine.Cursor, error) {
	query := `SELECT ` + taskColumns + ` FROM ` + tasksTable + ` WHERE tenant_id = $1`
	args := []any{tenant}

	if filters.Status != "" {
		args = append(args, string(filters.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filters.Type != "" {
		args = append(args, filters.Type)
		query += fmt.Sprintf(" AND task_type = $%d", len(args))
	}
	if filters.CreatedByID != "" {
		args = append(args, filters.CreatedByID)
		query += fmt.Sprintf(" AND created_by_id = $%d", len(args))
	}
	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		query += fmt.Sprintf(" AND (created_at, task_id) > ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, limit+1)
	query += fmt.Sprintf(" ORDER BY created_at ASC, task_id ASC LIMIT $%d", len(args))

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("list tasks: %w", err)
	}

	var next *engine.Cursor
	if len(tasks) > limit {
		tasks = tasks[:limit]
		last := tasks[limit-1]
		next = &engine.Cursor{CreatedAt: last.CreatedAt, ID: last.TaskID}
	}
	return tasks, next, nil
}

// Transition performs a conditional state update. The WHERE clause on the
// current status makes the update a compare-and-set, so a concurrent
// transition loses cleanly instead of overwriting.
func (s *TaskStore) Transition(ctx context.Context, tenant, taskID uuid.UUID, from, to task.Status, result *task.Result) (bool, error) {
	if !task.CanTransition(from, to) {
		return false, engine.NewInvalidStateTransition(taskID.String(), string(from), string(to))
	}

	var resultJSON []byte
	if result != nil {
		if result.CompletedAt.IsZero() {
			result.CompletedAt = time.Now().UTC()
		}
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return false, fmt.Errorf("marshal result: %w", err)
		}
	}

	tag, err := s.q.Exec(ctx,
		`UPDATE `+tasksTable+` SET status = $1, result = COALESCE($2, result), updated_at = now()
		 WHERE tenant_id = $3 AND task_id = $4 AND status = $5`,
		string(to), resultJSON, tenant, taskID, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("transition task %s: %w", taskID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// RequeueWithBackoff requeues a leased task after a retryable failure:
// attempt increments and next_eligible_at moves out exponentially, doubling
// per attempt up to the configured cap.
func (s *TaskStore) RequeueWithBackoff(ctx context.Context, tenant, taskID uuid.UUID) (*task.Task, error) {
	t, err := s.Get(ctx, tenant, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != task.StatusLeased {
		return nil, engine.NewInvalidStateTransition(taskID.String(), string(t.Status), string(task.StatusQueued))
	}

	// Backoff is computed from the incremented attempt: the first retry
	// (attempt 2) waits base*2, not the bare base.
	backoff := time.Duration(t.RetryBackoffSeconds) * time.Second
	for i := 0; i < t.Attempt; i++ {
		backoff *= 2
		if backoff >= s.cfg.MaxRetryBackoff {
			break
		}
	}
	if backoff > s.cfg.MaxRetryBackoff {
		backoff = s.cfg.MaxRetryBackoff
	}
	eligible := time.Now().UTC().Add(backoff)

	row := s.q.QueryRow(ctx,
		`UPDATE `+tasksTable+` SET status = $1, attempt = attempt + 1, next_eligible_at = $2, updated_at = now()
		 WHERE tenant_id = $3 AND task_id = $4 AND status = $5
		 RETURNING `+taskColumns,
		string(task.StatusQueued), eligible, tenant, taskID, string(task.StatusLeased),
	)
	updated, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.NewInvalidStateTransition(taskID.String(), string(t.Status), string(task.StatusQueued))
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RequeueOnExpiry requeues a leased task after its lease expired. The attempt
// counter is untouched: expiry is lost authority, not failure. jitter spreads
// re-eligibility so a sweep does not make a whole batch claimable at once.
func (s *TaskStore) RequeueOnExpiry(ctx context.Context, tenant, taskID uuid.UUID, jitter time.Duration) (bool, error) {
	eligible := time.Now().UTC().Add(jitter)
	tag, err := s.q.Exec(ctx,
		`UPDATE `+tasksTable+` SET status = $1, next_eligible_at = $2, updated_at = now()
		 WHERE tenant_id = $3 AND task_id = $4 AND status = $5`,
		string(task.StatusQueued), eligible, tenant, taskID, string(task.StatusLeased),
	)
	if err != nil {
		return false, fmt.Errorf("requeue expired task %s: %w", taskID, err)
	}
	// Zero rows means the task raced to another state before the sweep.
	return tag.RowsAffected() == 1, nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// scanTask reads one task row. Works for both pgx.Row and pgx.Rows.
func scanTask(row pgx.Row) (*task.Task, error) {
	var (
		t              task.Task
		payloadJSON    []byte
		reqsJSON       []byte
		resultJSON     []byte
		createdByKind  string
		idempotencyKey *string
		status         string
	)
	err := row.Scan(
		&t.TenantID, &t.TaskID, &t.Type, &payloadJSON, &reqsJSON, &t.Priority,
		&createdByKind, &t.CreatedBy.ID, &idempotencyKey, &status, &t.Attempt,
		&t.MaxAttempts, &t.RetryBackoffSeconds, &t.NextEligibleAt, &resultJSON,
		&t.Instance, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.CreatedBy.Kind = principal.Kind(createdByKind)
	t.Status = task.Status(status)
	if idempotencyKey != nil {
		t.IdempotencyKey = *idempotencyKey
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &t.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if len(reqsJSON) > 0 {
		if err := json.Unmarshal(reqsJSON, &t.Requirements); err != nil {
			return nil, fmt.Errorf("unmarshal requirements: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		var result task.Result
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		result.Raw = resultJSON
		t.Result = &result
	}
	return &t, nil
}
