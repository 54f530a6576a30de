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
	"asyncgate/internal/domain/receipt"
	"asyncgate/internal/engine"
	"asyncgate/internal/shared/logging"
)

// ReceiptLedger is the append-only receipt store. Rows are never updated or
// deleted; emission is deduplicated on the content hash.
type ReceiptLedger struct {
	q      querier
	cfg    Config
	logger logging.Logger
}

var _ engine.ReceiptLedger = (*ReceiptLedger)(nil)

const receiptColumns = `tenant_id, receipt_id, receipt_type, from_kind, from_id, to_kind, to_id,
	task_id, lease_id, parents, body, hash, instance, created_at`

// Create validates and appends a receipt. Validation order: field and size
// checks, parent existence, discharge legality against the termination table,
// locatability for success discharges, then hash-deduplicated insert. When a
// lenient locatability strip occurs the companion anomaly receipt is written
// in the same scope, so the two records commit or roll back together.
func (s *ReceiptLedger) Create(ctx context.Context, tenant uuid.UUID, spec engine.CreateReceipt) (*receipt.Receipt, error) {
	if err := s.validateFields(spec); err != nil {
		return nil, err
	}

	parentTypes, err := s.resolveParents(ctx, tenant, spec.Parents)
	if err != nil {
		return nil, err
	}
	if err := s.validateDischarge(spec, parentTypes); err != nil {
		return nil, err
	}

	anomaly := false
	if spec.Type == receipt.TypeTaskCompleted && !spec.NonDischarging && !receipt.HasLocatability(spec.Body) {
		if s.cfg.StrictLocatability {
			return nil, engine.NewValidation(string(spec.Type),
				"task.completed requires artifacts or delivery_proof")
		}
		// Lenient mode: record the receipt but strip the discharge linkage so
		// the obligation stays open, and flag the gap to the task owner.
		spec.Parents = nil
		anomaly = true
	}

	created, err := s.insert(ctx, tenant, spec)
	if err != nil {
		return nil, err
	}

	if anomaly {
		to := spec.From
		if spec.Owner != nil {
			to = *spec.Owner
		}
		details := map[string]any{
			"receipt_id":   created.ReceiptID.String(),
			"receipt_type": string(created.Type),
		}
		if spec.TaskID != nil {
			details["task_id"] = spec.TaskID.String()
		}
		_, err := s.insert(ctx, tenant, engine.CreateReceipt{
			Type:   receipt.TypeAnomalyLocatabilityMissing,
			From:   principal.Gate,
			To:     to,
			TaskID: spec.TaskID,
			Body: receipt.AnomalyBody(details,
				"re-emit task.completed with artifacts or delivery_proof"),
		})
		if err != nil {
			return nil, err
		}
		s.logger.Warn("locatability missing on task.completed %s; parents stripped", created.ReceiptID)
	}
	return created, nil
}

func (s *ReceiptLedger) validateFields(spec engine.CreateReceipt) error {
	if !knownType(spec.Type) {
		return engine.NewValidation(string(spec.Type), "unknown receipt type")
	}
	if err := spec.From.Validate(); err != nil {
		return engine.NewValidation("from", err.Error())
	}
	if err := spec.To.Validate(); err != nil {
		return engine.NewValidation("to", err.Error())
	}
	if len(spec.Parents) > s.cfg.MaxParents {
		return engine.NewValidation(string(spec.Type),
			fmt.Sprintf("parents list exceeds %d entries", s.cfg.MaxParents))
	}
	if len(spec.Body) > 0 {
		encoded, err := json.Marshal(spec.Body)
		if err != nil {
			return engine.NewValidation(string(spec.Type), fmt.Sprintf("body not serializable: %v", err))
		}
		if len(encoded) > s.cfg.MaxBodyBytes {
			return engine.NewValidation(string(spec.Type),
				fmt.Sprintf("body exceeds %d bytes", s.cfg.MaxBodyBytes))
		}
		if artifacts, ok := spec.Body["artifacts"].([]any); ok && len(artifacts) > s.cfg.MaxArtifacts {
			return engine.NewValidation(string(spec.Type),
				fmt.Sprintf("artifacts list exceeds %d entries", s.cfg.MaxArtifacts))
		}
	}
	return nil
}

// resolveParents verifies every parent exists and returns its type.
func (s *ReceiptLedger) resolveParents(ctx context.Context, tenant uuid.UUID, parents []uuid.UUID) (map[uuid.UUID]receipt.Type, error) {
	if len(parents) == 0 {
		return nil, nil
	}
	ids := uuidStrings(parents)
	rows, err := s.q.Query(ctx,
		`SELECT receipt_id, receipt_type FROM `+receiptsTable+`
		 WHERE tenant_id = $1 AND receipt_id = ANY($2::uuid[])`,
		tenant, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve parents: %w", err)
	}
	defer rows.Close()

	types := make(map[uuid.UUID]receipt.Type, len(parents))
	for rows.Next() {
		var id uuid.UUID
		var rt string
		if err := rows.Scan(&id, &rt); err != nil {
			return nil, fmt.Errorf("scan parent: %w", err)
		}
		types[id] = receipt.Type(rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("resolve parents: %w", err)
	}
	for _, p := range parents {
		if _, ok := types[p]; !ok {
			return nil, engine.NewValidation(p.String(), "parent receipt does not exist")
		}
	}
	return types, nil
}

func (s *ReceiptLedger) validateDischarge(spec engine.CreateReceipt, parentTypes map[uuid.UUID]receipt.Type) error {
	if !receipt.IsTerminalType(spec.Type) {
		return nil
	}
	if spec.NonDischarging {
		if len(spec.Parents) > 0 {
			return engine.NewValidation(string(spec.Type), "non-discharging receipt cannot carry parents")
		}
		return nil
	}
	if len(spec.Parents) == 0 {
		return engine.NewValidation(string(spec.Type), "terminal receipt requires at least one parent")
	}
	for _, p := range spec.Parents {
		parentType := parentTypes[p]
		if !receipt.CanTerminate(spec.Type, parentType) {
			return engine.NewValidation(string(spec.Type),
				fmt.Sprintf("%s cannot terminate %s", spec.Type, parentType))
		}
	}
	return nil
}

// insert appends the row, deduplicating on (tenant_id, hash). When the hash
// already exists the prior receipt is returned: re-emission is idempotent.
func (s *ReceiptLedger) insert(ctx context.Context, tenant uuid.UUID, spec engine.CreateReceipt) (*receipt.Receipt, error) {
	hash, err := receipt.ComputeHash(receipt.HashInput{
		Type:    spec.Type,
		TaskID:  spec.TaskID,
		LeaseID: spec.LeaseID,
		From:    spec.From,
		To:      spec.To,
		Parents: spec.Parents,
		Body:    spec.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("compute receipt hash: %w", err)
	}

	bodyJSON, err := json.Marshal(orEmptyMap(spec.Body))
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	r := &receipt.Receipt{
		TenantID:  tenant,
		ReceiptID: uuid.New(),
		Type:      spec.Type,
		From:      spec.From,
		To:        spec.To,
		TaskID:    spec.TaskID,
		LeaseID:   spec.LeaseID,
		Parents:   spec.Parents,
		Body:      spec.Body,
		Hash:      hash,
		CreatedAt: time.Now().UTC(),
		Instance:  s.cfg.InstanceID,
	}

	tag, err := s.q.Exec(ctx,
		`INSERT INTO `+receiptsTable+` (`+receiptColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (tenant_id, hash) DO NOTHING`,
		tenant, r.ReceiptID, string(r.Type), string(r.From.Kind), r.From.ID,
		string(r.To.Kind), r.To.ID, r.TaskID, r.LeaseID, uuidStrings(r.Parents),
		bodyJSON, hash, r.Instance, r.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert receipt: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return r, nil
	}

	row := s.q.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM `+receiptsTable+`
		 WHERE tenant_id = $1 AND hash = $2`,
		tenant, hash,
	)
	existing, err := scanReceipt(row)
	if err != nil {
		return nil, fmt.Errorf("read deduplicated receipt: %w", err)
	}
	return existing, nil
}

// Get returns a receipt or ReceiptNotFound.
func (s *ReceiptLedger) Get(ctx context.Context, tenant, receiptID uuid.UUID) (*receipt.Receipt, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM `+receiptsTable+`
		 WHERE tenant_id = $1 AND receipt_id = $2`,
		tenant, receiptID,
	)
	r, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.NewReceiptNotFound(receiptID.String())
	}
	return r, err
}

// List pages receipts addressed to a principal by (created_at, receipt_id).
func (s *ReceiptLedger) List(ctx context.Context, tenant uuid.UUID, to principal.Principal, cursor *engine.Cursor, limit int) ([]*receipt.Receipt, *engine.Cursor, error) {
	query := `SELECT ` + receiptColumns + ` FROM ` + receiptsTable + `
		 WHERE tenant_id = $1 AND to_kind = $2 AND to_id = $3`
	args := []any{tenant, string(to.Kind), to.ID}
	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		query += fmt.Sprintf(" AND (created_at, receipt_id) > ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, limit+1)
	query += fmt.Sprintf(" ORDER BY created_at ASC, receipt_id ASC LIMIT $%d", len(args))

	receipts, err := s.queryReceipts(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	var next *engine.Cursor
	if len(receipts) > limit {
		receipts = receipts[:limit]
		last := receipts[limit-1]
		next = &engine.Cursor{CreatedAt: last.CreatedAt, ID: last.ReceiptID}
	}
	return receipts, next, nil
}

// ListByParent returns children of a receipt, oldest first.
func (s *ReceiptLedger) ListByParent(ctx context.Context, tenant, parentID uuid.UUID, limit int) ([]*receipt.Receipt, error) {
	return s.queryReceipts(ctx,
		`SELECT `+receiptColumns+` FROM `+receiptsTable+`
		 WHERE tenant_id = $1 AND parents @> ARRAY[$2::text]
		 ORDER BY created_at ASC, receipt_id ASC
		 LIMIT $3`,
		tenant, parentID.String(), limit,
	)
}

// HasTerminator is a single existence probe over the GIN parents index.
func (s *ReceiptLedger) HasTerminator(ctx context.Context, tenant, parentID uuid.UUID) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM `+receiptsTable+`
			WHERE tenant_id = $1 AND parents @> ARRAY[$2::text]
		)`,
		tenant, parentID.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("probe terminator: %w", err)
	}
	return exists, nil
}

// LatestTerminator returns the most recent child of parentID, or nil.
func (s *ReceiptLedger) LatestTerminator(ctx context.Context, tenant, parentID uuid.UUID) (*receipt.Receipt, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM `+receiptsTable+`
		 WHERE tenant_id = $1 AND parents @> ARRAY[$2::text]
		 ORDER BY created_at DESC, receipt_id DESC
		 LIMIT 1`,
		tenant, parentID.String(),
	)
	r, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// LatestForTask returns the most recent receipt of type t on the task, or nil.
func (s *ReceiptLedger) LatestForTask(ctx context.Context, tenant, taskID uuid.UUID, t receipt.Type) (*receipt.Receipt, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM `+receiptsTable+`
		 WHERE tenant_id = $1 AND task_id = $2 AND receipt_type = $3
		 ORDER BY created_at DESC, receipt_id DESC
		 LIMIT 1`,
		tenant, taskID, string(t),
	)
	r, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// ListObligationCandidates fetches obligation-creating receipts addressed to
// a principal, ordered by (created_at, receipt_id) for stable batching.
func (s *ReceiptLedger) ListObligationCandidates(ctx context.Context, tenant uuid.UUID, to principal.Principal, types []receipt.Type, cursor *engine.Cursor, limit int) ([]*receipt.Receipt, error) {
	typeStrings := make([]string, len(types))
	for i, t := range types {
		typeStrings[i] = string(t)
	}
	query := `SELECT ` + receiptColumns + ` FROM ` + receiptsTable + `
		 WHERE tenant_id = $1 AND to_kind = $2 AND to_id = $3 AND receipt_type = ANY($4)`
	args := []any{tenant, string(to.Kind), to.ID, typeStrings}
	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		query += fmt.Sprintf(" AND (created_at, receipt_id) > ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at ASC, receipt_id ASC LIMIT $%d", len(args))

	return s.queryReceipts(ctx, query, args...)
}

// ChildrenOfAny returns, in one query, every receipt whose parents list
// intersects parentIDs. This is the batched probe behind the obligation
// query: one GIN overlap scan instead of one lookup per candidate.
func (s *ReceiptLedger) ChildrenOfAny(ctx context.Context, tenant uuid.UUID, parentIDs []uuid.UUID) ([]*receipt.Receipt, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	return s.queryReceipts(ctx,
		`SELECT `+receiptColumns+` FROM `+receiptsTable+`
		 WHERE tenant_id = $1 AND parents && $2::text[]`,
		tenant, uuidStrings(parentIDs),
	)
}

func (s *ReceiptLedger) queryReceipts(ctx context.Context, query string, args ...any) ([]*receipt.Receipt, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []*receipt.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	return receipts, nil
}

func scanReceipt(row pgx.Row) (*receipt.Receipt, error) {
	var (
		r           receipt.Receipt
		rt          string
		fromKind    string
		toKind      string
		parentsText []string
		bodyJSON    []byte
	)
	err := row.Scan(
		&r.TenantID, &r.ReceiptID, &rt, &fromKind, &r.From.ID, &toKind, &r.To.ID,
		&r.TaskID, &r.LeaseID, &parentsText, &bodyJSON, &r.Hash, &r.Instance, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan receipt: %w", err)
	}
	r.Type = receipt.Type(rt)
	r.From.Kind = principal.Kind(fromKind)
	r.To.Kind = principal.Kind(toKind)
	for _, p := range parentsText {
		id, err := uuid.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("parse parent id %q: %w", p, err)
		}
		r.Parents = append(r.Parents, id)
	}
	if len(bodyJSON) > 0 {
		if err := json.Unmarshal(bodyJSON, &r.Body); err != nil {
			return nil, fmt.Errorf("unmarshal body: %w", err)
		}
	}
	return &r, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

var knownTypes = map[receipt.Type]bool{
	receipt.TypeTaskAssigned:        true,
	receipt.TypeTaskAccepted:        true,
	receipt.TypeTaskProgress:        true,
	receipt.TypeTaskCompleted:       true,
	receipt.TypeTaskFailed:          true,
	receipt.TypeTaskCanceled:        true,
	receipt.TypeTaskResultReady:     true,
	receipt.TypeLeaseExpired:        true,
	receipt.TypeReceiptAcknowledged: true,
}

func knownType(t receipt.Type) bool {
	return knownTypes[t] || t.IsAnomaly()
}
