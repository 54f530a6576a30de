// Package testutil provides an in-memory implementation of the engine's
// store ports. It mirrors the Postgres stores' semantics (state machine
// enforcement, single lease per task, receipt validation and hash dedup,
// rollback of failed atomic blocks) so engine and facade tests run without a
// database.
package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"asyncgate/internal/domain/lease"
	"asyncgate/internal/domain/principal"
	"asyncgate/internal/domain/receipt"
	"asyncgate/internal/domain/task"
	"asyncgate/internal/engine"
)

// MemConfig mirrors the persistence policy knobs of the Postgres stores.
type MemConfig struct {
	DefaultMaxAttempts  int
	DefaultRetryBackoff time.Duration
	MaxRetryBackoff     time.Duration
	MaxLeaseRenewals    int
	MaxLeaseLifetime    time.Duration
	MaxParents          int
	StrictLocatability  bool
	InstanceID          string
}

// DefaultMemConfig matches the production defaults.
func DefaultMemConfig() MemConfig {
	return MemConfig{
		DefaultMaxAttempts:  2,
		DefaultRetryBackoff: 15 * time.Second,
		MaxRetryBackoff:     900 * time.Second,
		MaxLeaseRenewals:    10,
		MaxLeaseLifetime:    2 * time.Hour,
		MaxParents:          10,
		InstanceID:          "test-instance",
	}
}

type taskKey struct {
	tenant uuid.UUID
	id     uuid.UUID
}

type idemKey struct {
	tenant uuid.UUID
	key    string
}

// MemStores is the in-memory store set.
type MemStores struct {
	mu  sync.Mutex
	cfg MemConfig

	// Now is the clock; override to control lease expiry in tests.
	Now func() time.Time

	tasks       map[taskKey]*task.Task
	idempotency map[idemKey]uuid.UUID
	leases      map[taskKey]*lease.Lease
	receipts    []*receipt.Receipt
	byHash      map[string]*receipt.Receipt
	progress    map[taskKey]map[string]any

	seq int64
}

var _ engine.Stores = (*MemStores)(nil)

// NewMemStores creates an empty store set.
func NewMemStores(cfg MemConfig) *MemStores {
	return &MemStores{
		cfg:         cfg,
		Now:         func() time.Time { return time.Now().UTC() },
		tasks:       make(map[taskKey]*task.Task),
		idempotency: make(map[idemKey]uuid.UUID),
		leases:      make(map[taskKey]*lease.Lease),
		byHash:      make(map[string]*receipt.Receipt),
		progress:    make(map[taskKey]map[string]any),
	}
}

func (m *MemStores) Tasks() engine.TaskStore        { return (*memTasks)(m) }
func (m *MemStores) Leases() engine.LeaseStore      { return (*memLeases)(m) }
func (m *MemStores) Receipts() engine.ReceiptLedger { return (*memReceipts)(m) }
func (m *MemStores) Progress() engine.ProgressStore { return (*memProgress)(m) }

// Atomic snapshots the full state and restores it when fn fails, mirroring
// transaction rollback.
func (m *MemStores) Atomic(ctx context.Context, fn func(engine.Stores) error) error {
	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	tasks       map[taskKey]*task.Task
	idempotency map[idemKey]uuid.UUID
	leases      map[taskKey]*lease.Lease
	receipts    []*receipt.Receipt
	byHash      map[string]*receipt.Receipt
	progress    map[taskKey]map[string]any
	seq         int64
}

func (m *MemStores) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := memSnapshot{
		tasks:       make(map[taskKey]*task.Task, len(m.tasks)),
		idempotency: make(map[idemKey]uuid.UUID, len(m.idempotency)),
		leases:      make(map[taskKey]*lease.Lease, len(m.leases)),
		receipts:    append([]*receipt.Receipt(nil), m.receipts...),
		byHash:      make(map[string]*receipt.Receipt, len(m.byHash)),
		progress:    make(map[taskKey]map[string]any, len(m.progress)),
		seq:         m.seq,
	}
	for k, t := range m.tasks {
		snap.tasks[k] = cloneTask(t)
	}
	for k, id := range m.idempotency {
		snap.idempotency[k] = id
	}
	for k, l := range m.leases {
		snap.leases[k] = cloneLease(l)
	}
	for k, r := range m.byHash {
		snap.byHash[k] = r
	}
	for k, p := range m.progress {
		snap.progress[k] = p
	}
	return snap
}

func (m *MemStores) restore(snap memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = snap.tasks
	m.idempotency = snap.idempotency
	m.leases = snap.leases
	m.receipts = snap.receipts
	m.byHash = snap.byHash
	m.progress = snap.progress
	m.seq = snap.seq
}

func (m *MemStores) Ping(ctx context.Context) error { return nil }

// next returns a strictly increasing timestamp so orderings keyed on
// (created_at, id) are deterministic even within one wall-clock tick.
func (m *MemStores) next() time.Time {
	m.seq++
	return m.Now().Add(time.Duration(m.seq) * time.Microsecond)
}

// ExpireLease force-expires the active lease on a task.
func (m *MemStores) ExpireLease(tenant, taskID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[taskKey{tenant, taskID}]; ok {
		l.ExpiresAt = m.Now().Add(-time.Second)
	}
}

// ReceiptsOfType returns all stored receipts of the given type, in order.
func (m *MemStores) ReceiptsOfType(t receipt.Type) []*receipt.Receipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*receipt.Receipt
	for _, r := range m.receipts {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

type memTasks MemStores

func (m *memTasks) Create(ctx context.Context, tenant uuid.UUID, spec task.Spec, idempotencyKey string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if idempotencyKey != "" {
		if id, ok := m.idempotency[idemKey{tenant, idempotencyKey}]; ok {
			existing := m.tasks[taskKey{tenant, id}]
			if existing.Type != spec.Type {
				return nil, engine.NewIdempotencyConflict(idempotencyKey,
					errors.New("idempotency key already used for a different task type"))
			}
			return cloneTask(existing), nil
		}
	}

	now := (*MemStores)(m).next()
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
		Instance:            m.cfg.InstanceID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = m.cfg.DefaultMaxAttempts
	}
	if t.RetryBackoffSeconds <= 0 {
		t.RetryBackoffSeconds = int(m.cfg.DefaultRetryBackoff.Seconds())
	}
	if spec.DelaySeconds > 0 {
		eligible := now.Add(time.Duration(spec.DelaySeconds) * time.Second)
		t.NextEligibleAt = &eligible
	}

	m.tasks[taskKey{tenant, t.TaskID}] = t
	if idempotencyKey != "" {
		m.idempotency[idemKey{tenant, idempotencyKey}] = t.TaskID
	}
	return cloneTask(t), nil
}

func (m *memTasks) Get(ctx context.Context, tenant, taskID uuid.UUID) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskKey{tenant, taskID}]
	if !ok {
		return nil, engine.NewTaskNotFound(taskID.String())
	}
	return cloneTask(t), nil
}

func (m *memTasks) List(ctx context.Context, tenant uuid.UUID, filters task.Filters, cursor *engine.Cursor, limit int) ([]*task.Task, *engine.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []*task.Task
	for k, t := range m.tasks {
		if k.tenant != tenant {
			continue
		}
		if filters.Status != "" && t.Status != filters.Status {
			continue
		}
		if filters.Type != "" && t.Type != filters.Type {
			continue
		}
		if filters.CreatedByID != "" && t.CreatedBy.ID != filters.CreatedByID {
			continue
		}
		if cursor != nil && !afterCursor(t.CreatedAt, t.TaskID, cursor) {
			continue
		}
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].TaskID.String() < all[j].TaskID.String()
	})

	var next *engine.Cursor
	if len(all) > limit {
		all = all[:limit]
		last := all[limit-1]
		next = &engine.Cursor{CreatedAt: last.CreatedAt, ID: last.TaskID}
	}
	out := make([]*task.Task, len(all))
	for i, t := range all {
		out[i] = cloneTask(t)
	}
	return out, next, nil
}

func (m *memTasks) Transition(ctx context.Context, tenant, taskID uuid.UUID, from, to task.Status, result *task.Result) (bool, error) {
	if !task.CanTransition(from, to) {
		return false, engine.NewInvalidStateTransition(taskID.String(), string(from), string(to))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskKey{tenant, taskID}]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	if result != nil {
		if result.CompletedAt.IsZero() {
			result.CompletedAt = m.Now()
		}
		t.Result = result
	}
	t.UpdatedAt = m.Now()
	return true, nil
}

func (m *memTasks) RequeueWithBackoff(ctx context.Context, tenant, taskID uuid.UUID) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskKey{tenant, taskID}]
	if !ok {
		return nil, engine.NewTaskNotFound(taskID.String())
	}
	if t.Status != task.StatusLeased {
		return nil, engine.NewInvalidStateTransition(taskID.String(), string(t.Status), string(task.StatusQueued))
	}
	backoff := time.Duration(t.RetryBackoffSeconds) * time.Second
	for i := 0; i < t.Attempt; i++ {
		backoff *= 2
		if backoff >= m.cfg.MaxRetryBackoff {
			break
		}
	}
	if backoff > m.cfg.MaxRetryBackoff {
		backoff = m.cfg.MaxRetryBackoff
	}
	eligible := m.Now().Add(backoff)
	t.Status = task.StatusQueued
	t.Attempt++
	t.NextEligibleAt = &eligible
	t.UpdatedAt = m.Now()
	return cloneTask(t), nil
}

func (m *memTasks) RequeueOnExpiry(ctx context.Context, tenant, taskID uuid.UUID, jitter time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskKey{tenant, taskID}]
	if !ok || t.Status != task.StatusLeased {
		return false, nil
	}
	eligible := m.Now().Add(jitter)
	t.Status = task.StatusQueued
	t.NextEligibleAt = &eligible
	t.UpdatedAt = m.Now()
	return true, nil
}

type memLeases MemStores

func (m *memLeases) ClaimNext(ctx context.Context, tenant uuid.UUID, workerID string, capabilities []string, maxTasks int, ttl time.Duration) ([]engine.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	capSet := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		capSet[c] = true
	}

	var eligible []*task.Task
	for k, t := range m.tasks {
		if k.tenant != tenant || t.Status != task.StatusQueued {
			continue
		}
		if t.NextEligibleAt != nil && t.NextEligibleAt.After(now) {
			continue
		}
		ok := true
		for _, need := range t.Requirements.Capabilities {
			if !capSet[need] {
				ok = false
				break
			}
		}
		if ok {
			eligible = append(eligible, t)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		if !eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
		}
		return eligible[i].TaskID.String() < eligible[j].TaskID.String()
	})
	if len(eligible) > maxTasks {
		eligible = eligible[:maxTasks]
	}

	claims := make([]engine.Claim, 0, len(eligible))
	for _, t := range eligible {
		t.Status = task.StatusLeased
		t.UpdatedAt = now
		l := &lease.Lease{
			TenantID:   tenant,
			LeaseID:    uuid.New(),
			TaskID:     t.TaskID,
			WorkerID:   workerID,
			AcquiredAt: now,
			ExpiresAt:  now.Add(ttl),
		}
		m.leases[taskKey{tenant, t.TaskID}] = l
		claims = append(claims, engine.Claim{Task: cloneTask(t), Lease: cloneLease(l)})
	}
	return claims, nil
}

func (m *memLeases) Validate(ctx context.Context, tenant, taskID, leaseID uuid.UUID, workerID string) (*lease.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[taskKey{tenant, taskID}]
	if !ok || l.LeaseID != leaseID || l.WorkerID != workerID || !l.ExpiresAt.After(m.Now()) {
		return nil, nil
	}
	return cloneLease(l), nil
}

func (m *memLeases) Renew(ctx context.Context, tenant, taskID, leaseID uuid.UUID, workerID string, extendBy time.Duration) (*lease.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	l, ok := m.leases[taskKey{tenant, taskID}]
	if !ok || l.LeaseID != leaseID || l.WorkerID != workerID || !l.ExpiresAt.After(now) {
		return nil, engine.NewLeaseInvalidOrExpired(taskID.String(), leaseID.String())
	}
	if l.RenewalCount >= m.cfg.MaxLeaseRenewals {
		return nil, engine.NewRenewalLimitExceeded(leaseID.String(), m.cfg.MaxLeaseRenewals)
	}
	newExpiry := now.Add(extendBy)
	if newExpiry.Sub(l.AcquiredAt) > m.cfg.MaxLeaseLifetime {
		return nil, engine.NewLifetimeExceeded(leaseID.String())
	}
	l.ExpiresAt = newExpiry
	l.RenewalCount++
	return cloneLease(l), nil
}

func (m *memLeases) Release(ctx context.Context, tenant, taskID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := taskKey{tenant, taskID}
	if _, ok := m.leases[k]; !ok {
		return false, nil
	}
	delete(m.leases, k)
	return true, nil
}

func (m *memLeases) GetExpired(ctx context.Context, now time.Time, limit int) ([]*lease.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*lease.Lease
	for _, l := range m.leases {
		if !l.ExpiresAt.After(now) {
			out = append(out, cloneLease(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memReceipts MemStores

func (m *memReceipts) Create(ctx context.Context, tenant uuid.UUID, spec engine.CreateReceipt) (*receipt.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := spec.From.Validate(); err != nil {
		return nil, engine.NewValidation("from", err.Error())
	}
	if err := spec.To.Validate(); err != nil {
		return nil, engine.NewValidation("to", err.Error())
	}
	if len(spec.Parents) > m.cfg.MaxParents {
		return nil, engine.NewValidation(string(spec.Type), "too many parents")
	}

	byID := make(map[uuid.UUID]*receipt.Receipt, len(m.receipts))
	for _, r := range m.receipts {
		if r.TenantID == tenant {
			byID[r.ReceiptID] = r
		}
	}
	for _, p := range spec.Parents {
		if _, ok := byID[p]; !ok {
			return nil, engine.NewValidation(p.String(), "parent receipt does not exist")
		}
	}

	if receipt.IsTerminalType(spec.Type) {
		if spec.NonDischarging {
			if len(spec.Parents) > 0 {
				return nil, engine.NewValidation(string(spec.Type), "non-discharging receipt cannot carry parents")
			}
		} else {
			if len(spec.Parents) == 0 {
				return nil, engine.NewValidation(string(spec.Type), "terminal receipt requires at least one parent")
			}
			for _, p := range spec.Parents {
				if !receipt.CanTerminate(spec.Type, byID[p].Type) {
					return nil, engine.NewValidation(string(spec.Type), "illegal terminator type")
				}
			}
		}
	}

	anomaly := false
	if spec.Type == receipt.TypeTaskCompleted && !spec.NonDischarging && !receipt.HasLocatability(spec.Body) {
		if m.cfg.StrictLocatability {
			return nil, engine.NewValidation(string(spec.Type), "task.completed requires artifacts or delivery_proof")
		}
		spec.Parents = nil
		anomaly = true
	}

	created, err := m.insert(tenant, spec)
	if err != nil {
		return nil, err
	}
	if anomaly {
		to := spec.From
		if spec.Owner != nil {
			to = *spec.Owner
		}
		details := map[string]any{"receipt_id": created.ReceiptID.String()}
		if spec.TaskID != nil {
			details["task_id"] = spec.TaskID.String()
		}
		if _, err := m.insert(tenant, engine.CreateReceipt{
			Type:   receipt.TypeAnomalyLocatabilityMissing,
			From:   principal.Gate,
			To:     to,
			TaskID: spec.TaskID,
			Body:   receipt.AnomalyBody(details, "re-emit task.completed with artifacts or delivery_proof"),
		}); err != nil {
			return nil, err
		}
	}
	return created, nil
}

func (m *memReceipts) insert(tenant uuid.UUID, spec engine.CreateReceipt) (*receipt.Receipt, error) {
	hash, err := receipt.ComputeHash(receipt.HashInput{
		Type: spec.Type, TaskID: spec.TaskID, LeaseID: spec.LeaseID,
		From: spec.From, To: spec.To, Parents: spec.Parents, Body: spec.Body,
	})
	if err != nil {
		return nil, err
	}
	if existing, ok := m.byHash[tenant.String()+hash]; ok {
		return existing, nil
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
		CreatedAt: (*MemStores)(m).next(),
		Instance:  m.cfg.InstanceID,
	}
	m.receipts = append(m.receipts, r)
	m.byHash[tenant.String()+hash] = r
	return r, nil
}

func (m *memReceipts) Get(ctx context.Context, tenant, receiptID uuid.UUID) (*receipt.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.receipts {
		if r.TenantID == tenant && r.ReceiptID == receiptID {
			return r, nil
		}
	}
	return nil, engine.NewReceiptNotFound(receiptID.String())
}

func (m *memReceipts) List(ctx context.Context, tenant uuid.UUID, to principal.Principal, cursor *engine.Cursor, limit int) ([]*receipt.Receipt, *engine.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*receipt.Receipt
	for _, r := range m.receipts {
		if r.TenantID != tenant || !r.To.Equal(to) {
			continue
		}
		if cursor != nil && !afterCursor(r.CreatedAt, r.ReceiptID, cursor) {
			continue
		}
		all = append(all, r)
	}
	var next *engine.Cursor
	if len(all) > limit {
		all = all[:limit]
		last := all[limit-1]
		next = &engine.Cursor{CreatedAt: last.CreatedAt, ID: last.ReceiptID}
	}
	return all, next, nil
}

func (m *memReceipts) ListByParent(ctx context.Context, tenant, parentID uuid.UUID, limit int) ([]*receipt.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*receipt.Receipt
	for _, r := range m.receipts {
		if r.TenantID == tenant && hasParent(r, parentID) {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memReceipts) HasTerminator(ctx context.Context, tenant, parentID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.receipts {
		if r.TenantID == tenant && hasParent(r, parentID) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memReceipts) LatestTerminator(ctx context.Context, tenant, parentID uuid.UUID) (*receipt.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *receipt.Receipt
	for _, r := range m.receipts {
		if r.TenantID == tenant && hasParent(r, parentID) {
			latest = r
		}
	}
	return latest, nil
}

func (m *memReceipts) LatestForTask(ctx context.Context, tenant, taskID uuid.UUID, t receipt.Type) (*receipt.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *receipt.Receipt
	for _, r := range m.receipts {
		if r.TenantID == tenant && r.Type == t && r.TaskID != nil && *r.TaskID == taskID {
			latest = r
		}
	}
	return latest, nil
}

func (m *memReceipts) ListObligationCandidates(ctx context.Context, tenant uuid.UUID, to principal.Principal, types []receipt.Type, cursor *engine.Cursor, limit int) ([]*receipt.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	typeSet := make(map[receipt.Type]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	var out []*receipt.Receipt
	for _, r := range m.receipts {
		if r.TenantID != tenant || !r.To.Equal(to) || !typeSet[r.Type] {
			continue
		}
		if cursor != nil && !afterCursor(r.CreatedAt, r.ReceiptID, cursor) {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memReceipts) ChildrenOfAny(ctx context.Context, tenant uuid.UUID, parentIDs []uuid.UUID) ([]*receipt.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idSet := make(map[uuid.UUID]bool, len(parentIDs))
	for _, id := range parentIDs {
		idSet[id] = true
	}
	var out []*receipt.Receipt
	for _, r := range m.receipts {
		if r.TenantID != tenant {
			continue
		}
		for _, p := range r.Parents {
			if idSet[p] {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

type memProgress MemStores

func (m *memProgress) Upsert(ctx context.Context, tenant, taskID uuid.UUID, progress map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[taskKey{tenant, taskID}] = progress
	return nil
}

func (m *memProgress) Get(ctx context.Context, tenant, taskID uuid.UUID) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress[taskKey{tenant, taskID}], nil
}

func hasParent(r *receipt.Receipt, parentID uuid.UUID) bool {
	for _, p := range r.Parents {
		if p == parentID {
			return true
		}
	}
	return false
}

func afterCursor(createdAt time.Time, id uuid.UUID, c *engine.Cursor) bool {
	if createdAt.After(c.CreatedAt) {
		return true
	}
	return createdAt.Equal(c.CreatedAt) && id.String() > c.ID.String()
}

func cloneTask(t *task.Task) *task.Task {
	c := *t
	return &c
}

func cloneLease(l *lease.Lease) *lease.Lease {
	c := *l
	return &c
}
