package engine_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asyncgate/internal/domain/principal"
	"asyncgate/internal/domain/receipt"
	"asyncgate/internal/domain/task"
	"asyncgate/internal/engine"
	"asyncgate/internal/testutil"
)

var (
	tenant = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	owner  = principal.Agent("planner-1")
)

func newTestEngine(t *testing.T) (*engine.Engine, *testutil.MemStores) {
	t.Helper()
	stores := testutil.NewMemStores(testutil.DefaultMemConfig())
	eng := engine.New(stores, engine.DefaultConfig(), "test-instance")
	return eng, stores
}

func newStrictEngine(t *testing.T) (*engine.Engine, *testutil.MemStores) {
	t.Helper()
	cfg := testutil.DefaultMemConfig()
	cfg.StrictLocatability = true
	stores := testutil.NewMemStores(cfg)
	eng := engine.New(stores, engine.DefaultConfig(), "test-instance")
	return eng, stores
}

func createTask(t *testing.T, eng *engine.Engine, spec task.Spec) *task.Task {
	t.Helper()
	if spec.Type == "" {
		spec.Type = "echo"
	}
	created, err := eng.CreateTask(context.Background(), tenant, owner, spec, "")
	require.NoError(t, err)
	return created
}

func claimOne(t *testing.T, eng *engine.Engine, workerID string, capabilities []string) engine.Claim {
	t.Helper()
	claims, err := eng.LeaseNext(context.Background(), tenant, workerID, capabilities, 1, 0)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	return claims[0]
}

func openObligations(t *testing.T, eng *engine.Engine, p principal.Principal) []*receipt.Receipt {
	t.Helper()
	page, err := eng.ListOpenObligations(context.Background(), tenant, p, "", 0)
	require.NoError(t, err)
	return page.OpenObligations
}

func TestHappyPath(t *testing.T) {
	eng, stores := newTestEngine(t)
	ctx := context.Background()

	created := createTask(t, eng, task.Spec{
		Type:         "echo",
		Payload:      map[string]any{"msg": "hi"},
		Requirements: task.Requirements{Capabilities: []string{"echo"}},
		MaxAttempts:  3,
	})
	assert.Equal(t, task.StatusQueued, created.Status)
	require.Len(t, openObligations(t, eng, owner), 1)

	claim := claimOne(t, eng, "w1", []string{"echo"})
	assert.Equal(t, created.TaskID, claim.Task.TaskID)

	err := eng.Complete(ctx, tenant, "w1", claim.Task.TaskID, claim.Lease.LeaseID,
		map[string]any{"echoed": "hi"},
		[]any{map[string]any{"type": "mem", "key": "k1"}}, nil)
	require.NoError(t, err)

	final, err := eng.GetTask(ctx, tenant, created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSucceeded, final.Status)
	require.NotNil(t, final.Result)
	assert.Equal(t, task.OutcomeSucceeded, final.Result.Outcome)

	assigned := stores.ReceiptsOfType(receipt.TypeTaskAssigned)
	require.Len(t, assigned, 1)
	completed := stores.ReceiptsOfType(receipt.TypeTaskCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, []uuid.UUID{assigned[0].ReceiptID}, completed[0].Parents)

	assert.Empty(t, openObligations(t, eng, owner))
}

func TestWorkerCrashExpiryIsAttemptNeutral(t *testing.T) {
	eng, stores := newTestEngine(t)
	ctx := context.Background()

	created := createTask(t, eng, task.Spec{})
	claim := claimOne(t, eng, "w1", nil)
	assert.Equal(t, 1, claim.Task.Attempt)

	// Worker never calls back; its lease times out.
	stores.ExpireLease(tenant, created.TaskID)

	reclaimed, err := eng.ExpireLeases(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	after, err := eng.GetTask(ctx, tenant, created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, after.Status)
	assert.Equal(t, 1, after.Attempt, "expiry is lost authority, not failure")

	expired := stores.ReceiptsOfType(receipt.TypeLeaseExpired)
	require.Len(t, expired, 1)
	assert.True(t, expired[0].To.Equal(owner))
	assert.Empty(t, expired[0].Parents, "lease.expired never discharges anything")

	require.Len(t, openObligations(t, eng, owner), 1)

	// The crashed worker has lost authority: no mutation succeeds.
	err = eng.Complete(ctx, tenant, "w1", created.TaskID, claim.Lease.LeaseID, nil,
		[]any{map[string]any{"type": "mem", "key": "k1"}}, nil)
	assert.True(t, engine.IsCode(err, engine.CodeLeaseInvalidOrExpired))
}

func TestRetryableFailureRequeuesThenSucceeds(t *testing.T) {
	eng, stores := newTestEngine(t)
	ctx := context.Background()

	created := createTask(t, eng, task.Spec{MaxAttempts: 2, RetryBackoffSeconds: 1})
	claim := claimOne(t, eng, "w1", nil)

	requeued, err := eng.Fail(ctx, tenant, "w1", created.TaskID, claim.Lease.LeaseID,
		map[string]any{"message": "transient"}, true)
	require.NoError(t, err)
	assert.True(t, requeued)

	after, err := eng.GetTask(ctx, tenant, created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, after.Status)
	assert.Equal(t, 2, after.Attempt)
	require.NotNil(t, after.NextEligibleAt)
	assert.WithinDuration(t, time.Now().Add(2*time.Second), *after.NextEligibleAt, 2*time.Second)

	// The requeue marker must not close the obligation.
	markers := stores.ReceiptsOfType(receipt.TypeTaskFailed)
	require.Len(t, markers, 1)
	assert.Empty(t, markers[0].Parents)
	assert.Equal(t, true, markers[0].Body["requeued"])
	require.Len(t, openObligations(t, eng, owner), 1)

	// Task is not eligible until the backoff elapses; shift the clock.
	stores.Now = func() time.Time { return time.Now().UTC().Add(3 * time.Second) }
	claim2 := claimOne(t, eng, "w2", nil)
	err = eng.Complete(ctx, tenant, "w2", created.TaskID, claim2.Lease.LeaseID, nil,
		[]any{map[string]any{"type": "mem", "key": "k1"}}, nil)
	require.NoError(t, err)

	final, err := eng.GetTask(ctx, tenant, created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSucceeded, final.Status)
	assert.Len(t, stores.ReceiptsOfType(receipt.TypeTaskCompleted), 1)
	assert.Empty(t, openObligations(t, eng, owner))
}

func TestRetryBackoffUsesIncrementedAttempt(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	created := createTask(t, eng, task.Spec{MaxAttempts: 3, RetryBackoffSeconds: 100})
	claim := claimOne(t, eng, "w1", nil)

	requeued, err := eng.Fail(ctx, tenant, "w1", created.TaskID, claim.Lease.LeaseID,
		map[string]any{"message": "transient"}, true)
	require.NoError(t, err)
	require.True(t, requeued)

	after, err := eng.GetTask(ctx, tenant, created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.Attempt)
	require.NotNil(t, after.NextEligibleAt)
	// The first retry runs as attempt 2, so it waits base*2^1 = 200s, not
	// the bare 100s base.
	assert.WithinDuration(t, time.Now().Add(200*time.Second), *after.NextEligibleAt, 5*time.Second)
}

func TestNonRetryableTerminalFailure(t *testing.T) {
	eng, stores := newTestEngine(t)
	ctx := context.Background()

	created := createTask(t, eng, task.Spec{MaxAttempts: 1})
	claim := claimOne(t, eng, "w1", nil)

	requeued, err := eng.Fail(ctx, tenant, "w1", created.TaskID, claim.Lease.LeaseID,
		map[string]any{"message": "boom"}, true)
	require.NoError(t, err)
	assert.False(t, requeued, "attempts exhausted; retryable flag cannot save it")

	final, err := eng.GetTask(ctx, tenant, created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, final.Status)

	assigned := stores.ReceiptsOfType(receipt.TypeTaskAssigned)
	failed := stores.ReceiptsOfType(receipt.TypeTaskFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, []uuid.UUID{assigned[0].ReceiptID}, failed[0].Parents)

	assert.Empty(t, openObligations(t, eng, owner))
	assert.Len(t, stores.ReceiptsOfType(receipt.TypeTaskResultReady), 1)
}

func TestCompleteWithoutLocatabilityLenient(t *testing.T) {
	eng, stores := newTestEngine(t)
	ctx := context.Background()

	created := createTask(t, eng, task.Spec{})
	claim := claimOne(t, eng, "w1", nil)

	err := eng.Complete(ctx, tenant, "w1", created.TaskID, claim.Lease.LeaseID, nil, nil, nil)
	require.NoError(t, err)

	final, err := eng.GetTask(ctx, tenant, created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSucceeded, final.Status)

	completed := stores.ReceiptsOfType(receipt.TypeTaskCompleted)
	require.Len(t, completed, 1)
	assert.Empty(t, completed[0].Parents, "a discharge without evidence is recorded but stripped")

	anomalies := stores.ReceiptsOfType(receipt.TypeAnomalyLocatabilityMissing)
	require.Len(t, anomalies, 1)
	assert.True(t, anomalies[0].To.Equal(owner))

	// The obligation survives the evidence-free success.
	require.Len(t, openObligations(t, eng, owner), 1)
}

func TestCompleteWithoutLocatabilityStrict(t *testing.T) {
	eng, stores := newStrictEngine(t)
	ctx := context.Background()

	created := createTask(t, eng, task.Spec{})
	claim := claimOne(t, eng, "w1", nil)

	err := eng.Complete(ctx, tenant, "w1", created.TaskID, claim.Lease.LeaseID, nil, nil, nil)
	assert.True(t, engine.IsCode(err, engine.CodeValidation))
	assert.Empty(t, stores.ReceiptsOfType(receipt.TypeTaskCompleted))

	// With evidence the same call goes through.
	err = eng.Complete(ctx, tenant, "w1", created.TaskID, claim.Lease.LeaseID, nil,
		nil, map[string]any{"callback_status": 200})
	require.NoError(t, err)
	assert.Empty(t, openObligations(t, eng, owner))
}

func TestConcurrentClaimsNoOverlap(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		createTask(t, eng, task.Spec{Requirements: task.Requirements{Capabilities: []string{"echo"}}})
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []engine.Claim
	)
	for _, workerID := range []string{"w1", "w2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			claims, err := eng.LeaseNext(ctx, tenant, id, []string{"echo", "shell"}, 5, 0)
			assert.NoError(t, err)
			mu.Lock()
			claimed = append(claimed, claims...)
			mu.Unlock()
		}(workerID)
	}
	wg.Wait()

	require.Len(t, claimed, 8, "all eligible tasks claimed across the two calls")
	seen := make(map[uuid.UUID]bool)
	for _, c := range claimed {
		assert.False(t, seen[c.Task.TaskID], "task %s claimed twice", c.Task.TaskID)
		seen[c.Task.TaskID] = true
	}
}

func TestCreateTaskIdempotent(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	spec := task.Spec{Type: "echo", Payload: map[string]any{"msg": "hi"}}
	first, err := eng.CreateTask(ctx, tenant, owner, spec, "idem-1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := eng.CreateTask(ctx, tenant, owner, spec, "idem-1")
		require.NoError(t, err)
		assert.Equal(t, first.TaskID, again.TaskID)
	}

	page, err := eng.ListTasks(ctx, tenant, task.Filters{}, "", 0)
	require.NoError(t, err)
	assert.Len(t, page.Tasks, 1)

	// Reusing the key for a different task type is a conflict, not a silent hit.
	_, err = eng.CreateTask(ctx, tenant, owner, task.Spec{Type: "shell"}, "idem-1")
	assert.True(t, engine.IsCode(err, engine.CodeIdempotencyConflict))
}

func TestTerminalStatesAreSinks(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	created := createTask(t, eng, task.Spec{})
	require.NoError(t, eng.CancelTask(ctx, tenant, owner, created.TaskID, "changed my mind"))

	err := eng.CancelTask(ctx, tenant, owner, created.TaskID, "again")
	assert.True(t, engine.IsCode(err, engine.CodeInvalidStateTransition))

	// A canceled task is not claimable.
	claims, err := eng.LeaseNext(ctx, tenant, "w1", nil, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, claims)
}

func TestCancelAuthorization(t *testing.T) {
	eng, stores := newTestEngine(t)
	ctx := context.Background()

	created := createTask(t, eng, task.Spec{})

	err := eng.CancelTask(ctx, tenant, principal.Agent("intruder"), created.TaskID, "mine now")
	assert.True(t, engine.IsCode(err, engine.CodeUnauthorized))

	// System principals may cancel on behalf of operators.
	require.NoError(t, eng.CancelTask(ctx, tenant, principal.System("ops"), created.TaskID, "maintenance"))

	canceled := stores.ReceiptsOfType(receipt.TypeTaskCanceled)
	require.Len(t, canceled, 1)
	assigned := stores.ReceiptsOfType(receipt.TypeTaskAssigned)
	assert.Equal(t, []uuid.UUID{assigned[0].ReceiptID}, canceled[0].Parents)
	assert.Empty(t, openObligations(t, eng, owner))
}

func TestCancelReleasesActiveLease(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	created := createTask(t, eng, task.Spec{})
	claim := claimOne(t, eng, "w1", nil)

	require.NoError(t, eng.CancelTask(ctx, tenant, owner, created.TaskID, "superseded"))

	err := eng.Complete(ctx, tenant, "w1", created.TaskID, claim.Lease.LeaseID, nil,
		[]any{map[string]any{"type": "mem", "key": "k1"}}, nil)
	assert.True(t, engine.IsCode(err, engine.CodeLeaseInvalidOrExpired))
}

func TestRenewalCaps(t *testing.T) {
	cfg := testutil.DefaultMemConfig()
	cfg.MaxLeaseRenewals = 2
	cfg.MaxLeaseLifetime = time.Hour
	stores := testutil.NewMemStores(cfg)
	eng := engine.New(stores, engine.DefaultConfig(), "test-instance")
	ctx := context.Background()

	created := createTask(t, eng, task.Spec{})
	claim := claimOne(t, eng, "w1", nil)

	for i := 0; i < 2; i++ {
		renewed, err := eng.RenewLease(ctx, tenant, "w1", created.TaskID, claim.Lease.LeaseID, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i+1, renewed.RenewalCount)
	}

	_, err := eng.RenewLease(ctx, tenant, "w1", created.TaskID, claim.Lease.LeaseID, time.Minute)
	assert.True(t, engine.IsCode(err, engine.CodeRenewalLimitExceeded))
}

func TestRenewalLifetimeCap(t *testing.T) {
	cfg := testutil.DefaultMemConfig()
	cfg.MaxLeaseLifetime = 10 * time.Minute
	stores := testutil.NewMemStores(cfg)
	engCfg := engine.DefaultConfig()
	engCfg.MaxLeaseTTL = time.Hour
	eng := engine.New(stores, engCfg, "test-instance")
	ctx := context.Background()

	created := createTask(t, eng, task.Spec{})
	claim := claimOne(t, eng, "w1", nil)

	_, err := eng.RenewLease(ctx, tenant, "w1", created.TaskID, claim.Lease.LeaseID, 30*time.Minute)
	assert.True(t, engine.IsCode(err, engine.CodeLifetimeExceeded))
}

func TestRenewExpiredLease(t *testing.T) {
	eng, stores := newTestEngine(t)
	ctx := context.Background()

	created := createTask(t, eng, task.Spec{})
	claim := claimOne(t, eng, "w1", nil)
	stores.ExpireLease(tenant, created.TaskID)

	_, err := eng.RenewLease(ctx, tenant, "w1", created.TaskID, claim.Lease.LeaseID, time.Minute)
	assert.True(t, engine.IsCode(err, engine.CodeLeaseInvalidOrExpired),
		"an expired lease cannot be resurrected by renewal")
}

func TestLeaseTTLClamped(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	createTask(t, eng, task.Spec{})
	claims, err := eng.LeaseNext(ctx, tenant, "w1", nil, 1, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, claims, 1)

	ttl := claims[0].Lease.ExpiresAt.Sub(claims[0].Lease.AcquiredAt)
	assert.LessOrEqual(t, ttl, engine.DefaultConfig().MaxLeaseTTL)
}

func TestProgressReporting(t *testing.T) {
	eng, stores := newTestEngine(t)
	ctx := context.Background()

	created := createTask(t, eng, task.Spec{})
	claim := claimOne(t, eng, "w1", nil)

	report := map[string]any{"step": "fetching", "pct": 40}
	require.NoError(t, eng.ReportProgress(ctx, tenant, "w1", created.TaskID, claim.Lease.LeaseID, report))

	view, err := eng.GetTask(ctx, tenant, created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, report, view.Progress)
	assert.Len(t, stores.ReceiptsOfType(receipt.TypeTaskProgress), 1)

	// Progress without a valid lease is rejected.
	err = eng.ReportProgress(ctx, tenant, "w2", created.TaskID, claim.Lease.LeaseID, report)
	assert.True(t, engine.IsCode(err, engine.CodeLeaseInvalidOrExpired))
}

func TestAckReceipt(t *testing.T) {
	eng, stores := newTestEngine(t)
	ctx := context.Background()

	createTask(t, eng, task.Spec{})
	assigned := stores.ReceiptsOfType(receipt.TypeTaskAssigned)
	require.Len(t, assigned, 1)

	require.NoError(t, eng.AckReceipt(ctx, tenant, owner, assigned[0].ReceiptID))

	acks := stores.ReceiptsOfType(receipt.TypeReceiptAcknowledged)
	require.Len(t, acks, 1)
	assert.Equal(t, []uuid.UUID{assigned[0].ReceiptID}, acks[0].Parents)
	assert.Equal(t, assigned[0].ReceiptID.String(), acks[0].Body["acknowledged_receipt_id"])

	// Acknowledgement is telemetry: the obligation stays open.
	require.Len(t, openObligations(t, eng, owner), 1)

	err := eng.AckReceipt(ctx, tenant, owner, uuid.New())
	assert.True(t, engine.IsCode(err, engine.CodeValidation))
}

func TestOpenObligationsShape(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	createTask(t, eng, task.Spec{})
	page, err := eng.ListOpenObligations(ctx, tenant, owner, "", 0)
	require.NoError(t, err)

	encoded, err := json.Marshal(page)
	require.NoError(t, err)
	var shape map[string]any
	require.NoError(t, json.Unmarshal(encoded, &shape))

	assert.Contains(t, shape, "open_obligations")
	for _, forbidden := range []string{"waiting_results", "assigned_tasks", "inbox", "attention", "buckets"} {
		assert.NotContains(t, shape, forbidden,
			"obligation output must stay a flat list; server-side bucketing is forbidden")
	}
}

func TestOpenObligationsSkipsTerminated(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	// Three tasks; complete the middle one.
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		ids = append(ids, createTask(t, eng, task.Spec{}).TaskID)
	}
	claims, err := eng.LeaseNext(ctx, tenant, "w1", nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, claims, 3)
	for _, c := range claims {
		if c.Task.TaskID == ids[1] {
			require.NoError(t, eng.Complete(ctx, tenant, "w1", c.Task.TaskID, c.Lease.LeaseID, nil,
				[]any{map[string]any{"type": "mem", "key": "k"}}, nil))
		}
	}

	open := openObligations(t, eng, owner)
	require.Len(t, open, 2)
	for _, r := range open {
		assert.NotEqual(t, ids[1], *r.TaskID)
		assert.Equal(t, receipt.TypeTaskAssigned, r.Type)
	}
}

func TestOpenObligationsPagination(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		createTask(t, eng, task.Spec{})
	}

	seen := make(map[uuid.UUID]bool)
	cursor := ""
	for {
		page, err := eng.ListOpenObligations(ctx, tenant, owner, cursor, 2)
		require.NoError(t, err)
		for _, r := range page.OpenObligations {
			assert.False(t, seen[r.ReceiptID], "receipt repeated across pages")
			seen[r.ReceiptID] = true
		}
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}
	assert.Len(t, seen, 5)
}

func TestListTasksPagination(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		createTask(t, eng, task.Spec{})
	}

	page1, err := eng.ListTasks(ctx, tenant, task.Filters{}, "", 3)
	require.NoError(t, err)
	require.Len(t, page1.Tasks, 3)
	require.NotEmpty(t, page1.Cursor)

	page2, err := eng.ListTasks(ctx, tenant, task.Filters{}, page1.Cursor, 3)
	require.NoError(t, err)
	require.Len(t, page2.Tasks, 2)
	assert.Empty(t, page2.Cursor)

	seen := make(map[uuid.UUID]bool)
	for _, tk := range append(page1.Tasks, page2.Tasks...) {
		assert.False(t, seen[tk.TaskID])
		seen[tk.TaskID] = true
	}
}

func TestCapabilityFiltering(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	createTask(t, eng, task.Spec{Requirements: task.Requirements{Capabilities: []string{"gpu"}}})

	claims, err := eng.LeaseNext(ctx, tenant, "w1", []string{"echo"}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, claims, "capability requirements must be a subset of the worker's")

	claims, err = eng.LeaseNext(ctx, tenant, "w1", []string{"echo", "gpu"}, 5, 0)
	require.NoError(t, err)
	assert.Len(t, claims, 1)
}

func TestPriorityOrdering(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	low := createTask(t, eng, task.Spec{Priority: 0})
	high := createTask(t, eng, task.Spec{Priority: 10})

	claims, err := eng.LeaseNext(ctx, tenant, "w1", nil, 2, 0)
	require.NoError(t, err)
	require.Len(t, claims, 2)
	assert.Equal(t, high.TaskID, claims[0].Task.TaskID)
	assert.Equal(t, low.TaskID, claims[1].Task.TaskID)
}

func TestDelayedTaskNotImmediatelyEligible(t *testing.T) {
	eng, stores := newTestEngine(t)
	ctx := context.Background()

	createTask(t, eng, task.Spec{DelaySeconds: 60})

	claims, err := eng.LeaseNext(ctx, tenant, "w1", nil, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, claims)

	stores.Now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
	claims, err = eng.LeaseNext(ctx, tenant, "w1", nil, 5, 0)
	require.NoError(t, err)
	assert.Len(t, claims, 1)
}

func TestTenantIsolation(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	created := createTask(t, eng, task.Spec{})
	otherTenant := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	_, err := eng.GetTask(ctx, otherTenant, created.TaskID)
	assert.True(t, engine.IsCode(err, engine.CodeTaskNotFound))

	claims, err := eng.LeaseNext(ctx, otherTenant, "w1", nil, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, claims)

	page, err := eng.ListOpenObligations(ctx, otherTenant, owner, "", 0)
	require.NoError(t, err)
	assert.Empty(t, page.OpenObligations)
}

func TestDuplicateEmissionDeduplicates(t *testing.T) {
	eng, stores := newTestEngine(t)
	ctx := context.Background()

	createTask(t, eng, task.Spec{})
	assigned := stores.ReceiptsOfType(receipt.TypeTaskAssigned)
	require.Len(t, assigned, 1)

	// Acknowledge the same receipt twice: identical content, one row.
	require.NoError(t, eng.AckReceipt(ctx, tenant, owner, assigned[0].ReceiptID))
	require.NoError(t, eng.AckReceipt(ctx, tenant, owner, assigned[0].ReceiptID))
	assert.Len(t, stores.ReceiptsOfType(receipt.TypeReceiptAcknowledged), 1)
}

func TestExpiryAfterRequeueRaceDropsLeaseSilently(t *testing.T) {
	eng, stores := newTestEngine(t)
	ctx := context.Background()

	created := createTask(t, eng, task.Spec{})
	claimOne(t, eng, "w1", nil)

	// The task goes back to queued while its lease row lingers, as when a
	// release is lost. The sweep must reclaim the row without announcing an
	// expiry that never cost anyone authority.
	ok, err := stores.Tasks().Transition(ctx, tenant, created.TaskID, task.StatusLeased, task.StatusQueued, nil)
	require.NoError(t, err)
	require.True(t, ok)
	stores.ExpireLease(tenant, created.TaskID)

	n, err := eng.ExpireLeases(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, stores.ReceiptsOfType(receipt.TypeLeaseExpired))

	// The stale lease is gone, so the task is claimable again.
	claim := claimOne(t, eng, "w2", nil)
	assert.Equal(t, created.TaskID, claim.Task.TaskID)
}

type countingMetrics struct {
	mu       sync.Mutex
	receipts map[string]int
}

func (c *countingMetrics) ReceiptEmitted(receiptType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.receipts == nil {
		c.receipts = make(map[string]int)
	}
	c.receipts[receiptType]++
}

func (c *countingMetrics) count(receiptType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receipts[receiptType]
}

func (c *countingMetrics) TaskCreated()                       {}
func (c *countingMetrics) TaskSucceeded()                     {}
func (c *countingMetrics) TaskFailed()                        {}
func (c *countingMetrics) TaskCanceled()                      {}
func (c *countingMetrics) TaskRequeued()                      {}
func (c *countingMetrics) LeasesClaimed(int)                  {}
func (c *countingMetrics) LeaseRenewed()                      {}
func (c *countingMetrics) LeasesExpired(int)                  {}
func (c *countingMetrics) ObligationQuery(time.Duration, int) {}

func TestReceiptEmissionsAreCounted(t *testing.T) {
	metrics := &countingMetrics{}
	stores := testutil.NewMemStores(testutil.DefaultMemConfig())
	eng := engine.New(stores, engine.DefaultConfig(), "test-instance", engine.WithMetrics(metrics))
	ctx := context.Background()

	created, err := eng.CreateTask(ctx, tenant, owner, task.Spec{Type: "echo"}, "")
	require.NoError(t, err)
	claims, err := eng.LeaseNext(ctx, tenant, "w1", nil, 1, 0)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	leaseID := claims[0].Lease.LeaseID

	require.NoError(t, eng.ReportProgress(ctx, tenant, "w1", created.TaskID, leaseID, map[string]any{"pct": 50}))
	require.NoError(t, eng.Complete(ctx, tenant, "w1", created.TaskID, leaseID, nil,
		[]any{map[string]any{"type": "mem", "key": "k1"}}, nil))

	assert.Equal(t, 1, metrics.count(string(receipt.TypeTaskAssigned)))
	assert.Equal(t, 1, metrics.count(string(receipt.TypeTaskProgress)))
	assert.Equal(t, 1, metrics.count(string(receipt.TypeTaskCompleted)))
	assert.Equal(t, 1, metrics.count(string(receipt.TypeTaskResultReady)))
	assert.Zero(t, metrics.count(string(receipt.TypeAnomalyLocatabilityMissing)))
}
