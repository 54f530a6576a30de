package engine

import (
	"context"
	"math/rand"
	"time"

	"asyncgate/internal/domain/lease"
	"asyncgate/internal/domain/principal"
	"asyncgate/internal/domain/receipt"
)

// ExpireLeases reclaims leases whose expires_at has passed. Expiry is lost
// authority, not task failure: the task goes back to queued with its attempt
// counter untouched, and the owner gets a lease.expired receipt. Each lease
// is handled in its own atomic block so one bad row cannot stall the sweep.
func (e *Engine) ExpireLeases(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = e.cfg.SweepBatch
	}
	expired, err := e.stores.Leases().GetExpired(ctx, time.Now().UTC(), batch)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, l := range expired {
		if err := ctx.Err(); err != nil {
			return reclaimed, err
		}
		if err := e.expireOne(ctx, l); err != nil {
			e.logger.Error("expire lease %s (task %s): %v", l.LeaseID, l.TaskID, err)
			continue
		}
		reclaimed++
	}
	if reclaimed > 0 {
		e.metrics.LeasesExpired(reclaimed)
	}
	return reclaimed, nil
}

func (e *Engine) expireOne(ctx context.Context, l *lease.Lease) error {
	t, err := e.stores.Tasks().Get(ctx, l.TenantID, l.TaskID)
	if err != nil {
		return err
	}

	emitted := false
	err = e.stores.Atomic(ctx, func(s Stores) error {
		// A terminal task can still hold a stale lease row if a release was
		// lost; just drop the lease without requeueing.
		requeued := false
		if !t.IsTerminal() {
			jitter := time.Duration(0)
			if e.cfg.ExpiryJitterMax > 0 {
				jitter = time.Duration(rand.Int63n(int64(e.cfg.ExpiryJitterMax)))
			}
			requeued, err = s.Tasks().RequeueOnExpiry(ctx, l.TenantID, l.TaskID, jitter)
			if err != nil {
				return err
			}
		}
		if _, err := s.Leases().Release(ctx, l.TenantID, l.TaskID); err != nil {
			return err
		}
		if !requeued {
			// The task finished or was requeued between the expiry read and
			// this block; the stale lease row is dropped without a receipt.
			return nil
		}

		tid, lid := l.TaskID, l.LeaseID
		if _, err := s.Receipts().Create(ctx, l.TenantID, CreateReceipt{
			Type:    receipt.TypeLeaseExpired,
			From:    principal.Gate,
			To:      t.CreatedBy,
			TaskID:  &tid,
			LeaseID: &lid,
			Body:    receipt.LeaseExpiredBody(l.TaskID, l.WorkerID, t.Attempt),
		}); err != nil {
			return err
		}
		emitted = true
		return nil
	})
	if err != nil {
		return err
	}
	if emitted {
		e.metrics.ReceiptEmitted(string(receipt.TypeLeaseExpired))
	}
	return nil
}
