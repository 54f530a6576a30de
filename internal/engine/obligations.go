package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"asyncgate/internal/domain/principal"
	"asyncgate/internal/domain/receipt"
)

// OpenObligations is one page of un-terminated obligation receipts.
type OpenObligations struct {
	OpenObligations []*receipt.Receipt `json:"open_obligations"`
	Cursor          string             `json:"cursor,omitempty"`
}

// ListOpenObligations returns obligation-creating receipts addressed to the
// principal that no valid terminator has discharged. The page is assembled in
// batches: over-fetch candidates, probe all their children in one query, and
// keep the candidates with no type-valid terminator. Query cost stays flat in
// the number of candidates rather than growing per receipt.
func (e *Engine) ListOpenObligations(ctx context.Context, tenant uuid.UUID, caller principal.Principal, cursorToken string, limit int) (*OpenObligations, error) {
	start := time.Now()
	cursor, err := DecodeCursor(cursorToken)
	if err != nil {
		return nil, err
	}
	limit = e.clampLimit(limit)

	batch := limit * e.cfg.ObligationCandidateMultiplier
	if batch > e.cfg.ObligationCandidateHardCap {
		batch = e.cfg.ObligationCandidateHardCap
	}
	if batch < limit {
		batch = limit
	}

	open := make([]*receipt.Receipt, 0, limit)
	var next *Cursor
	types := receipt.ObligationTypes()

	for len(open) < limit {
		candidates, err := e.stores.Receipts().ListObligationCandidates(ctx, tenant, caller, types, cursor, batch)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			next = nil
			break
		}

		ids := make([]uuid.UUID, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ReceiptID
		}
		children, err := e.stores.Receipts().ChildrenOfAny(ctx, tenant, ids)
		if err != nil {
			return nil, err
		}

		terminated := make(map[uuid.UUID]bool)
		byID := make(map[uuid.UUID]receipt.Type, len(candidates))
		for _, c := range candidates {
			byID[c.ReceiptID] = c.Type
		}
		for _, child := range children {
			for _, pid := range child.Parents {
				parentType, ok := byID[pid]
				if !ok {
					continue
				}
				if receipt.CanTerminate(child.Type, parentType) {
					terminated[pid] = true
				}
			}
		}

		for _, c := range candidates {
			if terminated[c.ReceiptID] {
				continue
			}
			open = append(open, c)
			if len(open) == limit {
				next = &Cursor{CreatedAt: c.CreatedAt, ID: c.ReceiptID}
				break
			}
		}

		if len(open) < limit {
			if len(candidates) < batch {
				// Ledger exhausted.
				next = nil
				break
			}
			// Advance past the last examined candidate even when the whole
			// batch was terminated, so the scan always makes progress.
			last := candidates[len(candidates)-1]
			cursor = &Cursor{CreatedAt: last.CreatedAt, ID: last.ReceiptID}
		}
	}

	e.metrics.ObligationQuery(time.Since(start), len(open))
	return &OpenObligations{OpenObligations: open, Cursor: next.Encode()}, nil
}
