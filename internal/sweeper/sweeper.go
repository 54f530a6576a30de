// Package sweeper runs the periodic lease-expiry scan.
package sweeper

import (
	"context"
	"time"

	"asyncgate/internal/engine"
	"asyncgate/internal/shared/logging"
)

// Sweeper periodically reclaims expired leases via the engine. Running more
// than one sweeper is safe: requeues are conditional updates, so concurrent
// sweeps cannot double-requeue a task.
type Sweeper struct {
	engine   *engine.Engine
	interval time.Duration
	batch    int
	logger   logging.Logger
}

// New constructs a sweeper. interval <= 0 defaults to 10s.
func New(eng *engine.Engine, interval time.Duration, batch int, logger logging.Logger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Sweeper{
		engine:   eng,
		interval: interval,
		batch:    batch,
		logger:   logging.OrNop(logger),
	}
}

// Run blocks until ctx is canceled, sweeping once per tick. A failed sweep is
// logged and retried on the next tick; an unreclaimed lease only delays the
// requeue until a later sweep.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("lease sweeper started (interval=%s batch=%d)", s.interval, s.batch)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("lease sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			reclaimed, err := s.engine.ExpireLeases(ctx, s.batch)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				s.logger.Error("sweep failed: %v", err)
				continue
			}
			if reclaimed > 0 {
				s.logger.Info("reclaimed %d expired leases", reclaimed)
			}
		}
	}
}
