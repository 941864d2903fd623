package sched

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/flowkit/journey/internal/catalog"
	"github.com/flowkit/journey/internal/domain"
)

// watchdog extends a computation's heartbeat_deadline on a ticker at
// interval ± 20% jitter, grounded on the teacher's Worker.heartbeat. If
// the store reports the deadline was already missed — it checks the
// stored deadline before extending it — the watchdog logs that and stops
// heartbeating. It does not cancel or stop the running user function and
// does not change the row's state; the abandoned sweep (internal/sweep)
// reconciles the row.
func (s *Scheduler) watchdog(ctx context.Context, c *domain.Computation, node catalog.NodeDef, logger *slog.Logger) {
	interval := node.HeartbeatIntervalSeconds
	if interval <= 0 {
		interval = 30
	}
	base := time.Duration(interval) * time.Second

	for {
		jitter := time.Duration(float64(base) * (0.8 + 0.4*rand.Float64()))
		timer := time.NewTimer(jitter)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			ok, err := s.Comps.Heartbeat(ctx, c.ID, node.HeartbeatTimeout())
			if err != nil {
				logger.Error("heartbeat failed", "error", err)
				continue
			}
			if !ok {
				logger.Error("heartbeat deadline already missed, abandoning")
				return
			}
		}
	}
}
