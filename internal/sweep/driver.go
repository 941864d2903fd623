// Package sweep runs the background reconciliation passes described in
// spec §4.10: periodic, watermark-driven scans that catch what the
// in-process Advance/worker path might miss after a crash or a missed
// tick. Grounded on the teacher's Reaper and Dispatcher: both are a
// ticker loop around one repository call, logging what they did and
// nothing more.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowkit/journey/internal/metrics"
	"github.com/flowkit/journey/internal/store"
)

// Sweep is one reconciliation pass, keyed by its own SweepRun watermark.
type Sweep interface {
	Type() string
	Run(ctx context.Context, cutoff time.Time) (processed int, err error)
}

// Driver ticks every interval and runs each registered Sweep in turn,
// stamping a SweepRun row per pass. Grounded on Reaper.Start/reap and
// Dispatcher.Start/dispatch, generalized from one fixed repo call each
// to a list of Sweep implementations sharing one watermark discipline.
type Driver struct {
	runs     store.SweepRunStore
	sweeps   []Sweep
	interval time.Duration
	overlap  time.Duration
	fallback time.Duration
	logger   *slog.Logger
}

func NewDriver(runs store.SweepRunStore, sweeps []Sweep, interval, overlap, fallback time.Duration, logger *slog.Logger) *Driver {
	return &Driver{
		runs:     runs,
		sweeps:   sweeps,
		interval: interval,
		overlap:  overlap,
		fallback: fallback,
		logger:   logger.With("component", "sweep_driver"),
	}
}

func (d *Driver) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("sweep driver started", "interval", d.interval, "sweeps", len(d.sweeps))

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("sweep driver shut down")
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Driver) tick(ctx context.Context) {
	for _, sw := range d.sweeps {
		d.runOne(ctx, sw)
	}
}

// runOne computes the cutoff per spec §4.10: last completed run of this
// type, started_at minus the overlap window, or the fallback lookback if
// no completed run exists yet, stamps start/completion, and records
// metrics.
func (d *Driver) runOne(ctx context.Context, sw Sweep) {
	sweepType := sw.Type()
	logger := d.logger.With("sweep_type", sweepType)

	cutoff, err := d.cutoffFor(ctx, sweepType)
	if err != nil {
		logger.Error("compute cutoff", "error", err)
		return
	}

	runID, err := d.runs.Start(ctx, sweepType)
	if err != nil {
		logger.Error("start sweep run", "error", err)
		return
	}

	start := time.Now()
	processed, runErr := sw.Run(ctx, cutoff)
	metrics.SweepCycleDuration.WithLabelValues(sweepType).Observe(time.Since(start).Seconds())

	if runErr != nil {
		logger.Error("sweep run failed", "error", runErr, "processed", processed)
	}
	if processed > 0 {
		metrics.SweepExecutionsProcessedTotal.WithLabelValues(sweepType).Add(float64(processed))
		logger.Info("sweep processed executions", "count", processed)
	}

	if err := d.runs.Complete(ctx, runID, processed); err != nil {
		logger.Error("complete sweep run", "error", err)
	}
}

func (d *Driver) cutoffFor(ctx context.Context, sweepType string) (time.Time, error) {
	last, err := d.runs.LastCompleted(ctx, sweepType)
	if err != nil {
		return time.Time{}, err
	}
	if last == nil {
		return time.Now().Add(-d.fallback), nil
	}
	return last.StartedAt.Add(-d.overlap), nil
}
