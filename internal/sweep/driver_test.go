package sweep

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/flowkit/journey/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCutoffFor_FallsBackWhenNoPriorRun(t *testing.T) {
	runs := newFakeSweepRunStore()
	d := NewDriver(runs, nil, time.Minute, 10*time.Second, time.Hour, testLogger())

	before := time.Now().Add(-time.Hour)
	cutoff, err := d.cutoffFor(context.Background(), "abandoned")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cutoff.Before(before.Add(-time.Second)) || cutoff.After(time.Now()) {
		t.Fatalf("expected cutoff near now-fallback, got %v", cutoff)
	}
}

func TestCutoffFor_UsesLastCompletedMinusOverlap(t *testing.T) {
	runs := newFakeSweepRunStore()
	started := time.Now().Add(-5 * time.Minute)
	runs.last["abandoned"] = &domain.SweepRun{SweepType: "abandoned", StartedAt: started}

	d := NewDriver(runs, nil, time.Minute, 30*time.Second, time.Hour, testLogger())
	cutoff, err := d.cutoffFor(context.Background(), "abandoned")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := started.Add(-30 * time.Second)
	if !cutoff.Equal(want) {
		t.Fatalf("expected cutoff %v, got %v", want, cutoff)
	}
}

type countingSweep struct {
	sweepType string
	runs      int
	processed int
}

func (c *countingSweep) Type() string { return c.sweepType }
func (c *countingSweep) Run(ctx context.Context, cutoff time.Time) (int, error) {
	c.runs++
	return c.processed, nil
}

func TestDriver_TickRunsEveryRegisteredSweep(t *testing.T) {
	runs := newFakeSweepRunStore()
	a := &countingSweep{sweepType: "a", processed: 2}
	b := &countingSweep{sweepType: "b", processed: 0}
	d := NewDriver(runs, []Sweep{a, b}, time.Minute, time.Second, time.Hour, testLogger())

	d.tick(context.Background())

	if a.runs != 1 || b.runs != 1 {
		t.Fatalf("expected both sweeps to run once, got a=%d b=%d", a.runs, b.runs)
	}
	if runs.last["a"] == nil || runs.last["a"].ExecutionsProcessed != 2 {
		t.Fatal("expected sweep run a to be recorded as completed with processed=2")
	}
	if runs.last["b"] == nil || runs.last["b"].ExecutionsProcessed != 0 {
		t.Fatal("expected sweep run b to be recorded as completed with processed=0")
	}
}
