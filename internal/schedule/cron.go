// Package schedule wraps robfig/cron's standard parser with the
// skip-missed-runs walk the teacher's Dispatcher.computeNext performs.
// Nothing in the scheduler calls it: a schedule_recurring node's next
// moment is whatever its user function returns.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// NextFireAfter returns the first fire time strictly after `after` that is
// also not in the past relative to now, skipping any runs the caller
// missed while the computation was pending — the same defensive walk the
// teacher's dispatcher performs before firing a schedule.
func NextFireAfter(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}

	next := sched.Next(after)
	now := time.Now()
	for next.Before(now) {
		next = sched.Next(next)
	}
	return next, nil
}
