package sched

import (
	"math"
	"math/rand"
	"time"
)

// retryDelay returns the jittered pause before a failed computation's
// retry row is inserted, the same exponential-with-jitter shape as the
// teacher's worker.retryDelay, generalized from a per-job backoff enum to
// a single exponential policy since nodes have no backoff-strategy field.
func retryDelay(retryCount int) time.Duration {
	base := 30 * time.Second
	delay := time.Duration(float64(base) * math.Pow(2, float64(retryCount)))
	delay = min(delay, time.Hour)

	jitter := time.Duration(rand.Int63n(int64(delay/2))) - delay/4
	return delay + jitter
}
