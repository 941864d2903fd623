package sched

// shouldRetry is the one-line policy from spec §4.7: a computation is
// retried iff the number of failures counted against the current upstream
// cycle is still less than the node's configured max_retries — the same
// "current-cycle" scoping the teacher uses for job.RetryCount < job.MaxRetries,
// generalized from a column on one row to a count over sibling rows.
func shouldRetry(maxRetries, failedCount int) bool {
	return failedCount < maxRetries
}
