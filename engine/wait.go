package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/flowkit/journey/internal/domain"
)

const (
	waitPollBase = 100 * time.Millisecond
	waitPollCap  = 30 * time.Second
)

// pollDelay is the same exponential-with-jitter family as
// internal/sched/backoff.go's retryDelay, capped at 30s instead of 1h —
// spec.md §4.12's explicit bound for a caller actively polling, versus
// the much longer leash given to a background retry.
func pollDelay(attempt int) time.Duration {
	delay := time.Duration(float64(waitPollBase) * math.Pow(2, float64(attempt)))
	delay = min(delay, waitPollCap)
	jitter := time.Duration(rand.Int63n(int64(delay/2) + 1))
	return delay/2 + jitter
}

// waitFor polls Get until satisfied, the node's retries are exhausted,
// or the timeout elapses.
func (e *Engine) waitFor(ctx context.Context, executionID, nodeName string, cfg getConfig) (*domain.Value, error) {
	exec, err := e.sched.Execs.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	g, err := e.sched.Catalog.Current(exec.GraphName)
	if err != nil {
		return nil, err
	}
	node, ok := g.Node(nodeName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNodeNotFound, nodeName)
	}

	deadline := time.Now().Add(cfg.timeout)
	for attempt := 0; ; attempt++ {
		v, err := e.sched.Values.Get(ctx, executionID, nodeName)
		if err != nil {
			return nil, err
		}
		if satisfied(v, cfg) {
			return v, nil
		}

		if node.Type.Runnable() {
			active, err := e.sched.Comps.HasActiveAtOrAbove(ctx, executionID, nodeName, 0)
			if err != nil {
				return nil, err
			}
			if !active {
				failed, err := e.sched.Comps.CountFailedAtOrAbove(ctx, executionID, nodeName, 0)
				if err != nil {
					return nil, err
				}
				if failed >= node.MaxRetries {
					return nil, fmt.Errorf("%w: %s", domain.ErrComputationFailed, nodeName)
				}
			}
		}

		if time.Now().After(deadline) {
			return v, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollDelay(attempt)):
		}
	}
}
