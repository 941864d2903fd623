package engine

import (
	"context"
	"fmt"

	"github.com/flowkit/journey/internal/domain"
)

// Get returns a value slot's current row, optionally polling per opts
// until it satisfies a wait condition — spec.md §4.12.
func (e *Engine) Get(ctx context.Context, executionID, nodeName string, opts ...GetOption) (*domain.Value, error) {
	cfg := newGetConfig(opts)

	if cfg.wait == waitNewer {
		current, err := e.sched.Values.Get(ctx, executionID, nodeName)
		if err != nil {
			return nil, err
		}
		cfg.wait = waitNewerThan
		cfg.newerThan = current.ExRevision
	}

	if cfg.wait == waitNone {
		return e.getPlain(ctx, executionID, nodeName)
	}

	return e.waitFor(ctx, executionID, nodeName, cfg)
}

func (e *Engine) getPlain(ctx context.Context, executionID, nodeName string) (*domain.Value, error) {
	v, err := e.sched.Values.Get(ctx, executionID, nodeName)
	if err != nil {
		return nil, err
	}
	if !v.Provided() {
		return v, fmt.Errorf("%w: %s", domain.ErrNotSet, nodeName)
	}
	return v, nil
}

// satisfied reports whether v meets the wait condition cfg describes.
func satisfied(v *domain.Value, cfg getConfig) bool {
	switch cfg.wait {
	case waitAny:
		return v.Provided()
	case waitNewerThan:
		return v.ExRevision > cfg.newerThan
	default:
		return true
	}
}
