// Package runid attaches a correlation id to the context of one worker
// launch, so every log line emitted while a computation runs — across the
// worker goroutine, its watchdog, and any on-save callback — can be tied
// back together. Adapted from the teacher's internal/requestid, which did
// the same for one HTTP request.
package runid

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// New generates a random id for one worker launch.
func New() string {
	return uuid.NewString()
}

// WithRunID returns a copy of ctx carrying id.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the run id from ctx, or "" if absent.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
