package engine

import "time"

// waitMode selects Get's polling behavior, per spec.md §4.12.
type waitMode int

const (
	waitNone waitMode = iota
	waitAny
	waitNewerThan
	waitNewer
)

type getConfig struct {
	wait      waitMode
	newerThan int64
	timeout   time.Duration
}

// GetOption configures Engine.Get's wait behavior.
type GetOption func(*getConfig)

// WaitAny polls until the slot is set, or the timeout elapses.
func WaitAny() GetOption {
	return func(c *getConfig) { c.wait = waitAny }
}

// WaitNewerThan polls until the slot's ex_revision exceeds rev, or the
// timeout elapses.
func WaitNewerThan(rev int64) GetOption {
	return func(c *getConfig) {
		c.wait = waitNewerThan
		c.newerThan = rev
	}
}

// WaitNewer captures the slot's current revision at call time, then
// behaves like WaitNewerThan(currentRevision).
func WaitNewer() GetOption {
	return func(c *getConfig) { c.wait = waitNewer }
}

// WithTimeout bounds how long Get polls before giving up; defaults to
// 30s, the same value as the cap on pollDelay's back-off (wait.go).
func WithTimeout(d time.Duration) GetOption {
	return func(c *getConfig) { c.timeout = d }
}

func newGetConfig(opts []GetOption) getConfig {
	cfg := getConfig{timeout: 30 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}
