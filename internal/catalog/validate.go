package catalog

import (
	"fmt"

	"github.com/flowkit/journey/internal/domain"
	"github.com/flowkit/journey/internal/gating"
)

func wrapNode(err error, name string) error {
	return fmt.Errorf("%w: %s", err, name)
}

// validateDependencies confirms every name a gating expression leans on
// was actually declared — the same "fail loud at construction" posture
// the teacher uses for CreateSchedule's cron validation.
func validateDependencies(nodes map[string]NodeDef) error {
	for name, n := range nodes {
		if n.Gate == nil {
			continue
		}
		for _, upstream := range gating.LeafNames(n.Gate) {
			if _, ok := nodes[upstream]; !ok {
				return fmt.Errorf("%w: node %q depends on undeclared node %q", domain.ErrUnknownDependency, name, upstream)
			}
		}
	}
	return nil
}

// validateHeartbeats enforces spec §4.8's bounds on every runnable node.
func validateHeartbeats(nodes map[string]NodeDef) error {
	for name, n := range nodes {
		if !n.Type.Runnable() {
			continue
		}
		interval := n.heartbeatInterval()
		timeout := n.heartbeatTimeout()
		abandon := n.abandonAfter()

		if interval.Seconds() < 30 {
			return fmt.Errorf("%w: node %q heartbeat_interval_seconds must be >= 30", domain.ErrInvalidHeartbeatConfig, name)
		}
		if interval > timeout/2 {
			return fmt.Errorf("%w: node %q heartbeat_interval_seconds must be <= heartbeat_timeout_seconds/2", domain.ErrInvalidHeartbeatConfig, name)
		}
		if timeout > abandon {
			return fmt.Errorf("%w: node %q heartbeat_timeout_seconds must be <= abandon_after_seconds", domain.ErrInvalidHeartbeatConfig, name)
		}
	}
	return nil
}
