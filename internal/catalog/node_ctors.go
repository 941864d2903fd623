package catalog

import (
	"github.com/flowkit/journey/internal/domain"
	"github.com/flowkit/journey/internal/gating"
)

// NodeOption customizes a node constructor beyond its required arguments.
type NodeOption func(*NodeDef)

func WithMaxRetries(n int) NodeOption { return func(d *NodeDef) { d.MaxRetries = n } }

func WithHeartbeat(intervalSeconds, timeoutSeconds int) NodeOption {
	return func(d *NodeDef) {
		d.HeartbeatIntervalSeconds = intervalSeconds
		d.HeartbeatTimeoutSeconds = timeoutSeconds
	}
}

func WithAbandonAfter(seconds int) NodeOption { return func(d *NodeDef) { d.AbandonAfterSeconds = seconds } }

func WithOnSave(f OnSaveFunc) NodeOption { return func(d *NodeDef) { d.OnSave = f } }

func WithMaxEntries(n int) NodeOption { return func(d *NodeDef) { d.MaxEntries = &n } }

func WithUpdateRevision() NodeOption { return func(d *NodeDef) { d.UpdateRevision = true } }

// UnblockedWhen is identity sugar: pass expr straight through so call
// sites read naturally (spec §6).
func UnblockedWhen(expr gating.Expr) gating.Expr { return expr }

// GatedByNames builds a flat AND-of-provided gate, the common case.
func GatedByNames(names ...string) gating.Expr { return gating.Names(names...) }

// Input declares an input node — only these may be set/unset directly.
func Input(name string) NodeDef {
	return withNodeDefaults(NodeDef{Name: name, Type: domain.NodeTypeInput})
}

// Compute declares a derived node computed from upstream nodes.
func Compute(name string, gatedBy gating.Expr, f ComputeFunc, opts ...NodeOption) NodeDef {
	d := withNodeDefaults(NodeDef{Name: name, Type: domain.NodeTypeCompute, Gate: gatedBy, Compute: f})
	for _, o := range opts {
		o(&d)
	}
	return d
}

// Mutate declares a node whose success writes to a different slot
// (Mutates) rather than its own.
func Mutate(name string, gatedBy gating.Expr, f ComputeFunc, mutates string, opts ...NodeOption) NodeDef {
	d := withNodeDefaults(NodeDef{Name: name, Type: domain.NodeTypeMutate, Gate: gatedBy, Compute: f, Mutates: mutates})
	for _, o := range opts {
		o(&d)
	}
	return d
}

// ScheduleOnce declares a timer node that fires a single epoch-second
// moment (0 means "skipped tick", per spec §4.6).
func ScheduleOnce(name string, gatedBy gating.Expr, f ComputeFunc, opts ...NodeOption) NodeDef {
	d := withNodeDefaults(NodeDef{Name: name, Type: domain.NodeTypeScheduleOnce, Gate: gatedBy, Compute: f})
	for _, o := range opts {
		o(&d)
	}
	return d
}

// ScheduleRecurring declares a timer node re-enqueued after every firing
// so it keeps producing the next moment.
func ScheduleRecurring(name string, gatedBy gating.Expr, f ComputeFunc, opts ...NodeOption) NodeDef {
	d := withNodeDefaults(NodeDef{Name: name, Type: domain.NodeTypeScheduleRecurring, Gate: gatedBy, Compute: f})
	for _, o := range opts {
		o(&d)
	}
	return d
}

// Historian declares a node that appends a growing, schema-agnostic list
// of upstream observations.
func Historian(name string, gatedBy gating.Expr, opts ...NodeOption) NodeDef {
	d := withNodeDefaults(NodeDef{
		Name: name,
		Type: domain.NodeTypeHistorian,
		Gate: gatedBy,
		Compute: func(values map[string]any, nodes map[string]domain.ValueNode) (any, error) {
			return nil, nil // historian has no user function; the worker builds the entry itself.
		},
	})
	for _, o := range opts {
		o(&d)
	}
	return d
}

// Archive declares a node that, on fire, archives the execution.
func Archive(name string, gatedBy gating.Expr, opts ...NodeOption) NodeDef {
	d := withNodeDefaults(NodeDef{Name: name, Type: domain.NodeTypeArchive, Gate: gatedBy})
	for _, o := range opts {
		o(&d)
	}
	return d
}
