package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/flowkit/journey/internal/domain"
	"github.com/flowkit/journey/internal/gating"
)

// GraphOnSaveFunc runs after any node in the graph completes a computation.
type GraphOnSaveFunc func(executionID, nodeName string, result any)

// Graph is a registered, frozen graph definition: a name, version, node
// list, and SHA-256 hash over the sorted node names. Once returned from
// NewGraph it is never mutated again.
type Graph struct {
	Name                string
	Version             int
	ExecutionIDPrefix   string
	OnSave              GraphOnSaveFunc

	nodes      map[string]NodeDef
	order      []string // declaration order, stable for iteration
	dependents map[string][]string // reverse adjacency: upstream name -> derived nodes that gate on it
	hash       string
}

type GraphOption func(*Graph)

func WithExecutionIDPrefix(prefix string) GraphOption { return func(g *Graph) { g.ExecutionIDPrefix = prefix } }
func WithGraphOnSave(f GraphOnSaveFunc) GraphOption    { return func(g *Graph) { g.OnSave = f } }

// NewGraph validates node coherence (spec §5) and freezes the graph.
func NewGraph(name string, version int, nodes []NodeDef, opts ...GraphOption) (*Graph, error) {
	g := &Graph{
		Name:    name,
		Version: version,
		nodes:   make(map[string]NodeDef, len(nodes)),
	}
	for _, o := range opts {
		o(g)
	}

	for _, n := range nodes {
		if _, exists := g.nodes[n.Name]; exists {
			return nil, wrapNode(domain.ErrDuplicateNodeName, n.Name)
		}
		g.nodes[n.Name] = n
		g.order = append(g.order, n.Name)
	}

	if err := validateDependencies(g.nodes); err != nil {
		return nil, err
	}
	if err := validateHeartbeats(g.nodes); err != nil {
		return nil, err
	}

	g.dependents = buildDependents(g.nodes)
	g.hash = computeHash(g.order)
	return g, nil
}

// Node returns the declaration for name, and whether it exists.
func (g *Graph) Node(name string) (NodeDef, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes returns every node in declaration order.
func (g *Graph) Nodes() []NodeDef {
	out := make([]NodeDef, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.nodes[name])
	}
	return out
}

// NodeNames returns every declared node name.
func (g *Graph) NodeNames() []string {
	names := make([]string, len(g.order))
	copy(names, g.order)
	return names
}

// Dependents returns every derived node whose gating expression
// references name directly (one hop; invalidation walks this
// transitively — see internal/sched/invalidate.go).
func (g *Graph) Dependents(name string) []string {
	return g.dependents[name]
}

// InputNames returns every input node name, used to build the
// "valid inputs" hint on ErrInvalidInputNode.
func (g *Graph) InputNames() []string {
	var names []string
	for _, name := range g.order {
		if g.nodes[name].Type == domain.NodeTypeInput {
			names = append(names, name)
		}
	}
	return names
}

// Hash is the SHA-256 (hex) over the sorted node name list.
func (g *Graph) Hash() string { return g.hash }

func computeHash(names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	h := sha256.New()
	for _, n := range sorted {
		h.Write([]byte(n))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func buildDependents(nodes map[string]NodeDef) map[string][]string {
	deps := make(map[string][]string)
	for name, n := range nodes {
		if n.Gate == nil {
			continue
		}
		for _, upstream := range gating.LeafNames(n.Gate) {
			deps[upstream] = append(deps[upstream], name)
		}
	}
	return deps
}
