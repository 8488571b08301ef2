package topology

import (
	"errors"
	"fmt"
	"sort"

	"fogpulse/internal/models"
)

// Construction errors. All of them are fatal: an engine must not start on a
// topology that fails to build.
var (
	ErrEmptyTopology  = errors.New("topology has no nodes")
	ErrDuplicateNode  = errors.New("duplicate node id")
	ErrUnknownParent  = errors.New("parent is not part of the topology")
	ErrTierOrder      = errors.New("parent must be of a strictly higher tier")
	ErrCyclicTopology = errors.New("cyclic parent reference")
)

// NodeSpec describes a node before the arena is built.
type NodeSpec struct {
	ID     string      `yaml:"id" json:"id"`
	Tier   models.Tier `yaml:"tier" json:"tier"`
	Parent string      `yaml:"parent,omitempty" json:"parent,omitempty"`
}

// Topology is a read-only arena of nodes indexed by id. Parent and child
// links are ids; nothing holds a pointer into another node.
type Topology struct {
	nodes  map[string]models.Node
	byTier map[models.Tier][]string
	roots  []string
}

// Build validates specs and assembles the arena.
func Build(specs []NodeSpec) (*Topology, error) {
	if len(specs) == 0 {
		return nil, ErrEmptyTopology
	}

	nodes := make(map[string]models.Node, len(specs))
	for _, s := range specs {
		if s.ID == "" {
			return nil, fmt.Errorf("topology: %w", models.ErrEmptyNodeID)
		}
		if !s.Tier.IsValid() {
			return nil, fmt.Errorf("topology: node %s: %w", s.ID, models.ErrInvalidTier)
		}
		if _, ok := nodes[s.ID]; ok {
			return nil, fmt.Errorf("topology: %w: %s", ErrDuplicateNode, s.ID)
		}
		nodes[s.ID] = models.Node{ID: s.ID, Tier: s.Tier, Parent: s.Parent}
	}

	for _, n := range nodes {
		if n.Parent == "" {
			continue
		}
		if _, ok := nodes[n.Parent]; !ok {
			return nil, fmt.Errorf("topology: node %s: %w: %s", n.ID, ErrUnknownParent, n.Parent)
		}
	}

	if err := detectCycles(nodes); err != nil {
		return nil, err
	}

	for _, n := range nodes {
		if n.Parent == "" {
			continue
		}
		parent := nodes[n.Parent]
		if parent.Tier <= n.Tier {
			return nil, fmt.Errorf("topology: node %s (%s) under %s (%s): %w",
				n.ID, n.Tier, parent.ID, parent.Tier, ErrTierOrder)
		}
	}

	t := &Topology{
		nodes:  nodes,
		byTier: make(map[models.Tier][]string),
	}

	children := make(map[string][]string)
	for id, n := range nodes {
		t.byTier[n.Tier] = append(t.byTier[n.Tier], id)
		if n.Parent == "" {
			t.roots = append(t.roots, id)
		} else {
			children[n.Parent] = append(children[n.Parent], id)
		}
	}
	for id, kids := range children {
		sort.Strings(kids)
		n := nodes[id]
		n.Children = kids
		nodes[id] = n
	}
	for tier := range t.byTier {
		sort.Strings(t.byTier[tier])
	}
	sort.Strings(t.roots)

	return t, nil
}

// detectCycles walks each parent chain; a chain longer than the node count
// or revisiting a node is a cycle.
func detectCycles(nodes map[string]models.Node) error {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(nodes))

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, start := range ids {
		var path []string
		cur := start
		for cur != "" && state[cur] != done {
			if state[cur] == inProgress {
				return fmt.Errorf("topology: %w through %s", ErrCyclicTopology, cur)
			}
			state[cur] = inProgress
			path = append(path, cur)
			cur = nodes[cur].Parent
		}
		for _, id := range path {
			state[id] = done
		}
	}
	return nil
}

// Node returns the node with the given id.
func (t *Topology) Node(id string) (models.Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Len returns the number of nodes.
func (t *Topology) Len() int { return len(t.nodes) }

// Tier returns the ids of all nodes in tier, sorted.
func (t *Topology) Tier(tier models.Tier) []string {
	return t.byTier[tier]
}

// Scopes returns the ids of the nodes in tier that have children, sorted.
func (t *Topology) Scopes(tier models.Tier) []string {
	var out []string
	for _, id := range t.byTier[tier] {
		if t.nodes[id].IsScope() {
			out = append(out, id)
		}
	}
	return out
}

// Roots returns the ids of parentless nodes, sorted.
func (t *Topology) Roots() []string { return t.roots }

// Parent returns the parent of id, if any.
func (t *Topology) Parent(id string) (models.Node, bool) {
	n, ok := t.nodes[id]
	if !ok || n.Parent == "" {
		return models.Node{}, false
	}
	return t.nodes[n.Parent], true
}

// Nodes returns every node ordered by tier (bottom-up), then id.
func (t *Topology) Nodes() []models.Node {
	out := make([]models.Node, 0, len(t.nodes))
	for _, tier := range models.Tiers {
		for _, id := range t.byTier[tier] {
			out = append(out, t.nodes[id])
		}
	}
	return out
}
