package orchestrator

import (
	"errors"
	"fmt"
	"sort"

	"github.com/taskmesh/taskmesh/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in a subtask graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// DependencyGraph represents a directed acyclic graph of subtask dependencies.
// Subtasks are nodes, and edges represent "blocked by" relationships.
type DependencyGraph struct {
	// nodes maps subtask ID to the subtask itself.
	nodes map[string]*models.Subtask
	// edges maps subtask ID to IDs of subtasks it depends on.
	edges map[string][]string
}

// NewDependencyGraph creates a new empty dependency graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[string]*models.Subtask),
		edges: make(map[string][]string),
	}
}

// Build constructs the dependency graph from a slice of subtasks.
// Returns an error if a cycle is detected or a dependency references an
// ID outside the set.
func (g *DependencyGraph) Build(subtasks []*models.Subtask) error {
	for _, st := range subtasks {
		g.nodes[st.ID] = st
		g.edges[st.ID] = nil
	}

	for _, st := range subtasks {
		for _, depID := range st.Dependencies {
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("subtask %s depends on unknown subtask %s", st.ID, depID)
			}
			g.edges[st.ID] = append(g.edges[st.ID], depID)
		}
	}

	if g.HasCycle() {
		return ErrCycleDetected
	}
	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
// Uses depth-first search with coloring to detect back edges.
func (g *DependencyGraph) HasCycle() bool {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int)

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				// Back edge - cycle detected.
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = 2
		return false
	}

	for id := range g.nodes {
		if colors[id] == 0 {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// Size returns the number of subtasks in the graph.
func (g *DependencyGraph) Size() int {
	return len(g.nodes)
}

// Levels returns the subtask IDs grouped into topological layers: the
// first layer has no dependencies, each subsequent layer depends only on
// earlier layers. The graph must be acyclic.
func (g *DependencyGraph) Levels() [][]string {
	depth := make(map[string]int)

	var resolve func(id string) int
	resolve = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		d := 0
		for _, depID := range g.edges[id] {
			if dd := resolve(depID) + 1; dd > d {
				d = dd
			}
		}
		depth[id] = d
		return d
	}

	maxDepth := 0
	for id := range g.nodes {
		if d := resolve(id); d > maxDepth {
			maxDepth = d
		}
	}

	levels := make([][]string, maxDepth+1)
	// Iterate in insertion-independent but deterministic order by walking
	// node IDs sorted lexically.
	for _, id := range sortedIDs(g.nodes) {
		d := depth[id]
		levels[d] = append(levels[d], id)
	}
	return levels
}

// sortedIDs returns map keys in lexical order.
func sortedIDs(nodes map[string]*models.Subtask) []string {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
