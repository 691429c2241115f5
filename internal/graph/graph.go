package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vk/flowpack/internal/config"
	"github.com/vk/flowpack/internal/ctxlog"
)

// Graph is the routing graph of one flow. It is safe for concurrent
// readers once built.
type Graph struct {
	mutex sync.RWMutex
	nodes map[string]*node
	entry string
	// declared preserves document declaration order for the traversal
	// tie-break of unreachable nodes.
	declared []string
}

// node is a single vertex with its outgoing routes in declaration order.
type node struct {
	id     string
	routes []string
}

// Build constructs the routing graph from a loaded flow. The loader has
// already validated the structure; the checks here guard against callers
// constructing flows by hand.
func Build(ctx context.Context, flow *config.Flow) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Building routing graph.", "flow", flow.ID, "node_count", len(flow.Nodes))

	g := &Graph{
		nodes: make(map[string]*node, len(flow.Nodes)),
		entry: flow.Entry,
	}

	for _, n := range flow.Nodes {
		if _, ok := g.nodes[n.ID]; ok {
			return nil, fmt.Errorf("duplicate node id in flow: %s", n.ID)
		}
		g.nodes[n.ID] = &node{id: n.ID, routes: n.RouteTo}
		g.declared = append(g.declared, n.ID)
	}

	if _, ok := g.nodes[g.entry]; !ok {
		return nil, fmt.Errorf("entry node not found: %s", g.entry)
	}
	for _, n := range g.nodes {
		for _, target := range n.routes {
			if _, ok := g.nodes[target]; !ok {
				return nil, fmt.Errorf("node %s routes to unknown node: %s", n.id, target)
			}
		}
	}

	logger.Debug("Routing graph built.", "flow", flow.ID)
	return g, nil
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.nodes)
}

// Entry returns the id of the designated entry node.
func (g *Graph) Entry() string {
	return g.entry
}

// Routes returns the outgoing route targets of the given node in
// declaration order.
func (g *Graph) Routes(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	routes := make([]string, len(n.routes))
	copy(routes, n.routes)
	return routes, nil
}

// Traversal returns every node id in canonical order: breadth-first from
// the entry node, visiting routes in declaration order and each node at
// most once, then any node unreachable from the entry in lexicographic id
// order. The result is identical for every call and every machine given
// the same flow.
func (g *Graph) Traversal() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	order := make([]string, 0, len(g.nodes))
	visited := make(map[string]bool, len(g.nodes))

	queue := []string{g.entry}
	visited[g.entry] = true
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, target := range g.nodes[id].routes {
			if !visited[target] {
				visited[target] = true
				queue = append(queue, target)
			}
		}
	}

	var unreachable []string
	for _, id := range g.declared {
		if !visited[id] {
			unreachable = append(unreachable, id)
		}
	}
	sort.Strings(unreachable)

	return append(order, unreachable...)
}
