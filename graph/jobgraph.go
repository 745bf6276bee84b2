// Package graph provides the mutable DAG of sub-job dependencies walked
// by the scheduler. Vertices are sub-job ids; an edge A -> B means A must
// complete before B may start.
package graph

import (
	"sort"

	"github.com/BaSui01/jobflow/types"
)

// JobGraph represents sub-job execution dependencies as a directed
// acyclic graph. Every mutation that would introduce a cycle is rejected
// and leaves the graph unchanged.
//
// A JobGraph is a plain value object and is not safe for concurrent
// mutation; the job store owns the authoritative instance and hands out
// clones as working copies.
type JobGraph struct {
	vertices map[string]struct{}
	// out maps a vertex to its successors, in maps a vertex to its
	// predecessors. The two are kept symmetric.
	out map[string]map[string]struct{}
	in  map[string]map[string]struct{}
}

// NewJobGraph creates a new empty job graph.
func NewJobGraph() *JobGraph {
	return &JobGraph{
		vertices: make(map[string]struct{}),
		out:      make(map[string]map[string]struct{}),
		in:       make(map[string]map[string]struct{}),
	}
}

// AddVertex adds a sub-job id to the graph. Adding an existing vertex is
// a no-op.
func (g *JobGraph) AddVertex(id string) {
	if _, ok := g.vertices[id]; ok {
		return
	}
	g.vertices[id] = struct{}{}
	g.out[id] = make(map[string]struct{})
	g.in[id] = make(map[string]struct{})
}

// AddEdge adds a must-complete-before dependency from one sub-job to
// another. Unknown endpoints are added implicitly. An edge that would
// create a cycle is rejected with a STRUCTURAL error and the graph is
// unchanged.
func (g *JobGraph) AddEdge(from, to string) error {
	if from == to {
		return types.NewErrorf(types.ErrStructural, "self-loop on vertex %q rejected", from)
	}
	g.AddVertex(from)
	g.AddVertex(to)
	if _, ok := g.out[from][to]; ok {
		return nil
	}
	// The edge from -> to closes a cycle iff from is reachable from to.
	if g.reachable(to, from) {
		return types.NewErrorf(types.ErrStructural, "edge %q -> %q would create a cycle", from, to)
	}
	g.out[from][to] = struct{}{}
	g.in[to][from] = struct{}{}
	return nil
}

// HasVertex reports whether the sub-job id is part of the graph.
func (g *JobGraph) HasVertex(id string) bool {
	_, ok := g.vertices[id]
	return ok
}

// VertexCount returns the number of vertices.
func (g *JobGraph) VertexCount() int {
	return len(g.vertices)
}

// IsEmpty reports whether the graph has no vertices.
func (g *JobGraph) IsEmpty() bool {
	return len(g.vertices) == 0
}

// Vertices returns all sub-job ids in deterministic order.
func (g *JobGraph) Vertices() []string {
	ids := make([]string, 0, len(g.vertices))
	for id := range g.vertices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Edges returns all dependency pairs as [from, to] in deterministic order.
func (g *JobGraph) Edges() [][2]string {
	edges := make([][2]string, 0)
	for from, tos := range g.out {
		for to := range tos {
			edges = append(edges, [2]string{from, to})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i][0] != edges[j][0] {
			return edges[i][0] < edges[j][0]
		}
		return edges[i][1] < edges[j][1]
	})
	return edges
}

// Predecessors returns the direct dependencies of a sub-job.
func (g *JobGraph) Predecessors(id string) []string {
	return sortedKeys(g.in[id])
}

// Successors returns the direct dependents of a sub-job.
func (g *JobGraph) Successors(id string) []string {
	return sortedKeys(g.out[id])
}

// EntryVertices returns the vertices with no predecessors within the graph.
func (g *JobGraph) EntryVertices() []string {
	entries := make([]string, 0)
	for id := range g.vertices {
		if len(g.in[id]) == 0 {
			entries = append(entries, id)
		}
	}
	sort.Strings(entries)
	return entries
}

// ExitVertices returns the vertices with no successors within the graph.
func (g *JobGraph) ExitVertices() []string {
	exits := make([]string, 0)
	for id := range g.vertices {
		if len(g.out[id]) == 0 {
			exits = append(exits, id)
		}
	}
	sort.Strings(exits)
	return exits
}

// Clone returns a deep copy of the graph.
func (g *JobGraph) Clone() *JobGraph {
	c := NewJobGraph()
	for id := range g.vertices {
		c.AddVertex(id)
	}
	for from, tos := range g.out {
		for to := range tos {
			c.out[from][to] = struct{}{}
			c.in[to][from] = struct{}{}
		}
	}
	return c
}

// RemoveVertex removes a sub-job and all edges touching it.
func (g *JobGraph) RemoveVertex(id string) {
	if _, ok := g.vertices[id]; !ok {
		return
	}
	for to := range g.out[id] {
		delete(g.in[to], id)
	}
	for from := range g.in[id] {
		delete(g.out[from], id)
	}
	delete(g.out, id)
	delete(g.in, id)
	delete(g.vertices, id)
}

// ReplaceSubgraph atomically removes the induced subgraph formed by old's
// vertices and splices newSub in its place. Edges from surviving
// predecessors of the old region are re-attached to newSub's entry
// vertices, and newSub's exit vertices are attached to the old region's
// surviving successors. If the splice would produce a cycle the graph is
// left unchanged and a STRUCTURAL error is returned.
//
// A nil or empty old merges newSub into the graph without removal, which
// covers initial persistence of a freshly decomposed graph.
func (g *JobGraph) ReplaceSubgraph(newSub, old *JobGraph) error {
	// Work on a scratch copy so a rejected splice leaves g untouched.
	scratch := g.Clone()

	predecessors := make(map[string]struct{})
	successors := make(map[string]struct{})
	if old != nil {
		oldIDs := make(map[string]struct{})
		for id := range old.vertices {
			oldIDs[id] = struct{}{}
		}
		for id := range oldIDs {
			for pred := range scratch.in[id] {
				if _, inOld := oldIDs[pred]; !inOld {
					predecessors[pred] = struct{}{}
				}
			}
			for succ := range scratch.out[id] {
				if _, inOld := oldIDs[succ]; !inOld {
					successors[succ] = struct{}{}
				}
			}
		}
		for id := range oldIDs {
			scratch.RemoveVertex(id)
		}
	}

	if newSub != nil {
		for id := range newSub.vertices {
			scratch.AddVertex(id)
		}
		for from, tos := range newSub.out {
			for to := range tos {
				if err := scratch.AddEdge(from, to); err != nil {
					return err
				}
			}
		}
		for pred := range predecessors {
			for _, entry := range newSub.EntryVertices() {
				if err := scratch.AddEdge(pred, entry); err != nil {
					return err
				}
			}
		}
		for succ := range successors {
			for _, exit := range newSub.ExitVertices() {
				if err := scratch.AddEdge(exit, succ); err != nil {
					return err
				}
			}
		}
	}

	g.vertices = scratch.vertices
	g.out = scratch.out
	g.in = scratch.in
	return nil
}

// reachable reports whether to is reachable from from following out-edges.
func (g *JobGraph) reachable(from, to string) bool {
	if from == to {
		return true
	}
	seen := map[string]struct{}{from: {}}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range g.out[cur] {
			if next == to {
				return true
			}
			if _, ok := seen[next]; !ok {
				seen[next] = struct{}{}
				stack = append(stack, next)
			}
		}
	}
	return false
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
