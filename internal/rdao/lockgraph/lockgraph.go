// Package lockgraph provides the lock-order graph and cycle enumeration.
//
// Each node is a lock. An edge L1 → L2 records that some thread acquired L2
// while holding L1. Every edge keeps all acquisition sites that produced it,
// so the graph is in effect a multi-graph.
//
// Cycles in the graph indicate potential deadlocks. Only acquisition order
// creates edges; the order in which locks are released is irrelevant.
//
// A graph is built during lock-set replay and frozen afterwards. Once frozen
// it is immutable and safe to share between detectors.
package lockgraph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kolkov/rdao/internal/rdao/ir"
	"github.com/kolkov/rdao/internal/rdao/trace"
)

// ErrAnalysisBudgetExceeded is returned, wrapped, with a partial result when
// cycle enumeration hits its work budget.
var ErrAnalysisBudgetExceeded = errors.New("analysis budget exceeded")

// Site is one acquisition that contributed an edge.
type Site struct {
	Thread *trace.Thread

	// Held is the acquisition of the source lock, still held at Acquire.
	Held *trace.Event

	// Acquire is the acquisition of the target lock.
	Acquire *trace.Event
}

// InLoop reports whether either acquisition sits in a loop body.
func (s Site) InLoop() bool { return s.Held.InLoop || s.Acquire.InLoop }

// Edge is a directed lock-order edge with every site that produced it.
type Edge struct {
	From, To ir.LockID
	Sites    []Site
}

// Graph is a lock-order graph.
type Graph struct {
	nodes  []ir.LockID
	index  map[ir.LockID]int
	edges  map[[2]ir.LockID]*Edge
	out    [][]int
	frozen bool
}

// New returns an empty, mutable graph.
func New() *Graph {
	return &Graph{
		index: make(map[ir.LockID]int),
		edges: make(map[[2]ir.LockID]*Edge),
	}
}

// AddNode adds lock id if it is not present.
func (g *Graph) AddNode(id ir.LockID) {
	g.mustBeMutable()
	if _, ok := g.index[id]; ok {
		return
	}
	g.index[id] = len(g.nodes)
	g.nodes = append(g.nodes, id)
}

// AddEdge records that site acquired to while holding from.
func (g *Graph) AddEdge(from, to ir.LockID, site Site) {
	g.mustBeMutable()
	g.AddNode(from)
	g.AddNode(to)
	k := [2]ir.LockID{from, to}
	e, ok := g.edges[k]
	if !ok {
		e = &Edge{From: from, To: to}
		g.edges[k] = e
	}
	e.Sites = append(e.Sites, site)
}

// Freeze sorts the nodes and builds the adjacency lists. The graph must not
// be modified afterwards.
func (g *Graph) Freeze() {
	if g.frozen {
		return
	}
	sort.Slice(g.nodes, func(i, j int) bool { return g.nodes[i] < g.nodes[j] })
	for i, id := range g.nodes {
		g.index[id] = i
	}
	g.out = make([][]int, len(g.nodes))
	for k := range g.edges {
		from, to := g.index[k[0]], g.index[k[1]]
		g.out[from] = append(g.out[from], to)
	}
	for _, o := range g.out {
		sort.Ints(o)
	}
	g.frozen = true
}

func (g *Graph) mustBeMutable() {
	if g.frozen {
		panic("lockgraph: graph modified after Freeze")
	}
}

// Nodes returns the locks in sorted order.
func (g *Graph) Nodes() []ir.LockID { return g.nodes }

// Edge returns the edge from → to, or nil.
func (g *Graph) Edge(from, to ir.LockID) *Edge { return g.edges[[2]ir.LockID{from, to}] }

// Edges returns every edge sorted by (from, to).
func (g *Graph) Edges() []*Edge {
	out := make([]*Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// SelfLoops returns the edges L → L, sorted.
func (g *Graph) SelfLoops() []*Edge {
	var out []*Edge
	for _, e := range g.Edges() {
		if e.From == e.To {
			out = append(out, e)
		}
	}
	return out
}

// Budget bounds cycle enumeration. Zero fields mean unlimited.
type Budget struct {
	// MaxCycles stops enumeration after that many cycles.
	MaxCycles int
	// MaxSteps stops enumeration after that many DFS node visits.
	MaxSteps int
}

// Cycles returns every simple cycle of length >= 2. Each cycle is listed
// once, starting at its smallest lock; the edge back to the first lock is
// implied. Cycles are ordered by their first lock, then in DFS order.
//
// When the budget runs out Cycles returns the cycles found so far and an
// error wrapping ErrAnalysisBudgetExceeded.
//
// Precondition: the graph is frozen.
func (g *Graph) Cycles(b Budget) ([][]ir.LockID, error) {
	if !g.frozen {
		panic("lockgraph: Cycles on a graph that is not frozen")
	}
	var (
		cycles [][]ir.LockID
		path   []int
		onPath = make([]bool, len(g.nodes))
		steps  int
		errOut error
	)

	var dfs func(start, v int) bool
	dfs = func(start, v int) bool {
		steps++
		if b.MaxSteps > 0 && steps > b.MaxSteps {
			errOut = fmt.Errorf("%w: more than %d search steps", ErrAnalysisBudgetExceeded, b.MaxSteps)
			return false
		}
		for _, w := range g.out[v] {
			switch {
			case w == start:
				if len(path) < 2 {
					continue
				}
				c := make([]ir.LockID, len(path))
				for i, n := range path {
					c[i] = g.nodes[n]
				}
				cycles = append(cycles, c)
				if b.MaxCycles > 0 && len(cycles) >= b.MaxCycles {
					errOut = fmt.Errorf("%w: cycle limit %d reached", ErrAnalysisBudgetExceeded, b.MaxCycles)
					return false
				}
			case w > start && !onPath[w]:
				onPath[w] = true
				path = append(path, w)
				ok := dfs(start, w)
				path = path[:len(path)-1]
				onPath[w] = false
				if !ok {
					return false
				}
			}
		}
		return true
	}

	for s := range g.nodes {
		onPath[s] = true
		path = append(path[:0], s)
		ok := dfs(s, s)
		onPath[s] = false
		if !ok {
			break
		}
	}
	return cycles, errOut
}

// CycleEdges returns the edges along cycle, including the closing edge.
func (g *Graph) CycleEdges(cycle []ir.LockID) []*Edge {
	out := make([]*Edge, len(cycle))
	for i, from := range cycle {
		out[i] = g.Edge(from, cycle[(i+1)%len(cycle)])
	}
	return out
}
