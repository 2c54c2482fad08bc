package graph

import (
	"container/heap"
	"math"
	"sort"
)

// WeightFunc assigns a traversal cost to an edge. A negative weight marks the
// edge impassable: the search never crosses it.
type WeightFunc func(edge Edge) float64

// HopCount is the default weight function, treating every edge as a single hop.
func HopCount(Edge) float64 {
	return 1
}

// costEpsilon is the relative tolerance within which two path costs are tied.
const costEpsilon = 1e-9

// sameCost reports whether two path costs are equal up to float rounding.
func sameCost(a, b float64) bool {
	return math.Abs(a-b) <= costEpsilon*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

// SearchResult is the outcome of a single source shortest path search. For each
// reachable vertex it holds the minimum cost and all the incoming edges that lie
// on some minimum cost path (parents), from which every tied-shortest path can
// be reconstructed.
type SearchResult struct {
	src     Vertex             // Vertex the search was rooted at
	costs   map[Vertex]float64 // Minimum cost to reach each vertex
	parents map[Vertex][]Edge  // Incoming edges on some minimum cost path, sorted
	order   []Vertex           // Reachable vertices in settlement order
}

// Search runs a Dijkstra search from the source vertex, retaining all parents of
// equal cost so that every shortest path, not just an arbitrary one, can later
// be enumerated. A nil weight function defaults to hop count.
func Search(g *Graph, src Vertex, weight WeightFunc) *SearchResult {
	if weight == nil {
		weight = HopCount
	}
	res := &SearchResult{
		src:     src,
		costs:   make(map[Vertex]float64),
		parents: make(map[Vertex][]Edge),
	}
	if !g.HasVertex(src) {
		return res
	}
	var (
		settled = make(map[Vertex]bool)
		queue   = &searchQueue{{vertex: src, cost: 0}}
	)
	res.costs[src] = 0

	for queue.Len() > 0 {
		item := heap.Pop(queue).(searchItem)
		if settled[item.vertex] || item.cost > res.costs[item.vertex] {
			continue // stale queue entry
		}
		settled[item.vertex] = true
		res.order = append(res.order, item.vertex)

		for _, edge := range g.out[item.vertex] {
			w := weight(edge)
			if w < 0 {
				continue // impassable
			}
			if edge.Dst == src {
				continue // the source has no parents
			}
			cost := item.cost + w
			known, ok := res.costs[edge.Dst]
			switch {
			case ok && sameCost(cost, known):
				// Zero weight edges may tie into an already settled vertex
				res.parents[edge.Dst] = append(res.parents[edge.Dst], edge)
			case settled[edge.Dst]:
				continue
			case !ok || cost < known:
				res.costs[edge.Dst] = cost
				res.parents[edge.Dst] = []Edge{edge}
				heap.Push(queue, searchItem{vertex: edge.Dst, cost: cost})
			}
		}
	}
	for _, edges := range res.parents {
		sortEdges(edges)
	}
	return res
}

// Src returns the vertex the search was rooted at.
func (r *SearchResult) Src() Vertex {
	return r.src
}

// Cost returns the minimum cost of reaching a vertex and whether it's reachable
// at all.
func (r *SearchResult) Cost(v Vertex) (float64, bool) {
	cost, ok := r.costs[v]
	return cost, ok
}

// Reachable returns every vertex reachable from the source (excluding itself),
// ordered by device identity.
func (r *SearchResult) Reachable() []Vertex {
	vertices := make([]Vertex, 0, len(r.order))
	for _, v := range r.order {
		if v != r.src {
			vertices = append(vertices, v)
		}
	}
	sort.Slice(vertices, func(i, j int) bool {
		return vertices[i].Device < vertices[j].Device
	})
	return vertices
}

// Parents returns the incoming edges of a vertex that lie on some minimum cost
// path from the source, ordered by edge identity. With zero weight edges the
// parent relation may contain cycles.
func (r *SearchResult) Parents(v Vertex) []Edge {
	return append([]Edge(nil), r.parents[v]...)
}

// Paths returns all the loop free minimum cost paths from the source to the
// destination, ordered by path identity. The result is empty if the destination is the source
// itself or is unreachable.
func (r *SearchResult) Paths(dst Vertex) []Path {
	if dst == r.src || len(r.parents[dst]) == 0 {
		return nil
	}
	var (
		paths  []Path
		hops   []Edge // reversed hops of the path being assembled
		onPath = map[Vertex]bool{dst: true}
		walk   func(v Vertex)
	)
	walk = func(v Vertex) {
		if v == r.src {
			edges := make([]Edge, len(hops))
			for i := range hops {
				edges[i] = hops[len(hops)-1-i]
			}
			paths = append(paths, Path{Edges: edges, Cost: r.costs[dst]})
			return
		}
		for _, edge := range r.parents[v] {
			if onPath[edge.Src] {
				continue // zero cost cycle
			}
			onPath[edge.Src] = true
			hops = append(hops, edge)
			walk(edge.Src)
			hops = hops[:len(hops)-1]
			delete(onPath, edge.Src)
		}
	}
	walk(dst)

	sort.Slice(paths, func(i, j int) bool {
		return paths[i].Key() < paths[j].Key()
	})
	return paths
}

// searchItem is a tentative distance entry in the search queue.
type searchItem struct {
	vertex Vertex
	cost   float64
}

// searchQueue is a min-heap of tentative distances, implementing heap.Interface.
type searchQueue []searchItem

func (q searchQueue) Len() int { return len(q) }

func (q searchQueue) Less(i, j int) bool {
	if q[i].cost != q[j].cost {
		return q[i].cost < q[j].cost
	}
	return q[i].vertex.Device < q[j].vertex.Device
}

func (q searchQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *searchQueue) Push(x interface{}) { *q = append(*q, x.(searchItem)) }

func (q *searchQueue) Pop() interface{} {
	old := *q
	item := old[len(old)-1]
	*q = old[:len(old)-1]
	return item
}
