package graph

import (
	"sort"
	"strings"
)

// Vertex is a device as seen by the graph.
type Vertex struct {
	Device DeviceID
}

// String implements fmt.Stringer.
func (v Vertex) String() string {
	return string(v.Device)
}

// EdgeKey is the identity of an edge. Two edges are equal if their endpoints and
// their backing link identities are equal.
type EdgeKey struct {
	Src  Vertex
	Dst  Vertex
	Link LinkKey
}

// Less reports whether the edge key orders before another one. The ordering is
// total over distinct keys and is used for all deterministic tie-breaks.
func (k EdgeKey) Less(other EdgeKey) bool {
	if k.Src != other.Src {
		return k.Src.Device < other.Src.Device
	}
	if k.Dst != other.Dst {
		return k.Dst.Device < other.Dst.Device
	}
	return k.Link.Less(other.Link)
}

// Edge is a directed infrastructure link between two vertices.
type Edge struct {
	Src  Vertex // Vertex the link egresses from
	Dst  Vertex // Vertex the link ingresses into
	Link Link   // Full link record backing the edge
}

// Key returns the identity of the edge.
func (e Edge) Key() EdgeKey {
	return EdgeKey{Src: e.Src, Dst: e.Dst, Link: e.Link.Key()}
}

// String implements fmt.Stringer.
func (e Edge) String() string {
	return e.Link.String()
}

// Path is a non-empty sequence of edges leading from a source to a destination
// vertex, where each edge starts where the previous one ended.
type Path struct {
	Edges []Edge  // Hops of the path in traversal order
	Cost  float64 // Total weight of the path
}

// Src returns the vertex the path starts from.
func (p Path) Src() Vertex {
	return p.Edges[0].Src
}

// Dst returns the vertex the path ends at.
func (p Path) Dst() Vertex {
	return p.Edges[len(p.Edges)-1].Dst
}

// Len returns the number of hops in the path.
func (p Path) Len() int {
	return len(p.Edges)
}

// Key returns a textual identity of the path, unique among paths of a graph.
func (p Path) Key() string {
	hops := make([]string, len(p.Edges))
	for i, edge := range p.Edges {
		hops[i] = edge.Link.String()
	}
	return strings.Join(hops, ",")
}

// String implements fmt.Stringer.
func (p Path) String() string {
	devices := make([]string, 0, len(p.Edges)+1)
	devices = append(devices, string(p.Src().Device))
	for _, edge := range p.Edges {
		devices = append(devices, string(edge.Dst.Device))
	}
	return strings.Join(devices, " -> ")
}

// Graph is an immutable set of vertices and directed edges built from a single
// snapshot of discovered devices and links.
type Graph struct {
	vertices []Vertex             // Vertices sorted by device identity
	index    map[Vertex]struct{}  // Membership index of the vertices
	edges    []Edge               // Edges sorted by edge identity
	out      map[Vertex][]Edge    // Outgoing edges per vertex, sorted
	in       map[Vertex][]Edge    // Incoming edges per vertex, sorted
	byKey    map[EdgeKey]struct{} // Membership index of the edges
}

// New builds a graph out of a set of devices and links. Any device referenced by
// a link but missing from the device list still becomes a vertex, since device
// discovery may lag behind link discovery. Duplicate links are collapsed.
func New(devices []Device, links []Link) *Graph {
	g := &Graph{
		index: make(map[Vertex]struct{}),
		out:   make(map[Vertex][]Edge),
		in:    make(map[Vertex][]Edge),
		byKey: make(map[EdgeKey]struct{}),
	}
	for _, device := range devices {
		g.addVertex(Vertex{Device: device.ID})
	}
	for _, link := range links {
		src, dst := Vertex{Device: link.Src.Device}, Vertex{Device: link.Dst.Device}
		g.addVertex(src)
		g.addVertex(dst)

		edge := Edge{Src: src, Dst: dst, Link: link}
		if _, ok := g.byKey[edge.Key()]; ok {
			continue
		}
		g.byKey[edge.Key()] = struct{}{}
		g.edges = append(g.edges, edge)
		g.out[src] = append(g.out[src], edge)
		g.in[dst] = append(g.in[dst], edge)
	}
	// Sort everything so iteration over the graph is deterministic
	sort.Slice(g.vertices, func(i, j int) bool {
		return g.vertices[i].Device < g.vertices[j].Device
	})
	sortEdges(g.edges)
	for _, edges := range g.out {
		sortEdges(edges)
	}
	for _, edges := range g.in {
		sortEdges(edges)
	}
	return g
}

// addVertex inserts a vertex into the graph if it's not yet present.
func (g *Graph) addVertex(v Vertex) {
	if _, ok := g.index[v]; ok {
		return
	}
	g.index[v] = struct{}{}
	g.vertices = append(g.vertices, v)
}

// Vertices returns all the vertices of the graph, ordered by device identity.
func (g *Graph) Vertices() []Vertex {
	return append([]Vertex(nil), g.vertices...)
}

// Edges returns all the edges of the graph, ordered by edge identity.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// EdgesFrom returns the edges egressing from the given vertex.
func (g *Graph) EdgesFrom(v Vertex) []Edge {
	return append([]Edge(nil), g.out[v]...)
}

// EdgesTo returns the edges ingressing into the given vertex.
func (g *Graph) EdgesTo(v Vertex) []Edge {
	return append([]Edge(nil), g.in[v]...)
}

// HasVertex reports whether the vertex is part of the graph.
func (g *Graph) HasVertex(v Vertex) bool {
	_, ok := g.index[v]
	return ok
}

// HasEdge reports whether an edge with the given identity is part of the graph.
func (g *Graph) HasEdge(key EdgeKey) bool {
	_, ok := g.byKey[key]
	return ok
}

// VertexCount returns the number of vertices in the graph.
func (g *Graph) VertexCount() int {
	return len(g.vertices)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// sortEdges orders a slice of edges in place by their identity.
func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		return edges[i].Key().Less(edges[j].Key())
	})
}
