package topology

import (
	"fmt"
	"time"

	"github.com/karalabe/topod/graph"
)

// ClusterID is the identifier of a cluster within a single snapshot. Identifiers
// are only meaningful in the snapshot that assigned them.
type ClusterID int

// String implements fmt.Stringer.
func (id ClusterID) String() string {
	return fmt.Sprintf("cluster-%d", int(id))
}

// Cluster is a maximal connected component of the topology graph.
type Cluster struct {
	ID          ClusterID    // Identifier of the cluster, assigned in root order
	Root        graph.Vertex // Lowest ordered vertex of the cluster
	DeviceCount int          // Number of devices in the cluster
	LinkCount   int          // Number of (directed) links in the cluster
}

// clusterInfo is a cluster along with its members.
type clusterInfo struct {
	Cluster
	devices []graph.DeviceID // Member devices, sorted
	links   []graph.Link     // Member links, sorted by edge identity
}

// Snapshot is an immutable computed topology: the graph, the hop count search
// results rooted at every vertex and the cluster partition.
type Snapshot struct {
	graph   *graph.Graph
	results map[graph.Vertex]*graph.SearchResult

	clusters   []*clusterInfo             // Clusters indexed by their id
	membership map[graph.Vertex]ClusterID // Cluster each vertex belongs to

	time    int64         // Monotonic construction timestamp in nanoseconds
	created time.Time     // Wall clock construction time
	cost    time.Duration // Time it took to compute the snapshot
}

// Graph returns the graph the snapshot was computed from.
func (s *Snapshot) Graph() *graph.Graph {
	return s.graph
}

// SearchResult returns the hop count search rooted at the given vertex, or nil if
// the vertex is not part of the snapshot.
func (s *Snapshot) SearchResult(v graph.Vertex) *graph.SearchResult {
	return s.results[v]
}

// Time returns the monotonic construction timestamp used for freshness ordering.
func (s *Snapshot) Time() int64 {
	return s.time
}

// Created returns the wall clock time the snapshot was constructed at.
func (s *Snapshot) Created() time.Time {
	return s.created
}

// ComputeCost returns the time it took to compute the snapshot.
func (s *Snapshot) ComputeCost() time.Duration {
	return s.cost
}

// Clusters returns all the clusters, ordered by id.
func (s *Snapshot) Clusters() []Cluster {
	clusters := make([]Cluster, len(s.clusters))
	for i, info := range s.clusters {
		clusters[i] = info.Cluster
	}
	return clusters
}

// Cluster returns the cluster with the given id.
func (s *Snapshot) Cluster(id ClusterID) (Cluster, bool) {
	if id < 0 || int(id) >= len(s.clusters) {
		return Cluster{}, false
	}
	return s.clusters[id].Cluster, true
}

// ClusterFor returns the cluster a device belongs to.
func (s *Snapshot) ClusterFor(device graph.DeviceID) (Cluster, bool) {
	id, ok := s.membership[graph.Vertex{Device: device}]
	if !ok {
		return Cluster{}, false
	}
	return s.clusters[id].Cluster, true
}

// ClusterDevices returns the devices of a cluster, ordered by identity.
func (s *Snapshot) ClusterDevices(id ClusterID) []graph.DeviceID {
	if id < 0 || int(id) >= len(s.clusters) {
		return nil
	}
	return append([]graph.DeviceID(nil), s.clusters[id].devices...)
}

// ClusterLinks returns the links of a cluster, ordered by identity.
func (s *Snapshot) ClusterLinks(id ClusterID) []graph.Link {
	if id < 0 || int(id) >= len(s.clusters) {
		return nil
	}
	return append([]graph.Link(nil), s.clusters[id].links...)
}

// findClusters partitions the graph into connected components over the undirected
// closure of its edges: a link reported in a single direction still joins its
// endpoints. Cluster ids are assigned in the order of their root vertices.
func findClusters(g *graph.Graph) ([]*clusterInfo, map[graph.Vertex]ClusterID) {
	vertices := g.Vertices()

	index := make(map[graph.Vertex]int, len(vertices))
	for i, v := range vertices {
		index[v] = i
	}
	// Union all the edge endpoints, always keeping the lower index as the set
	// representative so that roots end up being the lowest ordered vertex
	parent := make([]int, len(vertices))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	edges := g.Edges()
	for _, edge := range edges {
		a, b := find(index[edge.Src]), find(index[edge.Dst])
		switch {
		case a < b:
			parent[b] = a
		case b < a:
			parent[a] = b
		}
	}
	// Vertices are sorted, so sets are discovered in root order
	var (
		clusters   []*clusterInfo
		byRoot     = make(map[int]*clusterInfo)
		membership = make(map[graph.Vertex]ClusterID, len(vertices))
	)
	for i, v := range vertices {
		root := find(i)
		info, ok := byRoot[root]
		if !ok {
			info = &clusterInfo{Cluster: Cluster{ID: ClusterID(len(clusters)), Root: vertices[root]}}
			clusters = append(clusters, info)
			byRoot[root] = info
		}
		info.devices = append(info.devices, v.Device)
		info.DeviceCount++
		membership[v] = info.ID
	}
	for _, edge := range edges {
		info := clusters[membership[edge.Src]]
		info.links = append(info.links, edge.Link)
		info.LinkCount++
	}
	return clusters, membership
}
