package topology

import (
	"sort"
	"time"

	"github.com/karalabe/topod/graph"
)

// pathKey is the source/destination pair the path cache is indexed by.
type pathKey struct {
	src graph.DeviceID
	dst graph.DeviceID
}

// View is the read-only query surface over a single topology snapshot. All the
// derived products (path cache, infrastructure points and broadcast points) are
// materialized at construction time, so a view is safe for concurrent use and
// never changes afterwards.
type View struct {
	snap *Snapshot

	paths     map[pathKey][]graph.Path                      // Hop count shortest paths for every reachable pair
	infra     map[graph.ConnectPoint]struct{}               // Endpoints of all single hop links
	broadcast map[ClusterID]map[graph.ConnectPoint]struct{} // Loop-free flood points per cluster
}

// NewView wraps a snapshot into a queryable view, precomputing the path cache,
// the infrastructure points and the broadcast points of every cluster.
func NewView(snap *Snapshot) *View {
	view := &View{
		snap:      snap,
		paths:     make(map[pathKey][]graph.Path),
		infra:     make(map[graph.ConnectPoint]struct{}),
		broadcast: make(map[ClusterID]map[graph.ConnectPoint]struct{}),
	}
	for _, src := range snap.graph.Vertices() {
		res := snap.results[src]
		for _, dst := range res.Reachable() {
			if paths := res.Paths(dst); len(paths) > 0 {
				view.paths[pathKey{src: src.Device, dst: dst.Device}] = paths
			}
		}
	}
	// Multi-hop links may share ports with end stations, keep those floodable
	for _, edge := range snap.graph.Edges() {
		if edge.Link.Type.IsMultihop() {
			continue
		}
		view.infra[edge.Link.Src] = struct{}{}
		view.infra[edge.Link.Dst] = struct{}{}
	}
	for _, info := range snap.clusters {
		view.broadcast[info.ID] = broadcastPoints(snap, info)
	}
	return view
}

// broadcastPoints selects a loop-free set of flood points for a cluster: walking
// the search tree rooted at the cluster root, every other member contributes the
// endpoints of exactly one parent edge, the lowest ordered one.
func broadcastPoints(snap *Snapshot, info *clusterInfo) map[graph.ConnectPoint]struct{} {
	points := make(map[graph.ConnectPoint]struct{})

	res := snap.results[info.Root]
	for _, device := range info.devices {
		v := graph.Vertex{Device: device}
		if v == info.Root {
			continue
		}
		parents := res.Parents(v)
		if len(parents) == 0 {
			continue
		}
		points[parents[0].Link.Src] = struct{}{}
		points[parents[0].Link.Dst] = struct{}{}
	}
	return points
}

// Snapshot returns the snapshot backing the view.
func (v *View) Snapshot() *Snapshot {
	return v.snap
}

// Time returns the monotonic construction timestamp of the backing snapshot.
func (v *View) Time() int64 {
	return v.snap.time
}

// Created returns the wall clock construction time of the backing snapshot.
func (v *View) Created() time.Time {
	return v.snap.created
}

// ComputeCost returns the time it took to compute the backing snapshot.
func (v *View) ComputeCost() time.Duration {
	return v.snap.cost
}

// DeviceCount returns the number of devices in the topology.
func (v *View) DeviceCount() int {
	return v.snap.graph.VertexCount()
}

// LinkCount returns the number of infrastructure links in the topology.
func (v *View) LinkCount() int {
	return v.snap.graph.EdgeCount()
}

// ClusterCount returns the number of clusters in the topology.
func (v *View) ClusterCount() int {
	return len(v.snap.clusters)
}

// IsPathViable reports whether at least one path leads from src to dst.
func (v *View) IsPathViable(src, dst graph.DeviceID) bool {
	return len(v.paths[pathKey{src: src, dst: dst}]) > 0
}

// Paths returns the cached hop count shortest paths between two devices. An empty
// result means there is no route.
func (v *View) Paths(src, dst graph.DeviceID) []graph.Path {
	return append([]graph.Path(nil), v.paths[pathKey{src: src, dst: dst}]...)
}

// PathsWeighted computes the shortest paths between two devices using a custom
// weight function. Links with a negative weight are never traversed. The result
// is not cached, every call runs a fresh search.
func (v *View) PathsWeighted(src, dst graph.DeviceID, weight graph.WeightFunc) []graph.Path {
	if src == dst {
		return nil
	}
	res := graph.Search(v.snap.graph, graph.Vertex{Device: src}, weight)
	return res.Paths(graph.Vertex{Device: dst})
}

// IsInfrastructure reports whether the point is the endpoint of a single hop link.
func (v *View) IsInfrastructure(point graph.ConnectPoint) bool {
	_, ok := v.infra[point]
	return ok
}

// IsBroadcastAllowed reports whether flooding through the point is permitted.
// Edge ports are always floodable; infrastructure ports only if they are part
// of their cluster's broadcast tree (or the cluster needs no tree at all).
func (v *View) IsBroadcastAllowed(point graph.ConnectPoint) bool {
	if !v.IsInfrastructure(point) {
		return true
	}
	id, ok := v.snap.membership[graph.Vertex{Device: point.Device}]
	if !ok {
		return true
	}
	points := v.broadcast[id]
	if len(points) == 0 {
		return true
	}
	_, ok = points[point]
	return ok
}

// BroadcastPoints returns the flood points selected for a cluster, sorted.
func (v *View) BroadcastPoints(id ClusterID) []graph.ConnectPoint {
	points := make([]graph.ConnectPoint, 0, len(v.broadcast[id]))
	for point := range v.broadcast[id] {
		points = append(points, point)
	}
	sortConnectPoints(points)
	return points
}

// Clusters returns all the clusters of the topology, ordered by id.
func (v *View) Clusters() []Cluster {
	return v.snap.Clusters()
}

// Cluster returns the cluster with the given id.
func (v *View) Cluster(id ClusterID) (Cluster, bool) {
	return v.snap.Cluster(id)
}

// ClusterFor returns the cluster a device belongs to.
func (v *View) ClusterFor(device graph.DeviceID) (Cluster, bool) {
	return v.snap.ClusterFor(device)
}

// ClusterDevices returns the devices of a cluster, ordered by identity.
func (v *View) ClusterDevices(id ClusterID) []graph.DeviceID {
	return v.snap.ClusterDevices(id)
}

// ClusterLinks returns the links of a cluster, ordered by identity.
func (v *View) ClusterLinks(id ClusterID) []graph.Link {
	return v.snap.ClusterLinks(id)
}

// IsInSameCluster reports whether two devices are part of the same cluster.
func (v *View) IsInSameCluster(a, b graph.DeviceID) bool {
	ca, ok := v.snap.ClusterFor(a)
	if !ok {
		return false
	}
	cb, ok := v.snap.ClusterFor(b)
	return ok && ca.ID == cb.ID
}

// sortConnectPoints orders a slice of connect points in place.
func sortConnectPoints(points []graph.ConnectPoint) {
	sort.Slice(points, func(i, j int) bool {
		return points[i].Less(points[j])
	})
}
