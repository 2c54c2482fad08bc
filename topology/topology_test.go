package topology

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/karalabe/topod/graph"
)

// testDevices are the devices used by most of the tests.
var testDevices = []graph.Device{{ID: "1"}, {ID: "2"}, {ID: "3"}, {ID: "4"}}

// link is a helper to create a direct link between two device ports.
func link(src graph.DeviceID, srcPort graph.PortNumber, dst graph.DeviceID, dstPort graph.PortNumber) graph.Link {
	return graph.Link{
		Src:       graph.ConnectPoint{Device: src, Port: srcPort},
		Dst:       graph.ConnectPoint{Device: dst, Port: dstPort},
		Type:      graph.LinkDirect,
		Timestamp: time.Unix(0, 0),
	}
}

// biLink creates both directions of a link between two device ports.
func biLink(a graph.DeviceID, aPort graph.PortNumber, b graph.DeviceID, bPort graph.PortNumber) []graph.Link {
	return []graph.Link{link(a, aPort, b, bPort), link(b, bPort, a, aPort)}
}

// ringLinks creates the links of the bidirectional 4-ring 1-2-3-4-1.
func ringLinks() []graph.Link {
	var links []graph.Link
	links = append(links, biLink("1", 1, "2", 1)...)
	links = append(links, biLink("3", 1, "2", 2)...)
	links = append(links, biLink("1", 2, "4", 1)...)
	links = append(links, biLink("3", 2, "4", 2)...)
	return links
}

// buildView is a helper to build a snapshot and wrap it into a view.
func buildView(t *testing.T, devices []graph.Device, links []graph.Link) *View {
	t.Helper()

	snap, err := NewBuilder(nil).Build(devices, links)
	if err != nil {
		t.Fatalf("Failed to build topology: %v", err)
	}
	return NewView(snap)
}

// checkPartition ensures that every vertex belongs to exactly one cluster.
func checkPartition(t *testing.T, view *View) {
	t.Helper()

	seen := make(map[graph.DeviceID]ClusterID)
	for _, cluster := range view.Clusters() {
		devices := view.ClusterDevices(cluster.ID)
		if len(devices) != cluster.DeviceCount {
			t.Errorf("cluster %v device count mismatch: have %d, want %d", cluster.ID, len(devices), cluster.DeviceCount)
		}
		for _, device := range devices {
			if prev, ok := seen[device]; ok {
				t.Errorf("device %s in multiple clusters: %v and %v", device, prev, cluster.ID)
			}
			seen[device] = cluster.ID
		}
	}
	for _, v := range view.Snapshot().Graph().Vertices() {
		id, ok := seen[v.Device]
		if !ok {
			t.Errorf("device %s not in any cluster", v.Device)
			continue
		}
		if cluster, _ := view.ClusterFor(v.Device); cluster.ID != id {
			t.Errorf("device %s cluster lookup mismatch: have %v, want %v", v.Device, cluster.ID, id)
		}
	}
	if len(seen) != view.DeviceCount() {
		t.Errorf("clustered device count mismatch: have %d, want %d", len(seen), view.DeviceCount())
	}
}

// Tests that disconnected devices end up in separate clusters without routes.
func TestDisconnectedDevices(t *testing.T) {
	view := buildView(t, testDevices[:2], nil)
	checkPartition(t, view)

	if have := view.ClusterCount(); have != 2 {
		t.Fatalf("cluster count mismatch: have %d, want %d", have, 2)
	}
	if view.IsPathViable("1", "2") {
		t.Fatalf("path viable between disconnected devices")
	}
	if paths := view.Paths("1", "2"); len(paths) != 0 {
		t.Fatalf("paths between disconnected devices: %v", paths)
	}
	// Isolated clusters need no broadcast tree, everything is floodable
	for _, cluster := range view.Clusters() {
		if points := view.BroadcastPoints(cluster.ID); len(points) != 0 {
			t.Errorf("cluster %v has broadcast points: %v", cluster.ID, points)
		}
	}
}

// Tests that a single bidirectional link joins two devices.
func TestSingleLink(t *testing.T) {
	view := buildView(t, testDevices[:2], biLink("1", 1, "2", 1))
	checkPartition(t, view)

	if have := view.ClusterCount(); have != 1 {
		t.Fatalf("cluster count mismatch: have %d, want %d", have, 1)
	}
	paths := view.Paths("1", "2")
	if len(paths) != 1 {
		t.Fatalf("path count mismatch: have %d, want %d", len(paths), 1)
	}
	if paths[0].Len() != 1 {
		t.Fatalf("path length mismatch: have %d, want %d", paths[0].Len(), 1)
	}
	if !view.IsPathViable("1", "2") || !view.IsPathViable("2", "1") {
		t.Fatalf("path not viable across link")
	}
}

// Tests that a full ring is a single cluster with equal cost multipath.
func TestRing(t *testing.T) {
	view := buildView(t, testDevices, ringLinks())
	checkPartition(t, view)

	clusters := view.Clusters()
	if len(clusters) != 1 {
		t.Fatalf("cluster count mismatch: have %d, want %d", len(clusters), 1)
	}
	want := Cluster{ID: 0, Root: graph.Vertex{Device: "1"}, DeviceCount: 4, LinkCount: 8}
	if diff := cmp.Diff(want, clusters[0]); diff != "" {
		t.Fatalf("cluster mismatch (-want +have):\n%s", diff)
	}
	paths := view.Paths("1", "3")
	if len(paths) != 2 {
		t.Fatalf("path count mismatch: have %d, want %d", len(paths), 2)
	}
	vias := make(map[graph.DeviceID]bool)
	for _, path := range paths {
		if path.Len() != 2 {
			t.Errorf("path %v length mismatch: have %d, want %d", path, path.Len(), 2)
		}
		vias[path.Edges[0].Dst.Device] = true
	}
	if !vias["2"] || !vias["4"] {
		t.Fatalf("paths not via both 2 and 4: %v", paths)
	}
}

// Tests that removing links from the ring splits it into two clusters.
func TestRingSplit(t *testing.T) {
	var links []graph.Link
	links = append(links, biLink("3", 1, "2", 2)...)
	links = append(links, biLink("1", 2, "4", 1)...)

	view := buildView(t, testDevices, links)
	checkPartition(t, view)

	clusters := view.Clusters()
	if len(clusters) != 2 {
		t.Fatalf("cluster count mismatch: have %d, want %d", len(clusters), 2)
	}
	for _, cluster := range clusters {
		if cluster.DeviceCount != 2 || cluster.LinkCount != 2 {
			t.Errorf("cluster %v size mismatch: have %d/%d, want 2/2", cluster.ID, cluster.DeviceCount, cluster.LinkCount)
		}
	}
	if view.IsInSameCluster("1", "2") {
		t.Fatalf("devices 1 and 2 share a cluster")
	}
	if !view.IsInSameCluster("2", "3") || !view.IsInSameCluster("1", "4") {
		t.Fatalf("linked devices in different clusters")
	}
}

// Tests that a single unidirectional link still joins its endpoints.
func TestUnidirectionalClustering(t *testing.T) {
	view := buildView(t, testDevices[:2], []graph.Link{link("2", 1, "1", 1)})
	checkPartition(t, view)

	if have := view.ClusterCount(); have != 1 {
		t.Fatalf("cluster count mismatch: have %d, want %d", have, 1)
	}
	if view.IsPathViable("1", "2") {
		t.Fatalf("path viable against link direction")
	}
	if !view.IsPathViable("2", "1") {
		t.Fatalf("path not viable along link direction")
	}
}

// Tests that devices referenced only by links still become vertices.
func TestLinkImpliedDevices(t *testing.T) {
	view := buildView(t, testDevices[:1], biLink("1", 1, "9", 1))
	checkPartition(t, view)

	if have := view.DeviceCount(); have != 2 {
		t.Fatalf("device count mismatch: have %d, want %d", have, 2)
	}
	if _, ok := view.ClusterFor("9"); !ok {
		t.Fatalf("link implied device not clustered")
	}
}

// Tests that a builder refuses to build twice, leaving the first result intact.
func TestBuilderSingleUse(t *testing.T) {
	builder := NewBuilder(nil)

	snap, err := builder.Build(testDevices, ringLinks())
	if err != nil {
		t.Fatalf("Failed to build topology: %v", err)
	}
	if _, err := builder.Build(testDevices[:2], nil); !errors.Is(err, ErrAlreadyBuilt) {
		t.Fatalf("second build error mismatch: have %v, want %v", err, ErrAlreadyBuilt)
	}
	if have := snap.Graph().VertexCount(); have != 4 {
		t.Fatalf("first snapshot modified: have %d devices, want %d", have, 4)
	}
	if have := len(snap.Clusters()); have != 1 {
		t.Fatalf("first snapshot modified: have %d clusters, want %d", have, 1)
	}
}

// Tests that snapshot timestamps strictly increase and honour custom clocks.
func TestSnapshotTimestamps(t *testing.T) {
	var last int64
	for i := 0; i < 100; i++ {
		snap, err := NewBuilder(nil).Build(testDevices, nil)
		if err != nil {
			t.Fatalf("Failed to build topology: %v", err)
		}
		if snap.Time() <= last {
			t.Fatalf("timestamp not increasing: have %d, previous %d", snap.Time(), last)
		}
		last = snap.Time()
	}
	snap, _ := NewBuilder(&Config{Clock: func() int64 { return 42 }}).Build(testDevices, nil)
	if snap.Time() != 42 {
		t.Fatalf("custom clock ignored: have %d, want %d", snap.Time(), 42)
	}
	if snap.Created().IsZero() {
		t.Fatalf("wall clock creation time not set")
	}
}

// Tests that the broadcast points form a tree: exactly one parent edge for every
// non-root vertex, never reaching any vertex through more than one path.
func TestBroadcastLoopFreedom(t *testing.T) {
	view := buildView(t, testDevices, ringLinks())

	cluster, _ := view.ClusterFor("1")
	points := view.BroadcastPoints(cluster.ID)

	// A 4 vertex tree has 3 edges, each contributing both its endpoints
	if len(points) != 6 {
		t.Fatalf("broadcast point count mismatch: have %d, want %d: %v", len(points), 6, points)
	}
	want := []graph.ConnectPoint{
		{Device: "1", Port: 1}, {Device: "1", Port: 2},
		{Device: "2", Port: 1}, {Device: "2", Port: 2},
		{Device: "3", Port: 1}, {Device: "4", Port: 1},
	}
	if diff := cmp.Diff(want, points); diff != "" {
		t.Fatalf("broadcast points mismatch (-want +have):\n%s", diff)
	}
	// Flood from the root along allowed links only (never back out of the ingress
	// port) and count how many copies each device receives
	type hop struct {
		device  graph.DeviceID
		ingress graph.ConnectPoint
	}
	var (
		arrivals = make(map[graph.DeviceID]int)
		visited  = map[graph.DeviceID]bool{"1": true}
		queue    = []hop{{device: "1"}}
	)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		for _, edge := range view.Snapshot().Graph().EdgesFrom(graph.Vertex{Device: next.device}) {
			if edge.Link.Src == next.ingress {
				continue
			}
			if !view.IsBroadcastAllowed(edge.Link.Src) || !view.IsBroadcastAllowed(edge.Link.Dst) {
				continue
			}
			arrivals[edge.Dst.Device]++
			if !visited[edge.Dst.Device] {
				visited[edge.Dst.Device] = true
				queue = append(queue, hop{device: edge.Dst.Device, ingress: edge.Link.Dst})
			}
		}
	}
	if arrivals["1"] != 0 {
		t.Errorf("flood looped back to the root %d times", arrivals["1"])
	}
	for _, device := range []graph.DeviceID{"2", "3", "4"} {
		if arrivals[device] != 1 {
			t.Errorf("device %s flood arrivals mismatch: have %d, want %d", device, arrivals[device], 1)
		}
	}
	// Edge ports are not infrastructure and always floodable
	edgePort := graph.ConnectPoint{Device: "3", Port: 10}
	if view.IsInfrastructure(edgePort) || !view.IsBroadcastAllowed(edgePort) {
		t.Fatalf("edge port misclassified")
	}
	blocked := graph.ConnectPoint{Device: "3", Port: 2}
	if !view.IsInfrastructure(blocked) || view.IsBroadcastAllowed(blocked) {
		t.Fatalf("redundant ring port floodable")
	}
}

// Tests that multi-hop links don't turn their endpoints into infrastructure.
func TestMultihopInfrastructure(t *testing.T) {
	links := biLink("1", 1, "2", 1)
	tunnel := link("1", 5, "3", 5)
	tunnel.Type = graph.LinkIndirect
	links = append(links, tunnel)

	view := buildView(t, testDevices[:3], links)
	if !view.IsInfrastructure(graph.ConnectPoint{Device: "1", Port: 1}) {
		t.Fatalf("direct link endpoint not infrastructure")
	}
	for _, point := range []graph.ConnectPoint{tunnel.Src, tunnel.Dst} {
		if view.IsInfrastructure(point) {
			t.Errorf("multi-hop endpoint %v classified as infrastructure", point)
		}
		if !view.IsBroadcastAllowed(point) {
			t.Errorf("multi-hop endpoint %v not floodable", point)
		}
	}
	// Multi-hop links are still usable for routing
	if !view.IsPathViable("1", "3") {
		t.Fatalf("path over multi-hop link not viable")
	}
}

// Tests that custom weights recompute paths and negative weights block links.
func TestWeightedPaths(t *testing.T) {
	view := buildView(t, testDevices, ringLinks())

	blocked := link("1", 1, "2", 1).Key()
	weight := func(edge graph.Edge) float64 {
		if edge.Link.Key() == blocked {
			return -1
		}
		return 1
	}
	paths := view.PathsWeighted("1", "3", weight)
	if len(paths) != 1 {
		t.Fatalf("path count mismatch: have %d, want %d", len(paths), 1)
	}
	for _, edge := range paths[0].Edges {
		if edge.Link.Key() == blocked {
			t.Fatalf("path %v crosses blocked link", paths[0])
		}
	}
	// The cached default paths must be unaffected
	if have := len(view.Paths("1", "3")); have != 2 {
		t.Fatalf("cached path count mismatch: have %d, want %d", have, 2)
	}
	// Weights can steer path selection away from hop count
	expensive := func(edge graph.Edge) float64 {
		if edge.Dst.Device == "2" || edge.Src.Device == "2" {
			return 10
		}
		return 1
	}
	paths = view.PathsWeighted("1", "3", expensive)
	if len(paths) != 1 || paths[0].String() != "1 -> 4 -> 3" {
		t.Fatalf("weighted path mismatch: have %v, want [1 -> 4 -> 3]", paths)
	}
	if paths := view.PathsWeighted("1", "1", nil); len(paths) != 0 {
		t.Fatalf("self paths returned: %v", paths)
	}
}

// Tests that custom weights keep every tied shortest path, even when the tie is
// formed over a zero weight link.
func TestWeightedPathTies(t *testing.T) {
	view := buildView(t, testDevices, ringLinks())

	weights := map[graph.LinkKey]float64{
		link("1", 1, "2", 1).Key(): 2.5,
		link("2", 2, "3", 1).Key(): 0.5,
		link("1", 2, "4", 1).Key(): 3,
		link("4", 2, "3", 2).Key(): 0,
	}
	weight := func(edge graph.Edge) float64 {
		if w, ok := weights[edge.Link.Key()]; ok {
			return w
		}
		return 10
	}
	paths := view.PathsWeighted("1", "3", weight)

	have := make([]string, len(paths))
	for i, path := range paths {
		have[i] = path.String()
		if path.Cost != 3 {
			t.Errorf("path %v cost mismatch: have %v, want %v", path, path.Cost, 3)
		}
	}
	want := []string{"1 -> 2 -> 3", "1 -> 4 -> 3"}
	if diff := cmp.Diff(want, have); diff != "" {
		t.Fatalf("weighted path mismatch (-want +have):\n%s", diff)
	}
}

// Tests that clusters can be looked up by id and by member device.
func TestClusterLookup(t *testing.T) {
	view := buildView(t, []graph.Device{{ID: "1"}, {ID: "2"}, {ID: "3"}}, biLink("2", 1, "3", 1))

	member, ok := view.ClusterFor("3")
	if !ok {
		t.Fatalf("cluster of device 3 not found")
	}
	cluster, ok := view.Cluster(member.ID)
	if !ok {
		t.Fatalf("cluster %v not found by id", member.ID)
	}
	want := Cluster{ID: 1, Root: graph.Vertex{Device: "2"}, DeviceCount: 2, LinkCount: 2}
	if diff := cmp.Diff(want, cluster); diff != "" {
		t.Fatalf("cluster mismatch (-want +have):\n%s", diff)
	}
	for _, id := range []ClusterID{-1, 2} {
		if _, ok := view.Cluster(id); ok {
			t.Errorf("nonexistent %v found", id)
		}
	}
	if _, ok := view.ClusterFor("9"); ok {
		t.Errorf("cluster found for unknown device")
	}
}

// Tests that the report renders clusters and paths.
func TestReport(t *testing.T) {
	view := buildView(t, testDevices, ringLinks())

	buffer := new(bytes.Buffer)
	Report(buffer, view)
	ReportPaths(buffer, "1", "3", view.Paths("1", "3"))
	ReportPaths(buffer, "1", "7", view.Paths("1", "7"))

	out := buffer.String()
	for _, want := range []string{"Clusters:", "1 2 3 4", "1 -> 2 -> 3", "1 -> 4 -> 3", "no route"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}
