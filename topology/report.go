package topology

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/karalabe/topod/graph"
	"github.com/olekukonko/tablewriter"
)

// Report prints a human readable summary of the view: some stats about the
// snapshot followed by the cluster membership table.
func Report(w io.Writer, view *View) {
	fmt.Fprintf(w, "Snapshot time:  %d\n", view.Time())
	fmt.Fprintf(w, "Snapshot age:   %v\n", time.Since(view.Created()).Round(time.Millisecond))
	fmt.Fprintf(w, "Compute cost:   %v\n", view.ComputeCost())
	fmt.Fprintf(w, "Devices, links: %d, %d\n", view.DeviceCount(), view.LinkCount())
	fmt.Fprintf(w, "\n")

	ReportClusters(w, view)
}

// ReportClusters creates a cluster table listing the members of each cluster
// and the points selected for flooding within it.
func ReportClusters(w io.Writer, view *View) {
	fmt.Fprintf(w, "Clusters:\n")

	clusters := view.Clusters()
	rows := make([][]string, 0, len(clusters))
	for _, cluster := range clusters {
		var (
			devices = view.ClusterDevices(cluster.ID)
			points  = view.BroadcastPoints(cluster.ID)

			members = make([]string, len(devices))
			floods  = make([]string, len(points))
		)
		for i, device := range devices {
			members[i] = string(device)
		}
		for i, point := range points {
			floods[i] = point.String()
		}
		rows = append(rows, []string{
			strconv.Itoa(int(cluster.ID)),
			string(cluster.Root.Device),
			strconv.Itoa(cluster.DeviceCount),
			strconv.Itoa(cluster.LinkCount),
			strings.Join(members, " "),
			strings.Join(floods, " "),
		})
	}
	table := newTable(w)
	table.SetHeader([]string{"#", "Root", "Devices", "Links", "Members", "Broadcast"})
	table.AppendBulk(rows)
	table.Render()

	fmt.Fprintf(w, "\n")
}

// ReportPaths creates a path table listing every path between two devices.
func ReportPaths(w io.Writer, src, dst graph.DeviceID, paths []graph.Path) {
	fmt.Fprintf(w, "Paths %s -> %s:\n", src, dst)
	if len(paths) == 0 {
		fmt.Fprintf(w, "  no route\n\n")
		return
	}
	rows := make([][]string, 0, len(paths))
	for i, path := range paths {
		hops := make([]string, len(path.Edges))
		for j, edge := range path.Edges {
			hops[j] = edge.Link.String()
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			strconv.Itoa(path.Len()),
			strconv.FormatFloat(path.Cost, 'g', -1, 64),
			path.String(),
			strings.Join(hops, " "),
		})
	}
	table := newTable(w)
	table.SetHeader([]string{"#", "Hops", "Cost", "Devices", "Links"})
	table.AppendBulk(rows)
	table.Render()

	fmt.Fprintf(w, "\n")
}

// newTable creates a borderless table writer in the report style.
func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	return table
}
