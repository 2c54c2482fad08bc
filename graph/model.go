// Package graph contains the immutable network graph model and the shortest path
// search running on top of it.
package graph

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DeviceID is the globally unique identity of a network device.
type DeviceID string

// PortNumber is the identity of an interface within a single device.
type PortNumber uint32

// ConnectPoint identifies an interface on a specific device.
type ConnectPoint struct {
	Device DeviceID   // Device owning the interface
	Port   PortNumber // Interface number within the device
}

// String implements fmt.Stringer, formatting the point as device/port.
func (cp ConnectPoint) String() string {
	return fmt.Sprintf("%s/%d", cp.Device, cp.Port)
}

// Less reports whether the connect point orders before another one.
func (cp ConnectPoint) Less(other ConnectPoint) bool {
	if cp.Device != other.Device {
		return cp.Device < other.Device
	}
	return cp.Port < other.Port
}

// ParseConnectPoint parses a connect point from its device/port textual form.
func ParseConnectPoint(s string) (ConnectPoint, error) {
	idx := strings.LastIndex(s, "/")
	if idx <= 0 || idx == len(s)-1 {
		return ConnectPoint{}, fmt.Errorf("invalid connect point '%s', want device/port", s)
	}
	port, err := strconv.ParseUint(s[idx+1:], 10, 32)
	if err != nil {
		return ConnectPoint{}, fmt.Errorf("invalid port in connect point '%s': %v", s, err)
	}
	return ConnectPoint{Device: DeviceID(s[:idx]), Port: PortNumber(port)}, nil
}

// Device is a network device as reported by discovery.
type Device struct {
	ID DeviceID // Unique identity of the device
}

// LinkType tags the kind of a discovered link.
type LinkType int

const (
	LinkDirect   LinkType = iota // Single hop link between two devices
	LinkIndirect                 // Multi-hop link traversing unmanaged infrastructure (tunnel aggregate)
)

// IsMultihop reports whether the link type aggregates more than one physical hop.
func (t LinkType) IsMultihop() bool {
	return t == LinkIndirect
}

// String implements fmt.Stringer.
func (t LinkType) String() string {
	switch t {
	case LinkDirect:
		return "direct"
	case LinkIndirect:
		return "indirect"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ParseLinkType converts the textual form of a link type back into its tag.
func ParseLinkType(s string) (LinkType, error) {
	switch strings.ToLower(s) {
	case "", "direct":
		return LinkDirect, nil
	case "indirect", "multihop", "tunnel":
		return LinkIndirect, nil
	default:
		return 0, fmt.Errorf("unknown link type '%s'", s)
	}
}

// LinkKey is the identity of a unidirectional link.
type LinkKey struct {
	Src ConnectPoint
	Dst ConnectPoint
}

// Less reports whether the link key orders before another one.
func (k LinkKey) Less(other LinkKey) bool {
	if k.Src != other.Src {
		return k.Src.Less(other.Src)
	}
	return k.Dst.Less(other.Dst)
}

// String implements fmt.Stringer.
func (k LinkKey) String() string {
	return k.Src.String() + "->" + k.Dst.String()
}

// Link is a unidirectional link between two connect points as reported by discovery.
type Link struct {
	Src       ConnectPoint // Egress point on the source device
	Dst       ConnectPoint // Ingress point on the destination device
	Type      LinkType     // Kind of the link, direct or multi-hop
	Timestamp time.Time    // Time the link was last discovered
}

// Key returns the identity of the link.
func (l Link) Key() LinkKey {
	return LinkKey{Src: l.Src, Dst: l.Dst}
}

// String implements fmt.Stringer.
func (l Link) String() string {
	return l.Key().String()
}
