package topology

import (
	"fmt"

	"github.com/karalabe/topod/graph"
)

// Reason is a discovery event that triggered a topology rebuild. The set of
// reasons is closed: DeviceAdded, DeviceRemoved, LinkAdded and LinkRemoved.
type Reason interface {
	fmt.Stringer
	reason()
}

// DeviceAdded signals that a device was discovered or updated.
type DeviceAdded struct {
	Device graph.Device
}

// DeviceRemoved signals that a device vanished from the network.
type DeviceRemoved struct {
	Device graph.Device
}

// LinkAdded signals that a link was discovered or updated.
type LinkAdded struct {
	Link graph.Link
}

// LinkRemoved signals that a link vanished from the network.
type LinkRemoved struct {
	Link graph.Link
}

func (DeviceAdded) reason()   {}
func (DeviceRemoved) reason() {}
func (LinkAdded) reason()     {}
func (LinkRemoved) reason()   {}

func (r DeviceAdded) String() string   { return "device-added " + string(r.Device.ID) }
func (r DeviceRemoved) String() string { return "device-removed " + string(r.Device.ID) }
func (r LinkAdded) String() string     { return "link-added " + r.Link.String() }
func (r LinkRemoved) String() string   { return "link-removed " + r.Link.String() }
