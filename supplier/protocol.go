package supplier

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/karalabe/topod/graph"
	"github.com/karalabe/topod/topology"
)

// DiscoveryTopic is the NSQ topic where discovery agents publish device and link
// events for the topology suppliers to consume.
const DiscoveryTopic = "discovery#ephemeral"

// ErrUnknownReason is returned if a discovery message carries an unknown kind.
var ErrUnknownReason = errors.New("unknown discovery event")

// Discovery event kinds on the wire.
const (
	kindDeviceAdded   = "device-added"
	kindDeviceRemoved = "device-removed"
	kindLinkAdded     = "link-added"
	kindLinkRemoved   = "link-removed"
)

// message is a single discovery event sent by a discovery agent.
type message struct {
	Kind   string         `json:"kind"`             // Type of the discovery event
	Device *deviceMessage `json:"device,omitempty"` // Device affected by device events
	Link   *linkMessage   `json:"link,omitempty"`   // Link affected by link events
}

// deviceMessage is the wire form of a device.
type deviceMessage struct {
	ID string `json:"id"` // Unique identity of the device
}

// linkMessage is the wire form of a link.
type linkMessage struct {
	Src  string `json:"src"`            // Source connect point as device/port
	Dst  string `json:"dst"`            // Destination connect point as device/port
	Type string `json:"type,omitempty"` // Link type (direct, indirect)
	Time int64  `json:"time,omitempty"` // Discovery timestamp in unix nanoseconds
}

// Encode serializes a discovery event into its wire form.
func Encode(reason topology.Reason) ([]byte, error) {
	var msg message
	switch r := reason.(type) {
	case topology.DeviceAdded:
		msg = message{Kind: kindDeviceAdded, Device: &deviceMessage{ID: string(r.Device.ID)}}
	case topology.DeviceRemoved:
		msg = message{Kind: kindDeviceRemoved, Device: &deviceMessage{ID: string(r.Device.ID)}}
	case topology.LinkAdded:
		msg = message{Kind: kindLinkAdded, Link: encodeLink(r.Link)}
	case topology.LinkRemoved:
		msg = message{Kind: kindLinkRemoved, Link: encodeLink(r.Link)}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownReason, reason)
	}
	return json.Marshal(msg)
}

// Decode parses a discovery event from its wire form.
func Decode(blob []byte) (topology.Reason, error) {
	msg := new(message)
	if err := json.Unmarshal(blob, msg); err != nil {
		return nil, err
	}
	switch msg.Kind {
	case kindDeviceAdded, kindDeviceRemoved:
		if msg.Device == nil || msg.Device.ID == "" {
			return nil, fmt.Errorf("%s event without device", msg.Kind)
		}
		device := graph.Device{ID: graph.DeviceID(msg.Device.ID)}
		if msg.Kind == kindDeviceAdded {
			return topology.DeviceAdded{Device: device}, nil
		}
		return topology.DeviceRemoved{Device: device}, nil

	case kindLinkAdded, kindLinkRemoved:
		if msg.Link == nil {
			return nil, fmt.Errorf("%s event without link", msg.Kind)
		}
		link, err := decodeLink(msg.Link)
		if err != nil {
			return nil, err
		}
		if msg.Kind == kindLinkAdded {
			return topology.LinkAdded{Link: link}, nil
		}
		return topology.LinkRemoved{Link: link}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownReason, msg.Kind)
	}
}

// encodeLink converts a link into its wire form.
func encodeLink(link graph.Link) *linkMessage {
	msg := &linkMessage{
		Src:  link.Src.String(),
		Dst:  link.Dst.String(),
		Type: link.Type.String(),
	}
	if !link.Timestamp.IsZero() {
		msg.Time = link.Timestamp.UnixNano()
	}
	return msg
}

// decodeLink converts a link from its wire form.
func decodeLink(msg *linkMessage) (graph.Link, error) {
	src, err := graph.ParseConnectPoint(msg.Src)
	if err != nil {
		return graph.Link{}, err
	}
	dst, err := graph.ParseConnectPoint(msg.Dst)
	if err != nil {
		return graph.Link{}, err
	}
	kind, err := graph.ParseLinkType(msg.Type)
	if err != nil {
		return graph.Link{}, err
	}
	link := graph.Link{Src: src, Dst: dst, Type: kind}
	if msg.Time != 0 {
		link.Timestamp = time.Unix(0, msg.Time)
	}
	return link, nil
}
