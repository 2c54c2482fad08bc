package supplier

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/karalabe/topod/graph"
	"github.com/karalabe/topod/topology"
	"github.com/pelletier/go-toml/v2"
)

// fixture is the on-disk TOML layout of a static topology:
//
//	devices = ["1", "2"]
//
//	[[links]]
//	src = "1/1"
//	dst = "2/1"
//	type = "direct"
//	bidirectional = true
type fixture struct {
	Devices []string      `toml:"devices"`
	Links   []fixtureLink `toml:"links"`
}

// fixtureLink is a single link entry of a topology fixture.
type fixtureLink struct {
	Src           string `toml:"src"`           // Source connect point as device/port
	Dst           string `toml:"dst"`           // Destination connect point as device/port
	Type          string `toml:"type"`          // Link type (direct, indirect), direct if omitted
	Bidirectional bool   `toml:"bidirectional"` // Whether to also add the reverse link
}

// LoadFixture reads a static topology of devices and links from a TOML file.
func LoadFixture(path string) ([]graph.Device, []graph.Link, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	devices, links, err := ParseFixture(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid fixture %s: %w", path, err)
	}
	return devices, links, nil
}

// ParseFixture parses a static topology of devices and links from TOML.
func ParseFixture(raw []byte) ([]graph.Device, []graph.Link, error) {
	var f fixture
	if err := toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(&f); err != nil {
		return nil, nil, err
	}
	devices := make([]graph.Device, 0, len(f.Devices))
	for _, id := range f.Devices {
		if id == "" {
			return nil, nil, fmt.Errorf("empty device identity")
		}
		devices = append(devices, graph.Device{ID: graph.DeviceID(id)})
	}
	var (
		links []graph.Link
		now   = time.Now()
	)
	for i, entry := range f.Links {
		src, err := graph.ParseConnectPoint(entry.Src)
		if err != nil {
			return nil, nil, fmt.Errorf("link %d: %w", i, err)
		}
		dst, err := graph.ParseConnectPoint(entry.Dst)
		if err != nil {
			return nil, nil, fmt.Errorf("link %d: %w", i, err)
		}
		kind, err := graph.ParseLinkType(entry.Type)
		if err != nil {
			return nil, nil, fmt.Errorf("link %d: %w", i, err)
		}
		links = append(links, graph.Link{Src: src, Dst: dst, Type: kind, Timestamp: now})
		if entry.Bidirectional {
			links = append(links, graph.Link{Src: dst, Dst: src, Type: kind, Timestamp: now})
		}
	}
	return devices, links, nil
}

// FixtureReasons converts a static topology into the discovery events that would
// announce it, devices first.
func FixtureReasons(devices []graph.Device, links []graph.Link) []topology.Reason {
	reasons := make([]topology.Reason, 0, len(devices)+len(links))
	for _, device := range devices {
		reasons = append(reasons, topology.DeviceAdded{Device: device})
	}
	for _, link := range links {
		reasons = append(reasons, topology.LinkAdded{Link: link})
	}
	return reasons
}
