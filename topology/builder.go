// Package topology turns discovered devices and links into immutable snapshots
// of the network and the query views built on top of them.
package topology

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/karalabe/topod/graph"
)

// ErrAlreadyBuilt is returned if a builder is asked to build a second time. The
// builder must be discarded and a fresh one created instead.
var ErrAlreadyBuilt = errors.New("topology already built")

// Config is the set of options to fine tune the topology builder.
type Config struct {
	Clock func() int64 // Monotonic nanosecond clock to stamp snapshots with (nil = process clock)

	Logger log.Logger // Logger to allow differentiating builders if many is embedded
}

// Builder computes a single topology snapshot. Each builder may only be used
// once, guaranteeing that a snapshot is never rebuilt in place.
type Builder struct {
	clock  func() int64
	built  uint32 // Atomic flag whether the builder was already used
	logger log.Logger
}

// NewBuilder creates a single-use topology builder.
func NewBuilder(config *Config) *Builder {
	if config == nil {
		config = new(Config)
	}
	clock := config.Clock
	if clock == nil {
		clock = Nanotime
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New()
	}
	return &Builder{
		clock:  clock,
		logger: logger,
	}
}

// Build constructs the graph out of the given devices and links, partitions it
// into clusters and runs a hop count shortest path search from every vertex.
func (b *Builder) Build(devices []graph.Device, links []graph.Link) (*Snapshot, error) {
	if !atomic.CompareAndSwapUint32(&b.built, 0, 1) {
		return nil, ErrAlreadyBuilt
	}
	// Freshness is the moment the input was captured, not when computing ended
	var (
		stamp   = b.clock()
		start   = time.Now()
		g       = graph.New(devices, links)
		results = make(map[graph.Vertex]*graph.SearchResult, g.VertexCount())
	)
	for _, v := range g.Vertices() {
		results[v] = graph.Search(g, v, graph.HopCount)
	}
	clusters, membership := findClusters(g)

	snap := &Snapshot{
		graph:      g,
		results:    results,
		clusters:   clusters,
		membership: membership,
		time:       stamp,
		created:    start,
		cost:       time.Since(start),
	}

	b.logger.Debug("Computed topology snapshot", "devices", g.VertexCount(), "links", g.EdgeCount(),
		"clusters", len(snap.clusters), "time", snap.time, "elapsed", snap.cost)
	return snap, nil
}

// clockEpoch is the reference point of the process-wide monotonic clock.
var (
	clockEpoch = time.Now()
	clockLast  int64
)

// Nanotime returns a strictly increasing nanosecond timestamp, relative to the
// start of the process. Consecutive calls never return the same value, even if
// the underlying clock didn't tick in between.
func Nanotime() int64 {
	for {
		last := atomic.LoadInt64(&clockLast)
		now := int64(time.Since(clockEpoch))
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&clockLast, last, now) {
			return now
		}
	}
}
