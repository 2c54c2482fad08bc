// Package supplier maintains the discovered devices and links of a network and
// keeps the topology manager fed with freshly computed views of it.
package supplier

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/log"
	"github.com/karalabe/topod/broker"
	"github.com/karalabe/topod/graph"
	"github.com/karalabe/topod/manager"
	"github.com/karalabe/topod/topology"
	"github.com/nsqio/go-nsq"
)

// ErrClosed is returned if discovery events are fed into a terminated supplier.
var ErrClosed = errors.New("supplier closed")

// Config is the set of options to fine tune the topology supplier.
type Config struct {
	Name   string         // Identity to register with the topology manager
	Broker *broker.Broker // Broker to consume discovery events from (nil = only explicit feeds)
	Clock  func() int64   // Monotonic nanosecond clock to stamp topologies with (nil = process clock)

	Logger log.Logger // Logger to allow differentiating suppliers if many is embedded
}

// API request to integrate discovery events into the local network state.
type feedRequest struct {
	seed    bool              // Whether to replace the entire state with the given inventory
	devices []graph.Device    // Device inventory to seed the state with
	links   []graph.Link      // Link inventory to seed the state with
	reasons []topology.Reason // Discovery events to apply on top of the state
	result  chan error        // Result of the topology submission (nil = don't care)
}

// Supplier tracks the discovered network inventory and, whenever it changes,
// computes a new topology and submits it to the manager.
type Supplier struct {
	handle  *manager.SupplierHandle // Capability to submit topologies to the manager
	manager *manager.Manager        // Manager to unregister from on teardown

	devices map[graph.DeviceID]graph.Device // Currently known network devices
	links   map[graph.LinkKey]graph.Link    // Currently known network links

	consumer *nsq.Consumer // Discovery event consumer if a broker was attached
	clock    func() int64  // Clock to stamp new topologies with

	feed chan *feedRequest // Channel for requesting discovery events to be applied

	logger log.Logger      // Logger to allow differentiating suppliers if many is embedded
	quit   chan chan error // Termination channel to tear down the supplier
	term   chan struct{}   // Notification channel of termination
}

// New registers a topology supplier with the manager and starts maintaining the
// network state. If a broker is configured, discovery events are consumed from
// it too.
func New(config *Config, mgr *manager.Manager) (*Supplier, error) {
	if config == nil {
		config = new(Config)
	}
	if config.Name == "" {
		return nil, errors.New("supplier name required")
	}
	handle, err := mgr.RegisterSupplier(manager.SupplierID(config.Name))
	if err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New()
	}
	supplier := &Supplier{
		handle:  handle,
		manager: mgr,
		devices: make(map[graph.DeviceID]graph.Device),
		links:   make(map[graph.LinkKey]graph.Link),
		clock:   config.Clock,
		feed:    make(chan *feedRequest),
		logger:  logger,
		quit:    make(chan chan error),
		term:    make(chan struct{}),
	}
	go supplier.maintain()

	if config.Broker != nil {
		if err := supplier.subscribe(config.Broker); err != nil {
			supplier.Close()
			return nil, err
		}
	}
	return supplier, nil
}

// subscribe creates a discovery event consumer on the broker and streams every
// decoded event into the maintenance loop.
func (s *Supplier) subscribe(b *broker.Broker) error {
	consumer, err := b.NewConsumer(DiscoveryTopic)
	if err != nil {
		return err
	}
	consumer.AddHandler(nsq.HandlerFunc(func(msg *nsq.Message) error {
		reason, err := Decode(msg.Body)
		if err != nil {
			// Requeueing would only bounce the same garbage back, drop it
			s.logger.Warn("Dropping invalid discovery event", "id", fmt.Sprintf("%x", msg.ID), "err", err)
			return nil
		}
		select {
		case s.feed <- &feedRequest{reasons: []topology.Reason{reason}}:
		case <-s.term:
		}
		return nil
	}))
	if err := consumer.ConnectToNSQD(b.Addr()); err != nil {
		consumer.Stop()
		return err
	}
	s.consumer = consumer
	return nil
}

// Close terminates the supplier maintenance, disconnects from the broker and
// unregisters from the topology manager.
func (s *Supplier) Close() error {
	// Request the maintenance routine to be torn down
	errc := make(chan error)
	select {
	case s.quit <- errc:
	case <-s.term:
		return nil // already terminated
	}
	err := <-errc
	close(s.term)

	// Stop consuming discovery events, any blocked handler was released above
	if s.consumer != nil {
		s.consumer.Stop()
		<-s.consumer.StopChan
	}
	s.manager.UnregisterSupplier(s.handle.ID())
	return err
}

// Seed replaces the entire known network state with the given inventory and
// submits the resulting topology. The submission carries no reasons, marking it
// as an initial topology.
func (s *Supplier) Seed(devices []graph.Device, links []graph.Link) error {
	return s.request(&feedRequest{seed: true, devices: devices, links: links})
}

// Feed applies the given discovery events onto the known network state and, if
// anything changed, submits the recomputed topology. Events queued up while a
// previous topology was computing are merged into a single recomputation.
func (s *Supplier) Feed(reasons ...topology.Reason) error {
	return s.request(&feedRequest{reasons: reasons})
}

// request hands a feed request over to the maintenance loop and waits for it to
// be processed.
func (s *Supplier) request(req *feedRequest) error {
	req.result = make(chan error, 1)

	select {
	case s.feed <- req:
		return <-req.result
	case <-s.term:
		return ErrClosed
	}
}

// maintain is a background process that integrates discovery events into the
// network state and recomputes the topology whenever it changes.
func (s *Supplier) maintain() {
	var errc chan error
	for errc == nil {
		select {
		case errc = <-s.quit:
			continue

		case req := <-s.feed:
			// Gather up everything queued meanwhile to avoid useless recomputes
			batch := []*feedRequest{req}
		drain:
			for {
				select {
				case req := <-s.feed:
					batch = append(batch, req)
				default:
					break drain
				}
			}
			err := s.process(batch)
			if err != nil {
				s.logger.Warn("Failed to submit topology", "err", err)
			}
			for _, req := range batch {
				if req.result != nil {
					req.result <- err
				}
			}
		}
	}
	errc <- nil
}

// process applies a batch of feed requests onto the network state and submits
// a new topology if the state changed (or was seeded).
func (s *Supplier) process(batch []*feedRequest) error {
	var (
		seeded  bool
		reasons []topology.Reason
	)
	for _, req := range batch {
		if req.seed {
			s.devices = make(map[graph.DeviceID]graph.Device, len(req.devices))
			for _, device := range req.devices {
				s.devices[device.ID] = device
			}
			s.links = make(map[graph.LinkKey]graph.Link, len(req.links))
			for _, link := range req.links {
				s.links[link.Key()] = link
			}
			seeded = true
		}
		for _, reason := range req.reasons {
			if s.apply(reason) {
				reasons = append(reasons, reason)
			}
		}
	}
	if !seeded && len(reasons) == 0 {
		s.logger.Debug("Discovery events left topology unchanged", "batch", len(batch))
		return nil
	}
	return s.rebuild(reasons)
}

// apply integrates a single discovery event into the network state, returning
// whether it changed anything.
func (s *Supplier) apply(reason topology.Reason) bool {
	switch r := reason.(type) {
	case topology.DeviceAdded:
		if _, ok := s.devices[r.Device.ID]; ok {
			return false
		}
		s.devices[r.Device.ID] = r.Device
		return true

	case topology.DeviceRemoved:
		_, changed := s.devices[r.Device.ID]
		delete(s.devices, r.Device.ID)

		// Links cannot outlive their endpoints
		for key := range s.links {
			if key.Src.Device == r.Device.ID || key.Dst.Device == r.Device.ID {
				delete(s.links, key)
				changed = true
			}
		}
		return changed

	case topology.LinkAdded:
		old, ok := s.links[r.Link.Key()]
		s.links[r.Link.Key()] = r.Link
		return !ok || old.Type != r.Link.Type

	case topology.LinkRemoved:
		if _, ok := s.links[r.Link.Key()]; !ok {
			return false
		}
		delete(s.links, r.Link.Key())
		return true

	default:
		s.logger.Warn("Ignoring unknown discovery event", "type", fmt.Sprintf("%T", reason))
		return false
	}
}

// rebuild computes a brand new topology from the current network state and
// submits it to the manager.
func (s *Supplier) rebuild(reasons []topology.Reason) error {
	devices := make([]graph.Device, 0, len(s.devices))
	for _, device := range s.devices {
		devices = append(devices, device)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })

	links := make([]graph.Link, 0, len(s.links))
	for _, link := range s.links {
		links = append(links, link)
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Key().Less(links[j].Key()) })

	builder := topology.NewBuilder(&topology.Config{Clock: s.clock, Logger: s.logger})
	snapshot, err := builder.Build(devices, links)
	if err != nil {
		return err
	}
	view := topology.NewView(snapshot)
	if err := s.handle.Submit(view, reasons); err != nil {
		return err
	}
	s.reportStats(view)
	return nil
}

// reportStats is a debug method to print the freshly computed topology.
func (s *Supplier) reportStats(view *topology.View) {
	buffer := new(bytes.Buffer)
	topology.Report(buffer, view)

	s.logger.Debug("Recomputed network topology\n\n" + buffer.String())
}
