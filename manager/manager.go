// Package manager is the process wide authority over the currently active network
// topology, accepting new topologies from registered suppliers and notifying any
// interested listeners of the changes.
package manager

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/karalabe/topod/topology"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrNoTopology is returned if the topology is queried before any supplier
	// submitted one. It is a transient condition, callers may retry later.
	ErrNoTopology = errors.New("no topology available")

	// ErrSupplierRegistered is returned if a supplier attempts to register with
	// an identity that already holds a handle.
	ErrSupplierRegistered = errors.New("supplier already registered")

	// ErrUnregisteredSupplier is returned if a submission is attempted through a
	// handle that was revoked.
	ErrUnregisteredSupplier = errors.New("supplier not registered")

	// ErrInvalidListener is returned if a listener cannot be tracked by identity,
	// either because it is nil or because its dynamic type is not comparable.
	ErrInvalidListener = errors.New("invalid topology listener")
)

// SupplierID is the unique identity of a topology supplier.
type SupplierID string

// Event is a topology change notification delivered to listeners.
type Event struct {
	View    *topology.View    // Newly activated topology view
	Reasons []topology.Reason // Discovery events that triggered the change (empty for the initial one)
	Time    time.Time         // Wall clock time the change was accepted
}

// Initial reports whether the event carries the first topology ever accepted
// from a supplier, rather than a reaction to discovery events.
func (e *Event) Initial() bool {
	return len(e.Reasons) == 0
}

// Listener is notified of every accepted topology change. Listeners are tracked
// by identity, so implementations must be comparable (e.g. pointers).
//
// Notifications are delivered synchronously while the manager holds its accept
// lock. A listener may query the topology and add or remove listeners, but it
// must not submit topologies, close the manager or block on a supplier (e.g.
// Supplier.Feed), as those wait for the very notification being delivered. Hand
// such work off to a separate goroutine instead.
type Listener interface {
	OnTopologyChange(event *Event) error
}

// Config is the set of options to fine tune the topology manager.
type Config struct {
	Registerer prometheus.Registerer // Metrics registry to export the manager stats into (nil = don't export)

	Logger log.Logger // Logger to allow differentiating managers if many is embedded
}

// Manager holds the single currently active topology view. Views are immutable,
// so readers always observe either the previous or the next view in full, never
// a partial one; the active reference itself is replaced atomically.
type Manager struct {
	active atomic.Value // Currently active *topology.View (nil until the first accept)
	accept sync.Mutex   // Serializes the accept path and listener dispatch

	suppliers map[SupplierID]*SupplierHandle // Currently registered suppliers
	listeners map[Listener]struct{}          // Currently registered listeners
	lock      sync.RWMutex                   // Protects the supplier and listener sets

	metrics *metrics
	logger  log.Logger
}

// New creates a topology manager with no active topology.
func New(config *Config) *Manager {
	if config == nil {
		config = new(Config)
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New()
	}
	return &Manager{
		suppliers: make(map[SupplierID]*SupplierHandle),
		listeners: make(map[Listener]struct{}),
		metrics:   newMetrics(config.Registerer),
		logger:    logger,
	}
}

// Close tears down the manager, revoking all supplier handles, dropping every
// listener and the active topology.
func (m *Manager) Close() error {
	m.accept.Lock()
	defer m.accept.Unlock()

	m.lock.Lock()
	defer m.lock.Unlock()

	for id, handle := range m.suppliers {
		atomic.StoreUint32(&handle.revoked, 1)
		delete(m.suppliers, id)
	}
	m.listeners = make(map[Listener]struct{})
	m.active.Store((*topology.View)(nil))

	m.metrics.suppliers.Set(0)
	m.metrics.listeners.Set(0)

	m.logger.Info("Topology manager stopped")
	return nil
}

// Topology returns the currently active topology view.
func (m *Manager) Topology() (*topology.View, error) {
	view, _ := m.active.Load().(*topology.View)
	if view == nil {
		return nil, ErrNoTopology
	}
	return view, nil
}

// RegisterSupplier creates a submission handle for a topology supplier. Only one
// handle may exist per supplier identity at any point in time.
func (m *Manager) RegisterSupplier(id SupplierID) (*SupplierHandle, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.suppliers[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSupplierRegistered, id)
	}
	handle := &SupplierHandle{id: id, manager: m}
	m.suppliers[id] = handle
	m.metrics.suppliers.Set(float64(len(m.suppliers)))

	m.logger.Info("Registered topology supplier", "supplier", id)
	return handle, nil
}

// UnregisterSupplier revokes the handle of a topology supplier. Any subsequent
// submission through it will be rejected.
func (m *Manager) UnregisterSupplier(id SupplierID) {
	m.lock.Lock()
	defer m.lock.Unlock()

	handle, ok := m.suppliers[id]
	if !ok {
		return
	}
	atomic.StoreUint32(&handle.revoked, 1)
	delete(m.suppliers, id)
	m.metrics.suppliers.Set(float64(len(m.suppliers)))

	m.logger.Info("Unregistered topology supplier", "supplier", id)
}

// Suppliers returns the identities of all the registered suppliers, sorted.
func (m *Manager) Suppliers() []SupplierID {
	m.lock.RLock()
	defer m.lock.RUnlock()

	ids := make([]SupplierID, 0, len(m.suppliers))
	for id := range m.suppliers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AddListener registers a listener for topology changes. Adding an already
// registered listener replaces the previous registration.
func (m *Manager) AddListener(listener Listener) error {
	if !hashable(listener) {
		return fmt.Errorf("%w: %T", ErrInvalidListener, listener)
	}
	m.lock.Lock()
	defer m.lock.Unlock()

	m.listeners[listener] = struct{}{}
	m.metrics.listeners.Set(float64(len(m.listeners)))
	return nil
}

// RemoveListener unregisters a listener from topology changes.
func (m *Manager) RemoveListener(listener Listener) {
	if !hashable(listener) {
		return // could never have been added
	}
	m.lock.Lock()
	defer m.lock.Unlock()

	delete(m.listeners, listener)
	m.metrics.listeners.Set(float64(len(m.listeners)))
}

// Listeners returns all the currently registered listeners.
func (m *Manager) Listeners() []Listener {
	m.lock.RLock()
	defer m.lock.RUnlock()

	listeners := make([]Listener, 0, len(m.listeners))
	for listener := range m.listeners {
		listeners = append(listeners, listener)
	}
	return listeners
}

// hashable reports whether a listener can be used as a map key.
func hashable(listener Listener) bool {
	return listener != nil && reflect.TypeOf(listener).Comparable()
}

// submit attempts to activate a new topology view on behalf of a supplier. Stale
// views (not strictly newer than the active one) are silently dropped.
func (m *Manager) submit(handle *SupplierHandle, view *topology.View, reasons []topology.Reason) error {
	m.accept.Lock()
	defer m.accept.Unlock()

	if atomic.LoadUint32(&handle.revoked) != 0 {
		m.metrics.submissions.WithLabelValues(outcomeRevoked).Inc()
		return fmt.Errorf("%w: %s", ErrUnregisteredSupplier, handle.id)
	}
	logger := m.logger.New("supplier", handle.id, "time", view.Time())

	if active, _ := m.active.Load().(*topology.View); active != nil && view.Time() <= active.Time() {
		logger.Debug("Dropping stale topology", "active", active.Time())
		m.metrics.submissions.WithLabelValues(outcomeStale).Inc()
		return nil
	}
	m.active.Store(view)

	m.metrics.submissions.WithLabelValues(outcomeAccepted).Inc()
	m.metrics.activeTime.Set(float64(view.Time()))
	m.metrics.activeDevices.Set(float64(view.DeviceCount()))
	m.metrics.activeLinks.Set(float64(view.LinkCount()))
	m.metrics.activeClusters.Set(float64(view.ClusterCount()))

	logger.Info("Activated new topology", "devices", view.DeviceCount(), "links", view.LinkCount(),
		"clusters", view.ClusterCount(), "reasons", len(reasons))

	m.dispatch(&Event{View: view, Reasons: reasons, Time: time.Now()})
	return nil
}

// dispatch synchronously delivers an event to a snapshot of the registered
// listeners. A failing listener does not prevent delivery to the others.
func (m *Manager) dispatch(event *Event) {
	for _, listener := range m.Listeners() {
		if err := notify(listener, event); err != nil {
			m.logger.Warn("Topology listener failed", "listener", fmt.Sprintf("%T", listener), "err", err)
			m.metrics.listenerFailures.Inc()
		}
	}
}

// notify invokes a single listener, converting any panic into an error.
func notify(listener Listener, event *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return listener.OnTopologyChange(event)
}

// SupplierHandle is the capability through which a registered supplier submits
// new topologies to the manager.
type SupplierHandle struct {
	id      SupplierID
	manager *Manager
	revoked uint32 // Atomic flag whether the handle was revoked
}

// ID returns the identity of the supplier owning the handle.
func (h *SupplierHandle) ID() SupplierID {
	return h.id
}

// Submit offers a new topology view to the manager, along with the discovery
// events that triggered its computation. The view is activated only if it's
// strictly newer than the currently active one; stale views are not an error.
func (h *SupplierHandle) Submit(view *topology.View, reasons []topology.Reason) error {
	return h.manager.submit(h, view, reasons)
}
