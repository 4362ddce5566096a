package setup

import (
	"fmt"
	"sort"
	"sync"

	"github.com/zendure-tools/zendure-poller/internal/config"
	"github.com/zendure-tools/zendure-poller/internal/coordinator"
	"github.com/zendure-tools/zendure-poller/internal/discovery"
)

// Device is one loaded entry
type Device struct {
	ID          string
	Entry       config.Entry
	Endpoint    *discovery.Endpoint
	Coordinator *coordinator.Coordinator
}

// Title returns the display title of the entry
func (d *Device) Title() string {
	return d.Entry.Title()
}

// Registry maps entry ids to loaded devices
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*Device)}
}

// Register adds d under d.ID. An id can only be registered once.
func (r *Registry) Register(d *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[d.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, d.ID)
	}
	r.devices[d.ID] = d
	return nil
}

// Get returns the device registered under id
func (r *Registry) Get(id string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

// Has reports whether id is registered
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Remove unregisters id and returns the device that was registered
func (r *Registry) Remove(id string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if ok {
		delete(r.devices, id)
	}
	return d, ok
}

// IDs returns the registered ids in sorted order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered devices
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// drain removes and returns every device
func (r *Registry) drain() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Device, 0, len(r.devices))
	for id, d := range r.devices {
		out = append(out, d)
		delete(r.devices, id)
	}
	return out
}
