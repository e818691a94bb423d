package rtc

import (
	"sync"

	"github.com/google/uuid"
)

// Registry tracks the browser devices known to this process.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*Device
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*Device)}
}

// Create registers a new, unconnected device. The device is forgotten once its
// browser connection ends.
func (r *Registry) Create() *Device {
	d := NewDevice(uuid.NewString())
	d.onDetach = func() { r.Remove(d.ID) }
	r.mu.Lock()
	r.devices[d.ID] = d
	r.mu.Unlock()
	return d
}

// Get looks up a device by id.
func (r *Registry) Get(id string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	return d, ok
}

// Remove forgets a device.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.devices, id)
	r.mu.Unlock()
}
