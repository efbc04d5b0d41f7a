package hardware

import (
	"fmt"
	"sort"
	"sync"
)

// Registry resolves configuration names to devices.
type Registry interface {
	// Lookup returns the device configured under name.
	Lookup(name string) (Device, error)

	// Names lists every configured device name.
	Names() []string
}

// Map is an in-memory Registry populated from a robot configuration.
type Map struct {
	mu      sync.RWMutex
	devices map[string]Device
}

// NewMap creates an empty registry.
func NewMap() *Map {
	return &Map{devices: make(map[string]Device)}
}

// Add registers a device under its own name.
func (m *Map) Add(d Device) error {
	if d == nil {
		return fmt.Errorf("device is nil")
	}
	if err := d.Capability().Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[d.Name()]; exists {
		return fmt.Errorf("duplicate device name %q", d.Name())
	}
	m.devices[d.Name()] = d
	return nil
}

// Lookup implements Registry.
func (m *Map) Lookup(name string) (Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devices[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return d, nil
}

// Names implements Registry.
func (m *Map) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.devices))
	for name := range m.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Pool arbitrates exclusive ownership of registry devices between OpMode
// sessions. A device claimed by one session cannot be acquired by another
// until the first session is closed.
type Pool struct {
	reg Registry

	mu     sync.Mutex
	owners map[string]string
}

// NewPool wraps a registry with ownership tracking.
func NewPool(reg Registry) *Pool {
	return &Pool{
		reg:    reg,
		owners: make(map[string]string),
	}
}

// Registry returns the underlying registry.
func (p *Pool) Registry() Registry {
	return p.reg
}

// Open starts a session owned by owner, normally an OpMode run ID.
func (p *Pool) Open(owner string) *Session {
	return &Session{
		pool:   p,
		owner:  owner,
		leases: make(map[string]lease),
	}
}

// Owner reports who holds name, if anyone.
func (p *Pool) Owner(name string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	owner, ok := p.owners[name]
	return owner, ok
}

func (p *Pool) claim(name string, want Capability, owner string) (Device, error) {
	d, err := p.reg.Lookup(name)
	if err != nil {
		return nil, &NotFoundError{Name: name, Want: want}
	}
	if d.Capability() != want {
		return nil, &NotFoundError{Name: name, Want: want, Got: d.Capability()}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if current, held := p.owners[name]; held && current != owner {
		return nil, &InUseError{Name: name, Owner: current}
	}
	p.owners[name] = owner
	return d, nil
}

func (p *Pool) release(name, owner string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.owners[name] == owner {
		delete(p.owners, name)
	}
}
