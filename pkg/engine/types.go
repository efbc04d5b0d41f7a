package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Descriptor identifies a selectable OpMode.
type Descriptor struct {
	// Name is unique within a catalog and is what the operator selects.
	Name string `json:"name" validate:"required,excludesall= /"`

	// Group clusters OpModes on the driver station (teleop, autonomous, test).
	Group string `json:"group" validate:"required"`

	// Variant is filled in by the catalog on registration.
	Variant Variant `json:"variant"`

	Description string `json:"description,omitempty"`

	// Source is where the OpMode came from (builtin or a script path).
	Source string `json:"source,omitempty"`
}

var descriptorValidator = validator.New()

// Validate checks the descriptor fields.
func (d Descriptor) Validate() error {
	if err := descriptorValidator.Struct(d); err != nil {
		return fmt.Errorf("opmode %q: %w", d.Name, err)
	}
	return d.Variant.Validate()
}

type entry struct {
	desc         Descriptor
	newIterative func() Iterative
	newLinear    func() Linear
}

// Catalog holds the OpModes an engine can initialize.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]entry)}
}

// RegisterIterative adds an iterative OpMode. factory is called once per
// activation so no state leaks between runs.
func (c *Catalog) RegisterIterative(desc Descriptor, factory func() Iterative) error {
	desc.Variant = VariantIterative
	return c.add(entry{desc: desc, newIterative: factory})
}

// RegisterLinear adds a linear OpMode.
func (c *Catalog) RegisterLinear(desc Descriptor, factory func() Linear) error {
	desc.Variant = VariantLinear
	return c.add(entry{desc: desc, newLinear: factory})
}

func (c *Catalog) add(e entry) error {
	if err := e.desc.Validate(); err != nil {
		return NewConfigurationError("invalid opmode descriptor", err).WithCode(ErrCodeInvalidOpMode)
	}
	if e.newIterative == nil && e.newLinear == nil {
		return NewConfigurationError("opmode factory is nil", nil).
			WithCode(ErrCodeInvalidOpMode).WithOpMode(e.desc.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[e.desc.Name]; exists {
		return NewConfigurationError("opmode already registered", nil).
			WithCode(ErrCodeDuplicateOpMode).WithOpMode(e.desc.Name)
	}
	c.entries[e.desc.Name] = e
	return nil
}

// Lookup returns the descriptor registered under name.
func (c *Catalog) Lookup(name string) (Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	return e.desc, ok
}

// Descriptors lists every OpMode sorted by group then name.
func (c *Catalog) Descriptors() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Descriptor, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.desc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (c *Catalog) get(name string) (entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	if !ok {
		return entry{}, NewConfigurationError("no such opmode", nil).
			WithCode(ErrCodeOpModeNotFound).WithOpMode(name)
	}
	return e, nil
}

// RunRecord is the journal entry for one activation.
type RunRecord struct {
	ID        string     `json:"id"`
	OpMode    string     `json:"opmode"`
	Variant   Variant    `json:"variant"`
	State     State      `json:"state"`
	Outcome   Outcome    `json:"outcome,omitempty"`
	Error     string     `json:"error,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
}

// Result describes how an activation ended.
type Result struct {
	RunID     string
	OpMode    string
	Variant   Variant
	Outcome   Outcome
	StartedAt time.Time
	StoppedAt time.Time

	// Err is the fault that ended the run, nil for normal stops.
	Err error

	// SafeStopErr reports device writes that failed during the safe stop.
	SafeStopErr error
}

// Duration is the time from init to STOPPED.
func (r Result) Duration() time.Duration {
	return r.StoppedAt.Sub(r.StartedAt)
}

func (r Result) record() RunRecord {
	rec := RunRecord{
		ID:        r.RunID,
		OpMode:    r.OpMode,
		Variant:   r.Variant,
		State:     StateStopped,
		Outcome:   r.Outcome,
		StartedAt: r.StartedAt,
	}
	stopped := r.StoppedAt
	rec.StoppedAt = &stopped
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}
