// Package input models the human-interface state read by OpModes: two
// game controllers sampled once per control cycle.
package input

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Gamepad is one controller. Stick axes are in [-1, 1] with pushed-forward
// reported as negative Y; triggers are in [0, 1].
type Gamepad struct {
	LeftStickX  float64 `json:"left_stick_x" yaml:"left_stick_x" validate:"gte=-1,lte=1"`
	LeftStickY  float64 `json:"left_stick_y" yaml:"left_stick_y" validate:"gte=-1,lte=1"`
	RightStickX float64 `json:"right_stick_x" yaml:"right_stick_x" validate:"gte=-1,lte=1"`
	RightStickY float64 `json:"right_stick_y" yaml:"right_stick_y" validate:"gte=-1,lte=1"`

	LeftTrigger  float64 `json:"left_trigger" yaml:"left_trigger" validate:"gte=0,lte=1"`
	RightTrigger float64 `json:"right_trigger" yaml:"right_trigger" validate:"gte=0,lte=1"`

	A bool `json:"a" yaml:"a"`
	B bool `json:"b" yaml:"b"`
	X bool `json:"x" yaml:"x"`
	Y bool `json:"y" yaml:"y"`

	DpadUp    bool `json:"dpad_up" yaml:"dpad_up"`
	DpadDown  bool `json:"dpad_down" yaml:"dpad_down"`
	DpadLeft  bool `json:"dpad_left" yaml:"dpad_left"`
	DpadRight bool `json:"dpad_right" yaml:"dpad_right"`

	LeftBumper       bool `json:"left_bumper" yaml:"left_bumper"`
	RightBumper      bool `json:"right_bumper" yaml:"right_bumper"`
	LeftStickButton  bool `json:"left_stick_button" yaml:"left_stick_button"`
	RightStickButton bool `json:"right_stick_button" yaml:"right_stick_button"`

	Back  bool `json:"back" yaml:"back"`
	Start bool `json:"start" yaml:"start"`
	Guide bool `json:"guide" yaml:"guide"`
}

// AtRest reports whether no stick or trigger is deflected.
func (g Gamepad) AtRest() bool {
	return g.LeftStickX == 0 && g.LeftStickY == 0 &&
		g.RightStickX == 0 && g.RightStickY == 0 &&
		g.LeftTrigger == 0 && g.RightTrigger == 0
}

// Snapshot is a frozen read of both controllers.
type Snapshot struct {
	Gamepad1 Gamepad `json:"gamepad1" yaml:"gamepad1"`
	Gamepad2 Gamepad `json:"gamepad2" yaml:"gamepad2"`
}

var validate = validator.New()

// Validate checks every axis is inside its documented range.
func (s Snapshot) Validate() error {
	if err := validate.Struct(s); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("input %s = %v out of range (%s=%s)", fe.Namespace(), fe.Value(), fe.Tag(), fe.Param())
		}
		return err
	}
	return nil
}

// Source supplies controller state. Implementations must be safe for
// concurrent use; core components only read from them.
type Source interface {
	Snapshot() Snapshot
}

// Latch is a Source holding the most recent controller state pushed by a
// driver station or console.
type Latch struct {
	mu   sync.RWMutex
	snap Snapshot
	seq  uint64
}

// NewLatch creates a latch with both controllers at rest.
func NewLatch() *Latch {
	return &Latch{}
}

// Snapshot implements Source.
func (l *Latch) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}

// Set replaces the latched state after validating it.
func (l *Latch) Set(s Snapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.snap = s
	l.seq++
	l.mu.Unlock()
	return nil
}

// SetGamepad replaces one controller, 1 or 2.
func (l *Latch) SetGamepad(index int, g Gamepad) error {
	snap := l.Snapshot()
	switch index {
	case 1:
		snap.Gamepad1 = g
	case 2:
		snap.Gamepad2 = g
	default:
		return fmt.Errorf("gamepad index %d: want 1 or 2", index)
	}
	return l.Set(snap)
}

// Updates returns how many times the latch has been set.
func (l *Latch) Updates() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// Static is a Source that always returns the same state.
type Static Snapshot

// Snapshot implements Source.
func (s Static) Snapshot() Snapshot { return Snapshot(s) }
