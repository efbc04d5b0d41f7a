package hardware

import (
	"fmt"
)

// Capability identifies what a device can do.
type Capability string

const (
	// CapabilityMotor is a DC motor with an optional quadrature encoder.
	CapabilityMotor Capability = "motor"

	// CapabilityServo is a positional servo commanded in [0, 1].
	CapabilityServo Capability = "servo"

	// CapabilitySensor is a digital or analog input.
	CapabilitySensor Capability = "sensor"
)

// Validate checks if the capability is known.
func (c Capability) Validate() error {
	switch c {
	case CapabilityMotor, CapabilityServo, CapabilitySensor:
		return nil
	default:
		return fmt.Errorf("invalid capability: %s", c)
	}
}

// Direction is the polarity applied to motor power and encoder counts.
type Direction string

const (
	DirectionForward Direction = "forward"
	DirectionReverse Direction = "reverse"
)

// Sign returns +1 for forward and -1 for reverse.
func (d Direction) Sign() int {
	if d == DirectionReverse {
		return -1
	}
	return 1
}

// Validate checks if the direction is known.
func (d Direction) Validate() error {
	switch d {
	case DirectionForward, DirectionReverse:
		return nil
	default:
		return fmt.Errorf("invalid direction: %s", d)
	}
}

// RunMode selects how a motor interprets its commands.
type RunMode string

const (
	// RunModeFree applies raw power with no encoder feedback.
	RunModeFree RunMode = "free"

	// RunModeUsingEncoder applies power while tracking encoder counts.
	RunModeUsingEncoder RunMode = "using_encoder"

	// RunModeToPosition closes a position loop inside the device toward the
	// target position, using the commanded power as a magnitude limit.
	RunModeToPosition RunMode = "run_to_position"
)

// Validate checks if the run mode is known.
func (m RunMode) Validate() error {
	switch m {
	case RunModeFree, RunModeUsingEncoder, RunModeToPosition:
		return nil
	default:
		return fmt.Errorf("invalid run mode: %s", m)
	}
}

// SafeMode returns the mode a motor is reset to when its OpMode stops.
func (m RunMode) SafeMode() RunMode {
	if m == RunModeToPosition {
		return RunModeUsingEncoder
	}
	return m
}

// Device is the common surface of every hardware unit.
type Device interface {
	// Name is the operator-assigned configuration name.
	Name() string

	// Capability reports the device kind.
	Capability() Capability
}

// Motor is a DC motor with an encoder.
//
// Power is in [-1, 1]; positive is forward after Direction is applied. In
// RunModeToPosition the sign of power is ignored and the device supplies
// it while driving toward TargetPosition.
type Motor interface {
	Device

	SetDirection(d Direction) error
	Direction() Direction

	SetMode(m RunMode) error
	Mode() RunMode

	SetPower(p float64) error
	Power() float64

	// CurrentPosition returns the encoder count in ticks.
	CurrentPosition() (int, error)

	SetTargetPosition(ticks int) error
	TargetPosition() int

	// IsBusy reports whether a run-to-position move is still in progress.
	IsBusy() (bool, error)

	// ResetEncoder zeroes the encoder count.
	ResetEncoder() error
}

// Servo is a positional servo.
type Servo interface {
	Device

	// SetPosition commands a position in [0, 1].
	SetPosition(pos float64) error
	Position() float64
}

// Sensor is a digital or analog input channel.
type Sensor interface {
	Device

	// Value returns the analog reading, or 0/1 for digital channels.
	Value() (float64, error)

	// State returns true when the reading is above the channel threshold.
	State() (bool, error)
}

// Clamp bounds x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
