package hardware

import (
	"errors"
	"fmt"
)

// ErrReleased is returned by a handle whose OpMode has stopped.
var ErrReleased = errors.New("device handle released")

// NotFoundError reports a name that is missing from the configuration or
// that resolves to a device of another capability.
type NotFoundError struct {
	Name string
	Want Capability
	Got  Capability
}

func (e *NotFoundError) Error() string {
	if e.Got != "" {
		return fmt.Sprintf("device %q is a %s, not a %s", e.Name, e.Got, e.Want)
	}
	return fmt.Sprintf("no %s named %q in the robot configuration", e.Want, e.Name)
}

// InUseError reports a device already leased by another OpMode.
type InUseError struct {
	Name  string
	Owner string
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("device %q is owned by %s", e.Name, e.Owner)
}

// RangeError reports a command outside the device's accepted range.
type RangeError struct {
	Device string
	What   string
	Value  float64
	Min    float64
	Max    float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s %s %.3f out of range [%g, %g]", e.Device, e.What, e.Value, e.Min, e.Max)
}

// IsConfigurationError returns true for lookup and ownership failures.
func IsConfigurationError(err error) bool {
	var nf *NotFoundError
	var iu *InUseError
	return errors.As(err, &nf) || errors.As(err, &iu)
}
