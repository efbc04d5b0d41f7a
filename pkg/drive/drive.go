// Package drive mixes controller input into drivetrain motor powers.
//
// Every mixer returns powers in [-1, 1] with forward positive. Gamepads
// report a stick pushed forward as negative Y, so the mixers negate Y.
package drive

import (
	"errors"
	"fmt"

	"github.com/robocore/robocore/pkg/hardware"
	"github.com/robocore/robocore/pkg/input"
)

// Mode names a mixing strategy.
type Mode string

const (
	ModeTank Mode = "tank"
	ModePOV  Mode = "pov"
)

// Validate checks if the mode is known.
func (m Mode) Validate() error {
	switch m {
	case ModeTank, ModePOV:
		return nil
	default:
		return fmt.Errorf("unsupported drive mode %q (want tank or pov)", m)
	}
}

// Powers is a left/right power pair.
type Powers struct {
	Left  float64
	Right float64
}

// Tank drives each side from its own stick, negated.
func Tank(leftStickY, rightStickY float64) Powers {
	return Powers{Left: -leftStickY, Right: -rightStickY}
}

// POV combines a forward and a turn component. Out-of-range sums are
// clamped, not rescaled.
func POV(forward, turn float64) Powers {
	return Powers{
		Left:  hardware.Clamp(forward+turn, -1, 1),
		Right: hardware.Clamp(forward-turn, -1, 1),
	}
}

// TankFromGamepad applies Tank to the two vertical stick axes.
func TankFromGamepad(g input.Gamepad) Powers {
	return Tank(g.LeftStickY, g.RightStickY)
}

// POVFromGamepad takes forward from the left stick and turn from the
// right stick.
func POVFromGamepad(g input.Gamepad) Powers {
	return POV(-g.LeftStickY, g.RightStickX)
}

// FromGamepad mixes with the given mode.
func FromGamepad(mode Mode, g input.Gamepad) (Powers, error) {
	switch mode {
	case ModeTank:
		return TankFromGamepad(g), nil
	case ModePOV:
		return POVFromGamepad(g), nil
	default:
		return Powers{}, mode.Validate()
	}
}

// ServoFromAxis remaps a [-1, 1] axis onto the [0, 1] servo range.
func ServoFromAxis(x float64) float64 {
	return hardware.Clamp((x+1)/2, 0, 1)
}

// Apply writes p to the motors. Both writes are attempted.
func Apply(p Powers, left, right hardware.Motor) error {
	return errors.Join(left.SetPower(p.Left), right.SetPower(p.Right))
}
