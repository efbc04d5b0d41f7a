// Package opmodes holds the OpModes that ship with robo: gamepad teleop in
// tank and POV mixing, and one autonomous routine per motion strategy.
//
// Every OpMode here drives a two-motor differential drivetrain named by
// Settings, so the same catalog works on the simulator and on a serial hub.
package opmodes

import (
	"fmt"
	"math"
	"time"

	"github.com/robocore/robocore/pkg/config"
	"github.com/robocore/robocore/pkg/drive"
	"github.com/robocore/robocore/pkg/engine"
)

// Groups shown on the driver station.
const (
	GroupTeleOp     = "teleop"
	GroupAutonomous = "autonomous"
)

// Settings configures the built-in OpModes.
type Settings struct {
	// Left and Right name the drive motors.
	Left  string
	Right string

	// Mode is the mixer used by DriveTeleOp.
	Mode drive.Mode

	// TicksPerInch converts Distance to encoder ticks.
	TicksPerInch float64

	// Distance is how far the encoder routines drive, in inches.
	Distance float64

	// Leg is the length of each TimedAuto window.
	Leg time.Duration

	// Power is the cruise power of the autonomous routines.
	Power float64

	// Tolerance is the threshold dead band in ticks.
	Tolerance int
}

// DefaultSettings matches the sample robot written by robo init.
func DefaultSettings() Settings {
	return Settings{
		Left:         "left_drive",
		Right:        "right_drive",
		Mode:         drive.ModeTank,
		TicksPerInch: 45.3,
		Distance:     24,
		Leg:          500 * time.Millisecond,
		Power:        0.5,
		Tolerance:    10,
	}
}

// FromConfig takes the drivetrain section of cfg over the defaults.
func FromConfig(cfg *config.RobotConfig) Settings {
	s := DefaultSettings()
	if cfg == nil || cfg.Drivetrain == nil {
		return s
	}
	dt := cfg.Drivetrain
	s.Left, s.Right = dt.Left, dt.Right
	if dt.Mode != "" {
		s.Mode = drive.Mode(dt.Mode)
	}
	if dt.TicksPerInch > 0 {
		s.TicksPerInch = dt.TicksPerInch
	}
	return s
}

// Ticks converts a distance in inches to encoder ticks.
func (s Settings) Ticks(inches float64) int {
	return int(math.Round(inches * s.TicksPerInch))
}

// Validate checks the settings can drive a robot.
func (s Settings) Validate() error {
	switch {
	case s.Left == "" || s.Right == "":
		return fmt.Errorf("drivetrain motors must be named")
	case s.Left == s.Right:
		return fmt.Errorf("drivetrain left and right are both %q", s.Left)
	case s.TicksPerInch <= 0:
		return fmt.Errorf("ticks per inch must be positive, got %v", s.TicksPerInch)
	case s.Power <= 0 || s.Power > 1:
		return fmt.Errorf("autonomous power must be in (0, 1], got %v", s.Power)
	case s.Leg <= 0:
		return fmt.Errorf("timed leg must be positive, got %s", s.Leg)
	}
	return s.Mode.Validate()
}

// Register adds every built-in OpMode to catalog.
func Register(catalog *engine.Catalog, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	iterative := []struct {
		desc    engine.Descriptor
		factory func() engine.Iterative
	}{
		{
			desc:    engine.Descriptor{Name: "DriveTeleOp", Group: GroupTeleOp, Description: fmt.Sprintf("gamepad 1 drives with %s mixing", s.Mode)},
			factory: func() engine.Iterative { return NewTeleOp(s, s.Mode) },
		},
		{
			desc:    engine.Descriptor{Name: "TankTeleOp", Group: GroupTeleOp, Description: "gamepad 1 sticks drive each side"},
			factory: func() engine.Iterative { return NewTeleOp(s, drive.ModeTank) },
		},
		{
			desc:    engine.Descriptor{Name: "POVTeleOp", Group: GroupTeleOp, Description: "left stick drives, right stick turns"},
			factory: func() engine.Iterative { return NewTeleOp(s, drive.ModePOV) },
		},
		{
			desc:    engine.Descriptor{Name: "StepAuto", Group: GroupAutonomous, Description: "drive a distance by polling the encoders each cycle"},
			factory: func() engine.Iterative { return NewStepAuto(s) },
		},
	}
	for _, op := range iterative {
		op.desc.Source = "builtin"
		if err := catalog.RegisterIterative(op.desc, op.factory); err != nil {
			return err
		}
	}

	linear := []struct {
		desc    engine.Descriptor
		factory func() engine.Linear
	}{
		{
			desc:    engine.Descriptor{Name: "TimedAuto", Group: GroupAutonomous, Description: "forward, pivot, forward on timers"},
			factory: func() engine.Linear { return TimedAuto(s) },
		},
		{
			desc:    engine.Descriptor{Name: "EncoderAuto", Group: GroupAutonomous, Description: "drive a distance measured on the encoders"},
			factory: func() engine.Linear { return EncoderAuto(s) },
		},
		{
			desc:    engine.Descriptor{Name: "PIDAuto", Group: GroupAutonomous, Description: "run-to-position forward, then pivot in place"},
			factory: func() engine.Linear { return PIDAuto(s) },
		},
	}
	for _, op := range linear {
		op.desc.Source = "builtin"
		if err := catalog.RegisterLinear(op.desc, op.factory); err != nil {
			return err
		}
	}
	return nil
}
