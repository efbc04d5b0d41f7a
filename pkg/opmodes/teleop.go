package opmodes

import (
	"errors"

	"github.com/robocore/robocore/pkg/drive"
	"github.com/robocore/robocore/pkg/engine"
	"github.com/robocore/robocore/pkg/hardware"
)

// precisionScale is applied while the left bumper is held.
const precisionScale = 0.5

// TeleOp drives the drivetrain from gamepad 1.
type TeleOp struct {
	settings Settings
	mode     drive.Mode

	left  hardware.Motor
	right hardware.Motor
}

// NewTeleOp creates a teleop OpMode mixing with mode.
func NewTeleOp(s Settings, mode drive.Mode) *TeleOp {
	return &TeleOp{settings: s, mode: mode}
}

// Init acquires the drive motors.
func (t *TeleOp) Init(env *engine.Env) error {
	if err := t.mode.Validate(); err != nil {
		return err
	}
	var err error
	if t.left, err = env.Motor(t.settings.Left); err != nil {
		return err
	}
	if t.right, err = env.Motor(t.settings.Right); err != nil {
		return err
	}
	env.Telemetry.AddRow("status", "initialized")
	env.Telemetry.AddRow("mode", string(t.mode))
	return env.Telemetry.Flush()
}

// Start zeroes the encoders so telemetry reports distance from the start line.
func (t *TeleOp) Start(env *engine.Env) error {
	env.Logger.Infof("%s drive on %s/%s", t.mode, t.settings.Left, t.settings.Right)
	return errors.Join(t.left.ResetEncoder(), t.right.ResetEncoder())
}

// Loop mixes the current gamepad 1 state onto the motors.
func (t *TeleOp) Loop(env *engine.Env) error {
	pad := env.Gamepad1()
	p, err := drive.FromGamepad(t.mode, pad)
	if err != nil {
		return err
	}
	if pad.LeftBumper {
		p.Left *= precisionScale
		p.Right *= precisionScale
	}
	if err := drive.Apply(p, t.left, t.right); err != nil {
		return err
	}

	env.Telemetry.AddRow("left", p.Left)
	env.Telemetry.AddRow("right", p.Right)
	if pos, err := t.left.CurrentPosition(); err == nil {
		env.Telemetry.AddRow("left_ticks", pos)
	}
	if pos, err := t.right.CurrentPosition(); err == nil {
		env.Telemetry.AddRow("right_ticks", pos)
	}
	return env.Telemetry.Flush()
}

// Stop reports the end of the session; the engine zeroes the motors.
func (t *TeleOp) Stop(env *engine.Env) error {
	env.Telemetry.AddRow("status", "stopped")
	return env.Telemetry.Flush()
}

var (
	_ engine.Iterative = (*TeleOp)(nil)
	_ engine.Starter   = (*TeleOp)(nil)
	_ engine.Stopper   = (*TeleOp)(nil)
)
