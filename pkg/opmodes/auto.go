package opmodes

import (
	"fmt"

	"github.com/robocore/robocore/pkg/engine"
	"github.com/robocore/robocore/pkg/motion"
)

// TimedAuto drives forward, pivots and drives forward again, one
// Settings.Leg each. There is no feedback: distance depends on battery and
// floor.
func TimedAuto(s Settings) engine.Linear {
	legs := []motion.Request{
		motion.Timed(s.Leg, 1.0),
		motion.Timed(s.Leg, -0.5, 0.5),
		motion.Timed(s.Leg, 1.0),
	}
	return engine.LinearFunc(func(lc *engine.LinearContext) error {
		ctrl, err := lc.Motion(s.Left, s.Right)
		if err != nil {
			return err
		}
		if err := ready(lc); err != nil {
			return err
		}
		if err := lc.WaitForStart(); err != nil {
			return err
		}

		for i, leg := range legs {
			lc.Telemetry.AddRow("leg", fmt.Sprintf("%d/%d", i+1, len(legs)))
			lc.Telemetry.AddRow("request", leg.String())
			if err := lc.Telemetry.Flush(); err != nil {
				return err
			}
			if err := lc.Move(ctrl, leg); err != nil {
				return err
			}
		}
		return report(lc, ctrl, "done")
	})
}

// EncoderAuto drives Settings.Distance by watching the encoders.
func EncoderAuto(s Settings) engine.Linear {
	return engine.LinearFunc(func(lc *engine.LinearContext) error {
		ctrl, err := lc.Motion(s.Left, s.Right)
		if err != nil {
			return err
		}
		if err := ready(lc); err != nil {
			return err
		}
		if err := lc.WaitForStart(); err != nil {
			return err
		}

		req := motion.Threshold(s.Ticks(s.Distance), s.Power).WithTolerance(s.Tolerance)
		if err := lc.Move(ctrl, req); err != nil {
			return err
		}
		return report(lc, ctrl, "done")
	})
}

// PIDAuto hands Settings.Distance to the motors' run-to-position loop,
// then pivots by turning the wheels a quarter of that in opposite
// directions.
func PIDAuto(s Settings) engine.Linear {
	return engine.LinearFunc(func(lc *engine.LinearContext) error {
		ctrl, err := lc.Motion(s.Left, s.Right)
		if err != nil {
			return err
		}
		if err := ready(lc); err != nil {
			return err
		}
		if err := lc.WaitForStart(); err != nil {
			return err
		}

		ticks := s.Ticks(s.Distance)
		if err := lc.Move(ctrl, motion.ToPosition(ticks, s.Power)); err != nil {
			return err
		}
		if err := report(lc, ctrl, "forward"); err != nil {
			return err
		}
		pivot := motion.ToPosition(ticks/4, s.Power).WithReverse(false, true)
		if err := lc.Move(ctrl, pivot); err != nil {
			return err
		}
		return report(lc, ctrl, "done")
	})
}

// StepAuto is EncoderAuto written as an iterative OpMode: the request is
// begun at start and advanced one poll per Loop.
type StepAuto struct {
	settings Settings
	ctrl     *motion.Controller
	finished bool
}

// NewStepAuto creates a StepAuto.
func NewStepAuto(s Settings) *StepAuto {
	return &StepAuto{settings: s}
}

// Init acquires the drive motors.
func (a *StepAuto) Init(env *engine.Env) error {
	ctrl, err := env.Motion(a.settings.Left, a.settings.Right)
	if err != nil {
		return err
	}
	a.ctrl = ctrl
	env.Telemetry.AddRow("status", "ready")
	return env.Telemetry.Flush()
}

// Start begins the drive.
func (a *StepAuto) Start(env *engine.Env) error {
	req := motion.Threshold(a.settings.Ticks(a.settings.Distance), a.settings.Power).
		WithTolerance(a.settings.Tolerance)
	return a.ctrl.Begin(env.Context(), req)
}

// Loop polls the drive until it completes, then idles.
func (a *StepAuto) Loop(env *engine.Env) error {
	if a.finished {
		return nil
	}
	done, err := a.ctrl.Step()
	if err != nil {
		return err
	}
	env.Telemetry.AddRow("motion", string(a.ctrl.State()))
	if done {
		a.finished = true
		env.Logger.Infof("drive finished after %s", env.Runtime())
	}
	return env.Telemetry.Flush()
}

// Finished reports whether the drive has completed.
func (a *StepAuto) Finished() bool { return a.finished }

// ready publishes the pre-start status line.
func ready(lc *engine.LinearContext) error {
	lc.Telemetry.AddRow("status", "ready")
	return lc.Telemetry.Flush()
}

// report publishes status and the motion controller's state.
func report(lc *engine.LinearContext, ctrl *motion.Controller, status string) error {
	lc.Telemetry.AddRow("status", status)
	lc.Telemetry.AddRow("motion", string(ctrl.State()))
	return lc.Telemetry.Flush()
}

var (
	_ engine.Iterative = (*StepAuto)(nil)
	_ engine.Starter   = (*StepAuto)(nil)
)
