package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robocore/robocore/pkg/hardware"
	"github.com/robocore/robocore/pkg/input"
	"github.com/robocore/robocore/pkg/motion"
	"github.com/robocore/robocore/pkg/telemetry"
)

// Env is everything an OpMode may touch. The engine builds a fresh Env for
// each activation; nothing in it is valid after the OpMode stops.
type Env struct {
	// RunID identifies this activation in logs, traces and the journal.
	RunID string

	// OpMode describes the running OpMode.
	OpMode Descriptor

	// Hardware hands out devices owned by this activation.
	Hardware *hardware.Session

	// Telemetry is the driver-station display.
	Telemetry telemetry.Sink

	// Logger is scoped to this run.
	Logger *telemetry.Logger

	run  *run
	snap input.Snapshot

	mu          sync.Mutex
	controllers []*motion.Controller
}

// Input returns the controller state captured at the start of this cycle.
func (e *Env) Input() input.Snapshot { return e.snap }

// Gamepad1 returns the first controller.
func (e *Env) Gamepad1() input.Gamepad { return e.snap.Gamepad1 }

// Gamepad2 returns the second controller.
func (e *Env) Gamepad2() input.Gamepad { return e.snap.Gamepad2 }

// Motor acquires a motor by name.
func (e *Env) Motor(name string) (hardware.Motor, error) { return e.Hardware.Motor(name) }

// Servo acquires a servo by name.
func (e *Env) Servo(name string) (hardware.Servo, error) { return e.Hardware.Servo(name) }

// Sensor acquires a sensor by name.
func (e *Env) Sensor(name string) (hardware.Sensor, error) { return e.Hardware.Sensor(name) }

// Motion acquires the named motors and returns a controller over them.
// The controller is cancelled by the engine before the safe stop.
func (e *Env) Motion(motors ...string) (*motion.Controller, error) {
	handles := make([]hardware.Motor, 0, len(motors))
	for _, name := range motors {
		m, err := e.Hardware.Motor(name)
		if err != nil {
			return nil, err
		}
		handles = append(handles, m)
	}

	eng := e.run.engine
	ctrl := motion.New(handles,
		motion.WithGuard(eng.guard),
		motion.WithTelemetry(eng.tel),
		motion.WithQuantum(eng.quantum),
		motion.WithOwner(e.OpMode.Name, func() string { return string(e.run.State()) }),
	)

	e.mu.Lock()
	e.controllers = append(e.controllers, ctrl)
	e.mu.Unlock()
	return ctrl, nil
}

// State returns the lifecycle state.
func (e *Env) State() State { return e.run.State() }

// Runtime is the time since the OpMode was initialized.
func (e *Env) Runtime() time.Duration { return time.Since(e.run.started) }

// Quantum is the scheduling cycle length.
func (e *Env) Quantum() time.Duration { return e.run.engine.quantum }

// Context is cancelled with ErrStopRequested when the OpMode is asked to
// stop. Pass it to motion requests started with Begin.
func (e *Env) Context() context.Context { return e.run.stopCtx }

func (e *Env) refresh() {
	e.snap = e.run.engine.source.Snapshot()
}

func (e *Env) cancelMotion() error {
	e.mu.Lock()
	ctrls := append([]*motion.Controller(nil), e.controllers...)
	e.mu.Unlock()

	var errs []error
	for _, c := range ctrls {
		if err := c.Cancel(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LinearContext is handed to a linear routine. Its blocking methods are
// the suspension points: each refreshes input, applies pending lifecycle
// signals and returns ErrStopRequested once a stop has been requested.
//
// The first suspension point ends INITIALIZING, so setup code placed
// before WaitForStart runs as the init hook.
type LinearContext struct {
	*Env
}

// WaitForStart blocks until start is signalled. It returns
// ErrStopRequested if stop arrives first, including when both are
// pending.
func (lc *LinearContext) WaitForStart() error {
	if err := lc.checkpoint(); err != nil {
		return err
	}
	select {
	case <-lc.run.stopCtx.Done():
		return context.Cause(lc.run.stopCtx)
	case <-lc.run.startCh:
	}
	return lc.checkpoint()
}

// Sleep blocks for d or until stop.
func (lc *LinearContext) Sleep(d time.Duration) error {
	if err := lc.checkpoint(); err != nil {
		return err
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-lc.run.stopCtx.Done():
		return context.Cause(lc.run.stopCtx)
	case <-timer.C:
	}
	return lc.checkpoint()
}

// Idle yields for one quantum. Busy loops call it once per iteration.
func (lc *LinearContext) Idle() error {
	return lc.Sleep(lc.run.engine.quantum)
}

// IsActive reports whether the OpMode has started and no stop has been
// requested. It does not block, so loops polling it should also Idle.
func (lc *LinearContext) IsActive() bool {
	if lc.checkpoint() != nil {
		return false
	}
	return lc.run.State() == StateRunning
}

// InInit reports whether the OpMode is still waiting for start.
func (lc *LinearContext) InInit() bool {
	if lc.checkpoint() != nil {
		return false
	}
	return lc.run.State() == StateInitIdle
}

// IsStopRequested reports whether stop has been signalled.
func (lc *LinearContext) IsStopRequested() bool {
	return lc.run.stopCtx.Err() != nil
}

// Move runs req on ctrl until it completes or the OpMode is stopped. A
// stop cancels the request, leaving the motors at zero power, and returns
// ErrStopRequested.
func (lc *LinearContext) Move(ctrl *motion.Controller, req motion.Request) error {
	if err := lc.checkpoint(); err != nil {
		return err
	}
	if err := ctrl.Run(lc.run.stopCtx, req); err != nil {
		return err
	}
	return lc.checkpoint()
}

func (lc *LinearContext) checkpoint() error {
	lc.refresh()
	return lc.run.advance()
}
