package engine

import (
	"context"
	"time"
)

// Iterative is an OpMode driven by the engine: Init once, then Loop once
// per quantum after start. The optional InitLooper, Starter and Stopper
// hooks are detected by type assertion.
type Iterative interface {
	// Init runs once while the OpMode is INITIALIZING. Acquire devices here.
	Init(env *Env) error

	// Loop runs once per quantum while RUNNING.
	Loop(env *Env) error
}

// InitLooper is implemented by iterative OpModes that want a hook every
// quantum while waiting for start.
type InitLooper interface {
	InitLoop(env *Env) error
}

// Starter is implemented by iterative OpModes with a one-time start hook.
type Starter interface {
	Start(env *Env) error
}

// Stopper is implemented by iterative OpModes that want a hook after the
// last cycle. It runs before the engine's safe stop and is only called if
// Init succeeded.
type Stopper interface {
	Stop(env *Env) error
}

// Linear is an OpMode that runs a single routine. The routine must block
// only at the suspension points of LinearContext, where stop requests are
// observed.
type Linear interface {
	RunOpMode(lc *LinearContext) error
}

// LinearFunc adapts a function to Linear.
type LinearFunc func(lc *LinearContext) error

// RunOpMode implements Linear.
func (f LinearFunc) RunOpMode(lc *LinearContext) error { return f(lc) }

// Hooks adapts a set of functions to Iterative and every optional hook
// interface. Nil functions are skipped.
type Hooks struct {
	OnInit     func(env *Env) error
	OnInitLoop func(env *Env) error
	OnStart    func(env *Env) error
	OnLoop     func(env *Env) error
	OnStop     func(env *Env) error
}

func (h *Hooks) Init(env *Env) error     { return callHook(h.OnInit, env) }
func (h *Hooks) InitLoop(env *Env) error { return callHook(h.OnInitLoop, env) }
func (h *Hooks) Start(env *Env) error    { return callHook(h.OnStart, env) }
func (h *Hooks) Loop(env *Env) error     { return callHook(h.OnLoop, env) }
func (h *Hooks) Stop(env *Env) error     { return callHook(h.OnStop, env) }

func callHook(fn func(*Env) error, env *Env) error {
	if fn == nil {
		return nil
	}
	return fn(env)
}

// Journal persists the lifecycle of each activation. Calls are made from
// the engine's driver goroutine; a failing journal is logged and never
// affects the OpMode.
type Journal interface {
	RunStarted(ctx context.Context, rec RunRecord) error
	Transition(ctx context.Context, runID string, from, to State, at time.Time) error
	RunFinished(ctx context.Context, rec RunRecord) error
}
