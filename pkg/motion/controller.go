// Package motion drives groups of motors through timed, encoder-threshold
// and run-to-position moves.
//
// A Controller runs one request at a time. Iterative OpModes call Begin
// once and Step every cycle; linear OpModes call Run, which polls once per
// quantum and returns when the move completes or ctx is cancelled. Every
// exit path leaves the motors at zero power, and run-to-position moves
// always restore using_encoder mode.
package motion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/robocore/robocore/pkg/hardware"
	"github.com/robocore/robocore/pkg/telemetry"
)

// DefaultQuantum is the polling interval used by Run.
const DefaultQuantum = 10 * time.Millisecond

// State is the controller state.
type State string

const (
	StateIdle             State = "idle"
	StateTimedRunning     State = "timed_running"
	StateThresholdRunning State = "threshold_running"
	StatePIDRunning       State = "pid_running"
	StateDone             State = "done"
)

// Active reports whether a request is in progress.
func (s State) Active() bool {
	switch s {
	case StateTimedRunning, StateThresholdRunning, StatePIDRunning:
		return true
	default:
		return false
	}
}

func runningState(k Kind) State {
	switch k {
	case KindTimed:
		return StateTimedRunning
	case KindThreshold:
		return StateThresholdRunning
	default:
		return StatePIDRunning
	}
}

// Intent describes a request about to actuate, for Guard decisions.
type Intent struct {
	OpMode    string        `json:"opmode"`
	Phase     string        `json:"phase"`
	Kind      Kind          `json:"kind"`
	Motors    []string      `json:"motors"`
	Powers    []float64     `json:"powers"`
	TickDelta int           `json:"tick_delta"`
	Duration  time.Duration `json:"duration_ns"`
}

// Guard approves or denies a request before any device is touched.
type Guard interface {
	Allow(ctx context.Context, in Intent) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithGuard installs a safety guard.
func WithGuard(g Guard) Option {
	return func(c *Controller) { c.guard = g }
}

// WithTelemetry reports motions to logs, metrics, traces and events.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(c *Controller) {
		c.tel = tel
		if tel != nil {
			c.logger = tel.Logger.NewComponentLogger("motion")
		}
	}
}

// WithQuantum sets the Run polling interval.
func WithQuantum(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.quantum = d
		}
	}
}

// WithClock replaces time.Now for timed requests driven through Step.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithOwner labels intents with the OpMode name and its current phase.
func WithOwner(opmode string, phase func() string) Option {
	return func(c *Controller) {
		c.opmode = opmode
		c.phase = phase
	}
}

// Controller sequences one motion request at a time over a fixed set of
// motors.
type Controller struct {
	motors  []hardware.Motor
	guard   Guard
	tel     *telemetry.Telemetry
	logger  *telemetry.Logger
	quantum time.Duration
	now     func() time.Time
	opmode  string
	phase   func() string

	mu    sync.Mutex
	state State
	req   Request
	began time.Time
	start []int
	span  trace.Span
}

// New creates a controller over motors.
func New(motors []hardware.Motor, opts ...Option) *Controller {
	c := &Controller{
		motors:  append([]hardware.Motor(nil), motors...),
		logger:  telemetry.NewNopLogger(),
		quantum: DefaultQuantum,
		now:     time.Now,
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Quantum returns the Run polling interval.
func (c *Controller) Quantum() time.Duration {
	return c.quantum
}

// Begin validates req and starts actuating. Invalid requests, requests
// denied by the guard and requests issued while another is active return
// a *CallerError without touching any motor.
func (c *Controller) Begin(ctx context.Context, req Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Active() {
		return &CallerError{Kind: req.kind, Reason: fmt.Sprintf("controller busy with a %s request", c.req.kind)}
	}
	if err := req.Validate(len(c.motors)); err != nil {
		return err
	}
	if c.guard != nil {
		if err := c.guard.Allow(ctx, c.intent(req)); err != nil {
			return &CallerError{Kind: req.kind, Reason: "denied by safety policy", Err: err}
		}
	}

	if c.tel != nil {
		_, c.span = c.tel.Tracer.StartMotionSpan(ctx, string(req.kind), len(c.motors))
	}
	c.req = req
	c.began = c.now()

	var err error
	switch req.kind {
	case KindTimed:
		err = c.beginTimed()
	case KindThreshold:
		err = c.beginThreshold()
	case KindToPosition:
		err = c.beginToPosition()
	}
	if err != nil {
		err = errors.Join(fmt.Errorf("begin %s: %w", req.kind, err), c.halt())
		c.finish(StateIdle, "failed", err)
		return err
	}

	c.state = runningState(req.kind)
	c.logger.Debugf("begin %s", req)
	return nil
}

func (c *Controller) beginTimed() error {
	for i, p := range c.req.Powers(len(c.motors)) {
		if err := c.motors[i].SetPower(p); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) beginThreshold() error {
	c.start = make([]int, len(c.motors))
	for i, m := range c.motors {
		pos, err := m.CurrentPosition()
		if err != nil {
			return err
		}
		c.start[i] = pos
	}
	return c.beginTimed()
}

func (c *Controller) beginToPosition() error {
	c.start = make([]int, len(c.motors))
	for i, m := range c.motors {
		pos, err := m.CurrentPosition()
		if err != nil {
			return err
		}
		c.start[i] = pos
	}
	for i, m := range c.motors {
		delta := c.req.tickDelta
		if c.req.Reversed(i) {
			delta = -delta
		}
		if err := m.SetTargetPosition(c.start[i] + delta); err != nil {
			return err
		}
		if err := m.SetMode(hardware.RunModeToPosition); err != nil {
			return err
		}
		if err := m.SetPower(c.req.Power()); err != nil {
			return err
		}
	}
	return nil
}

// Step advances the active request by one poll. It returns true once the
// request has completed; completion zeroes the motors exactly once and
// later calls keep returning true until the next Begin. A device error
// aborts the request after a best-effort halt.
func (c *Controller) Step() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateDone:
		return true, nil
	case StateIdle:
		return false, &CallerError{Reason: "no motion in progress"}
	}

	done, err := c.poll()
	if err != nil {
		err = errors.Join(fmt.Errorf("%s poll: %w", c.req.kind, err), c.halt())
		c.finish(StateIdle, "failed", err)
		return false, err
	}
	if !done {
		return false, nil
	}

	err = c.halt()
	c.finish(StateDone, "completed", err)
	return true, err
}

func (c *Controller) poll() (bool, error) {
	switch c.state {
	case StateTimedRunning:
		return c.now().Sub(c.began) >= c.req.duration, nil

	case StateThresholdRunning:
		var sum float64
		for i, m := range c.motors {
			pos, err := m.CurrentPosition()
			if err != nil {
				return false, err
			}
			sum += math.Abs(float64(pos - c.start[i]))
		}
		mean := sum / float64(len(c.motors))
		return mean >= float64(c.req.tickDelta-c.req.tolerance), nil

	case StatePIDRunning:
		for _, m := range c.motors {
			busy, err := m.IsBusy()
			if err != nil {
				return false, err
			}
			if busy {
				return false, nil
			}
		}
		return true, nil
	}
	return false, nil
}

// Cancel abandons the active request, zeroing power and restoring
// using_encoder mode. It is a no-op when nothing is active.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Active() {
		return nil
	}
	err := c.halt()
	c.finish(StateIdle, "cancelled", err)
	return err
}

// Run executes req to completion, polling once per quantum. Timed requests
// sleep for their literal duration. When ctx is cancelled the request is
// cancelled and context.Cause(ctx) is returned.
func (c *Controller) Run(ctx context.Context, req Request) error {
	if err := c.Begin(ctx, req); err != nil {
		return err
	}

	if req.kind == KindTimed {
		timer := time.NewTimer(req.duration)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return c.abort(ctx)
		case <-timer.C:
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state != StateTimedRunning {
			return nil
		}
		err := c.halt()
		c.finish(StateDone, "completed", err)
		return err
	}

	ticker := time.NewTicker(c.quantum)
	defer ticker.Stop()
	for {
		done, err := c.Step()
		if err != nil || done {
			return err
		}
		select {
		case <-ctx.Done():
			return c.abort(ctx)
		case <-ticker.C:
		}
	}
}

func (c *Controller) abort(ctx context.Context) error {
	cause := context.Cause(ctx)
	if err := c.Cancel(); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// halt zeroes every motor and resets run-to-position ones. Caller holds mu.
func (c *Controller) halt() error {
	var errs []error
	for _, m := range c.motors {
		if err := m.SetPower(0); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.Name(), err))
		}
		if m.Mode() == hardware.RunModeToPosition {
			if err := m.SetMode(hardware.RunModeUsingEncoder); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", m.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// finish records the outcome and moves to next. Caller holds mu.
func (c *Controller) finish(next State, outcome string, err error) {
	c.state = next
	took := c.now().Sub(c.began)

	if err != nil {
		c.logger.WithError(err).Warnf("%s %s", c.req, outcome)
	} else {
		c.logger.Debugf("%s %s after %s", c.req, outcome, took)
	}

	if c.span != nil {
		if err != nil {
			telemetry.RecordError(c.span, err)
		} else {
			telemetry.RecordSuccess(c.span)
		}
		c.span.SetAttributes(telemetry.AttrOutcome.String(outcome))
		c.span.End()
		c.span = nil
	}
	if c.tel != nil {
		c.tel.Metrics.RecordMotion(string(c.req.kind), outcome, took)
		_ = c.tel.Events.PublishMotion(string(c.req.kind), outcome, took)
	}
}

func (c *Controller) intent(req Request) Intent {
	in := Intent{
		OpMode:    c.opmode,
		Kind:      req.kind,
		TickDelta: req.tickDelta,
		Duration:  req.duration,
	}
	if c.phase != nil {
		in.Phase = c.phase()
	}
	for _, m := range c.motors {
		in.Motors = append(in.Motors, m.Name())
	}
	if req.kind == KindToPosition {
		in.Powers = make([]float64, len(c.motors))
		for i := range in.Powers {
			in.Powers[i] = req.Power()
		}
	} else {
		in.Powers = req.Powers(len(c.motors))
	}
	return in
}
