package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/robocore/robocore/pkg/hardware"
	"github.com/robocore/robocore/pkg/telemetry"
)

// run is one activation of an OpMode, from init to STOPPED.
type run struct {
	id      string
	desc    Descriptor
	engine  *Engine
	session *hardware.Session
	env     *Env
	logger  *telemetry.Logger
	started time.Time

	ctx  context.Context
	span trace.Span

	stopCtx    context.Context
	cancelStop context.CancelCauseFunc

	startCh   chan struct{}
	startOnce sync.Once
	initDone  chan struct{}
	done      chan struct{}

	mu             sync.Mutex
	state          State
	startRequested bool
	result         Result
}

func newRun(e *Engine, desc Descriptor, id string) *run {
	stopCtx, cancel := context.WithCancelCause(context.Background())
	ctx, span := e.tel.Tracer.StartRunSpan(context.Background(), id, desc.Name, string(desc.Variant))
	logger := e.logger.WithRunID(id).WithOpMode(desc.Name)
	if tid := telemetry.TraceID(ctx); tid != "" {
		logger = logger.WithField("trace_id", tid)
	}
	r := &run{
		id:         id,
		desc:       desc,
		engine:     e,
		session:    e.pool.Open(id),
		logger:     logger,
		ctx:        ctx,
		span:       span,
		started:    time.Now(),
		stopCtx:    stopCtx,
		cancelStop: cancel,
		startCh:    make(chan struct{}),
		initDone:   make(chan struct{}),
		done:       make(chan struct{}),
		state:      StateUninitialized,
	}
	r.env = &Env{
		RunID:     id,
		OpMode:    desc,
		Hardware:  r.session,
		Telemetry: e.sink,
		Logger:    r.logger,
		run:       r,
	}
	return r
}

// State returns the lifecycle state.
func (r *run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *run) Result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

func (r *run) requestStart() {
	r.mu.Lock()
	r.startRequested = true
	r.mu.Unlock()
	r.startOnce.Do(func() { close(r.startCh) })
}

func (r *run) requestStop() {
	r.cancelStop(ErrStopRequested)
}

func (r *run) stopRequested() bool {
	return r.stopCtx.Err() != nil
}

// transition moves to next if the state machine allows it. A pending stop
// blocks every transition except the one to STOPPED, and RUNNING also
// needs a start request.
func (r *run) transition(next State) bool {
	r.mu.Lock()
	from := r.state
	switch {
	case !from.CanTransition(next):
		r.mu.Unlock()
		return false
	case next != StateStopped && r.stopRequested():
		r.mu.Unlock()
		return false
	case next == StateRunning && !r.startRequested:
		r.mu.Unlock()
		return false
	}
	r.state = next
	r.mu.Unlock()

	if next == StateInitIdle {
		close(r.initDone)
	}
	r.recordTransition(from, next)
	return true
}

func (r *run) recordTransition(from, to State) {
	tel := r.engine.tel
	at := time.Now()
	r.logger.Debugf("%s -> %s", from, to)
	tel.Metrics.RecordTransition(string(from), string(to))
	telemetry.AddTransitionEvent(r.span, string(from), string(to))
	if err := tel.Events.PublishTransition(r.id, r.desc.Name, string(from), string(to)); err != nil {
		r.logger.WithError(err).Warn("transition event dropped")
	}
	if j := r.engine.journal; j != nil {
		if err := j.Transition(r.ctx, r.id, from, to, at); err != nil {
			r.logger.WithError(err).Warn("journal transition failed")
		}
	}
}

// advance applies pending lifecycle signals on behalf of a linear routine
// and reports a stop request as ErrStopRequested.
func (r *run) advance() error {
	if r.stopRequested() {
		return context.Cause(r.stopCtx)
	}
	switch r.State() {
	case StateInitializing:
		r.transition(StateInitIdle)
		r.transition(StateRunning)
	case StateInitIdle:
		r.transition(StateRunning)
	}
	if r.stopRequested() {
		return context.Cause(r.stopCtx)
	}
	return nil
}

// protect runs fn, converting a panic or returned error into a classified
// fault. ErrStopRequested passes through untouched.
func (r *run) protect(hook string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = NewRuntimeError(fmt.Sprintf("panic: %v", p), nil).
				WithCode(ErrCodeHookPanic).WithOpMode(r.desc.Name).WithHook(hook)
		}
	}()

	if err := fn(); err != nil {
		if errors.Is(err, ErrStopRequested) {
			return err
		}
		return r.fault(hook, err)
	}
	return nil
}

func (r *run) fault(hook string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		if e.OpMode == "" {
			e.OpMode = r.desc.Name
		}
		if e.Hook == "" {
			e.Hook = hook
		}
		return e
	}

	code := ErrCodeHookFailed
	if hardware.IsConfigurationError(err) {
		code = ErrCodeDeviceNotFound
	}
	return (&Error{Class: Classify(err), Message: hook + " failed", Err: err}).
		WithCode(code).WithOpMode(r.desc.Name).WithHook(hook)
}

// call invokes one iterative hook with fresh input.
func (r *run) call(hook string, fn func() error) error {
	r.env.refresh()
	began := time.Now()
	err := r.protect(hook, fn)
	r.engine.tel.Metrics.RecordCycle(hook, time.Since(began), r.engine.quantum)
	return err
}

func (r *run) drive(e entry) {
	if e.newIterative != nil {
		r.driveIterative(e.newIterative())
		return
	}
	r.driveLinear(e.newLinear())
}

func (r *run) driveIterative(op Iterative) {
	if err := r.call("init", func() error { return op.Init(r.env) }); err != nil {
		r.finish(exitOutcome(err))
		return
	}

	outcome, err := r.cycle(op)

	if s, ok := op.(Stopper); ok {
		if serr := r.call("stop", func() error { return s.Stop(r.env) }); serr != nil && err == nil {
			outcome, err = exitOutcome(serr)
		}
	}
	r.finish(outcome, err)
}

// cycle drives the init-idle and running phases, one hook per quantum.
// Stop is checked before start at every cycle boundary.
func (r *run) cycle(op Iterative) (Outcome, error) {
	limiter := rate.NewLimiter(rate.Every(r.engine.quantum), 1)
	limiter.Allow()
	wait := func() { _ = limiter.Wait(r.stopCtx) }

	if !r.transition(StateInitIdle) {
		return OutcomeStopped, nil
	}

	initLoop, _ := op.(InitLooper)
	for {
		if r.stopRequested() {
			return OutcomeStopped, nil
		}
		if r.transition(StateRunning) {
			break
		}
		if initLoop != nil {
			if err := r.call("init_loop", func() error { return initLoop.InitLoop(r.env) }); err != nil {
				return exitOutcome(err)
			}
		}
		wait()
	}

	if s, ok := op.(Starter); ok {
		if err := r.call("start", func() error { return s.Start(r.env) }); err != nil {
			return exitOutcome(err)
		}
		wait()
	}

	for {
		if r.stopRequested() {
			return OutcomeStopped, nil
		}
		if err := r.call("loop", func() error { return op.Loop(r.env) }); err != nil {
			return exitOutcome(err)
		}
		wait()
	}
}

func (r *run) driveLinear(op Linear) {
	lc := &LinearContext{Env: r.env}
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.protect("run_opmode", func() error { return op.RunOpMode(lc) })
	}()

	var err error
	select {
	case err = <-errCh:
	case <-r.stopCtx.Done():
		timer := time.NewTimer(r.engine.stopTimeout)
		select {
		case err = <-errCh:
			timer.Stop()
		case <-timer.C:
			r.finish(OutcomeAbandoned, NewRuntimeError(
				fmt.Sprintf("routine still running %s after stop", r.engine.stopTimeout), nil).
				WithCode(ErrCodeStopTimeout).WithOpMode(r.desc.Name).WithHook("run_opmode"))
			return
		}
	}
	if err == nil {
		r.finish(OutcomeCompleted, nil)
		return
	}
	r.finish(exitOutcome(err))
}

func exitOutcome(err error) (Outcome, error) {
	if errors.Is(err, ErrStopRequested) {
		return OutcomeStopped, nil
	}
	return OutcomeFault, err
}

// finish performs the safe stop and records the result. Motion in flight
// is cancelled first, then every acquired device is zeroed and its lease
// revoked, and only then does the run report STOPPED.
func (r *run) finish(outcome Outcome, err error) {
	tel := r.engine.tel
	r.requestStop()

	safeErr := errors.Join(r.env.cancelMotion(), r.session.Close())
	tel.Metrics.RecordSafeStop(safeErr)
	if safeErr != nil {
		r.logger.WithError(safeErr).Error("safe stop incomplete")
		tel.Metrics.RecordError(string(ErrorClassRuntime), ErrCodeSafeStopFailed)
	}

	r.transition(StateStopped)

	res := Result{
		RunID:       r.id,
		OpMode:      r.desc.Name,
		Variant:     r.desc.Variant,
		Outcome:     outcome,
		StartedAt:   r.started,
		StoppedAt:   time.Now(),
		Err:         err,
		SafeStopErr: safeErr,
	}
	r.mu.Lock()
	r.result = res
	r.mu.Unlock()

	tel.Metrics.RecordRunCompleted(r.desc.Name, string(outcome), res.Duration())
	if err != nil {
		class := Classify(err)
		code := ""
		var e *Error
		if errors.As(err, &e) {
			code = e.Code
		}
		tel.Metrics.RecordError(string(class), code)
		_ = tel.Events.PublishFault(r.id, r.desc.Name, string(class), err.Error())
		r.logger.WithError(err).Errorf("opmode %s", outcome)
		telemetry.RecordError(r.span, err)
	} else {
		r.logger.Infof("opmode %s after %s", outcome, res.Duration().Round(time.Millisecond))
		telemetry.RecordSuccess(r.span)
	}
	_ = tel.Events.PublishRunStopped(r.id, r.desc.Name, string(outcome), res.Duration())

	if j := r.engine.journal; j != nil {
		if jerr := j.RunFinished(r.ctx, res.record()); jerr != nil {
			r.logger.WithError(jerr).Warn("journal finish failed")
		}
	}

	r.span.SetAttributes(telemetry.AttrOutcome.String(string(outcome)))
	r.span.End()
	close(r.done)
}
