package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/robocore/robocore/pkg/hardware"
	"github.com/robocore/robocore/pkg/hardware/sim"
	"github.com/robocore/robocore/pkg/motion"
	"github.com/robocore/robocore/pkg/telemetry"
)

const testQuantum = 2 * time.Millisecond

// recorder collects hook invocations in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) count(call string) int {
	n := 0
	for _, c := range r.list() {
		if c == call {
			n++
		}
	}
	return n
}

// recordingJournal keeps transitions and finished runs.
type recordingJournal struct {
	mu          sync.Mutex
	transitions []string
	finished    []RunRecord
}

func (j *recordingJournal) RunStarted(context.Context, RunRecord) error { return nil }

func (j *recordingJournal) Transition(_ context.Context, _ string, from, to State, _ time.Time) error {
	j.mu.Lock()
	j.transitions = append(j.transitions, fmt.Sprintf("%s->%s", from, to))
	j.mu.Unlock()
	return nil
}

func (j *recordingJournal) RunFinished(_ context.Context, rec RunRecord) error {
	j.mu.Lock()
	j.finished = append(j.finished, rec)
	j.mu.Unlock()
	return nil
}

func (j *recordingJournal) path() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return strings.Join(j.transitions, " ")
}

type fixture struct {
	engine  *Engine
	catalog *Catalog
	pool    *hardware.Pool
	left    *sim.Motor
	right   *sim.Motor
	journal *recordingJournal
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	reg := hardware.NewMap()
	left := sim.NewMotor("left_drive", sim.DefaultMotorConfig(), sim.WallClock{})
	right := sim.NewMotor("right_drive", sim.DefaultMotorConfig(), sim.WallClock{})
	for _, d := range []hardware.Device{left, right, sim.NewServo("claw")} {
		if err := reg.Add(d); err != nil {
			t.Fatalf("Add(%s) error = %v", d.Name(), err)
		}
	}

	f := &fixture{
		catalog: NewCatalog(),
		pool:    hardware.NewPool(reg),
		left:    left,
		right:   right,
		journal: &recordingJournal{},
	}
	opts = append([]Option{
		WithQuantum(testQuantum),
		WithJournal(f.journal),
		WithIDGenerator(sequentialIDs()),
	}, opts...)
	f.engine = New(f.catalog, f.pool, nil, telemetry.Discard{}, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = f.engine.Stop(ctx)
	})
	return f
}

func (f *fixture) iterative(t *testing.T, name string, hooks *Hooks) {
	t.Helper()
	err := f.catalog.RegisterIterative(Descriptor{Name: name, Group: "test"}, func() Iterative { return hooks })
	if err != nil {
		t.Fatalf("RegisterIterative(%s) error = %v", name, err)
	}
}

func (f *fixture) linear(t *testing.T, name string, fn LinearFunc) {
	t.Helper()
	err := f.catalog.RegisterLinear(Descriptor{Name: name, Group: "test"}, func() Linear { return fn })
	if err != nil {
		t.Fatalf("RegisterLinear(%s) error = %v", name, err)
	}
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("run-%d", n)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func stop(t *testing.T, e *Engine) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	res, err := e.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return res
}

func recordingHooks(rec *recorder) *Hooks {
	return &Hooks{
		OnInit:     func(*Env) error { rec.add("init"); return nil },
		OnInitLoop: func(*Env) error { rec.add("init_loop"); return nil },
		OnStart:    func(*Env) error { rec.add("start"); return nil },
		OnLoop:     func(*Env) error { rec.add("loop"); return nil },
		OnStop:     func(*Env) error { rec.add("stop"); return nil },
	}
}

func TestEngine_IterativeLifecycle(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	f.iterative(t, "Teleop", recordingHooks(rec))

	if err := f.engine.Init(context.Background(), "Teleop"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if got := f.engine.State(); got != StateInitIdle {
		t.Fatalf("State() after Init = %s, want %s", got, StateInitIdle)
	}
	waitFor(t, "init_loop", func() bool { return rec.count("init_loop") >= 2 })

	if err := f.engine.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "loop", func() bool { return rec.count("loop") >= 3 })

	res := stop(t, f.engine)
	if res.Outcome != OutcomeStopped || res.Err != nil {
		t.Errorf("result = %s, %v; want stopped, nil", res.Outcome, res.Err)
	}

	calls := rec.list()
	if calls[0] != "init" || calls[len(calls)-1] != "stop" {
		t.Errorf("calls = %v, want init first and stop last", calls)
	}
	if rec.count("init") != 1 || rec.count("start") != 1 || rec.count("stop") != 1 {
		t.Errorf("calls = %v, want one init, start and stop", calls)
	}
	sawStart := false
	for _, c := range calls {
		switch c {
		case "start":
			sawStart = true
		case "init_loop":
			if sawStart {
				t.Errorf("init_loop after start in %v", calls)
			}
		case "loop":
			if !sawStart {
				t.Errorf("loop before start in %v", calls)
			}
		}
	}

	want := "uninitialized->initializing initializing->init_idle init_idle->running running->stopped"
	if got := f.journal.path(); got != want {
		t.Errorf("transitions = %q, want %q", got, want)
	}
}

func TestEngine_StopDuringInitIdle(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	f.iterative(t, "Auto", recordingHooks(rec))

	if err := f.engine.Init(context.Background(), "Auto"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	res := stop(t, f.engine)

	if rec.count("start") != 0 || rec.count("loop") != 0 {
		t.Errorf("calls = %v, want no start or loop", rec.list())
	}
	if res.Outcome != OutcomeStopped {
		t.Errorf("Outcome = %s, want %s", res.Outcome, OutcomeStopped)
	}
	if got := f.journal.path(); !strings.HasSuffix(got, "init_idle->stopped") {
		t.Errorf("transitions = %q, want to end init_idle->stopped", got)
	}
	if err := f.engine.Start(); !IsCaller(err) {
		t.Errorf("Start() after stop error = %v, want caller error", err)
	}
}

func TestEngine_InitContextEndsStopsRun(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	release := make(chan struct{})
	hooks := recordingHooks(rec)
	hooks.OnInit = func(env *Env) error {
		if _, err := env.Motor("left_drive"); err != nil {
			return err
		}
		<-release
		rec.add("init")
		return nil
	}
	f.iterative(t, "Slow", hooks)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := f.engine.Init(ctx, "Slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Init() error = %v, want deadline exceeded", err)
	}
	close(release)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	res, err := f.engine.Wait(waitCtx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if res.Outcome != OutcomeStopped {
		t.Errorf("Outcome = %s, want %s", res.Outcome, OutcomeStopped)
	}
	if rec.count("start") != 0 || rec.count("loop") != 0 {
		t.Errorf("calls = %v, want no start or loop", rec.list())
	}
	if f.engine.Active() {
		t.Error("Active() = true after the abandoned init")
	}
	if owner, held := f.pool.Owner("left_drive"); held {
		t.Errorf("left_drive still leased to %s", owner)
	}
}

// lockedBuffer is a bytes.Buffer safe for the run goroutine to log into.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestEngine_RunLogsCarryTraceID(t *testing.T) {
	out := &lockedBuffer{}
	tel := telemetry.Nop()
	tel.Logger = telemetry.NewWriterLogger(out, telemetry.LoggingConfig{Level: "debug", Format: "json"})
	f := newFixture(t, WithTelemetry(tel))
	f.iterative(t, "Teleop", recordingHooks(&recorder{}))

	if err := f.engine.Init(context.Background(), "Teleop"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	stop(t, f.engine)

	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if !strings.Contains(line, `"run_id"`) {
			continue
		}
		if !strings.Contains(line, `"trace_id":"`) {
			t.Errorf("run log line %s has no trace_id", line)
		}
	}
	if !strings.Contains(out.String(), "initializing iterative opmode") {
		t.Errorf("logs = %s, want the init line", out.String())
	}
}

func TestEngine_StartQueuedDuringInit(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	release := make(chan struct{})
	hooks := recordingHooks(rec)
	hooks.OnInit = func(*Env) error {
		<-release
		rec.add("init")
		return nil
	}
	f.iterative(t, "Slow", hooks)

	initErr := make(chan error, 1)
	go func() { initErr <- f.engine.Init(context.Background(), "Slow") }()

	waitFor(t, "initializing", func() bool { return f.engine.State() == StateInitializing })
	if err := f.engine.Start(); err != nil {
		t.Fatalf("Start() during init error = %v", err)
	}
	close(release)

	if err := <-initErr; err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	waitFor(t, "loop", func() bool { return rec.count("loop") >= 1 })
	if got := f.engine.State(); got != StateRunning {
		t.Errorf("State() = %s, want %s", got, StateRunning)
	}
}

func TestEngine_StopWinsOverStart(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	release := make(chan struct{})
	hooks := recordingHooks(rec)
	hooks.OnInit = func(*Env) error {
		<-release
		return nil
	}
	f.iterative(t, "Race", hooks)

	initErr := make(chan error, 1)
	go func() { initErr <- f.engine.Init(context.Background(), "Race") }()
	waitFor(t, "initializing", func() bool { return f.engine.State() == StateInitializing })

	r := f.engine.active()
	if err := f.engine.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	r.requestStop()
	close(release)

	if err := <-initErr; err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	<-f.engine.Done()

	if rec.count("start") != 0 || rec.count("loop") != 0 || rec.count("init_loop") != 0 {
		t.Errorf("calls = %v, want only stop", rec.list())
	}
	if got := f.journal.path(); got != "uninitialized->initializing initializing->stopped" {
		t.Errorf("transitions = %q", got)
	}
}

func TestEngine_FaultForcesSafeStop(t *testing.T) {
	tests := []struct {
		name     string
		loop     func(*Env) error
		wantCode string
	}{
		{
			name:     "returned error",
			loop:     func(*Env) error { return errors.New("arm jammed") },
			wantCode: ErrCodeHookFailed,
		},
		{
			name:     "panic",
			loop:     func(*Env) error { panic("nil gyro") },
			wantCode: ErrCodeHookPanic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			var held hardware.Motor
			f.iterative(t, "Faulty", &Hooks{
				OnInit: func(env *Env) error {
					m, err := env.Motor("left_drive")
					held = m
					return err
				},
				OnStart: func(*Env) error {
					if err := held.SetMode(hardware.RunModeToPosition); err != nil {
						return err
					}
					return held.SetPower(0.8)
				},
				OnLoop: tt.loop,
			})

			if err := f.engine.Init(context.Background(), "Faulty"); err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			if err := f.engine.Start(); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			res, err := f.engine.Wait(context.Background())
			if err != nil {
				t.Fatalf("Wait() error = %v", err)
			}

			if res.Outcome != OutcomeFault {
				t.Errorf("Outcome = %s, want %s", res.Outcome, OutcomeFault)
			}
			var e *Error
			if !errors.As(res.Err, &e) || e.Code != tt.wantCode || e.Hook != "loop" {
				t.Errorf("Err = %v, want code %s in loop", res.Err, tt.wantCode)
			}
			if !IsRuntime(res.Err) {
				t.Errorf("IsRuntime(%v) = false", res.Err)
			}
			if p := f.left.Power(); p != 0 {
				t.Errorf("motor power after fault = %v, want 0", p)
			}
			if m := f.left.Mode(); m != hardware.RunModeUsingEncoder {
				t.Errorf("motor mode after fault = %s, want using_encoder", m)
			}
			if err := held.SetPower(0.5); !errors.Is(err, hardware.ErrReleased) {
				t.Errorf("SetPower on released handle error = %v, want ErrReleased", err)
			}
		})
	}
}

func TestEngine_MissingDevice(t *testing.T) {
	f := newFixture(t)
	f.iterative(t, "Misconfigured", &Hooks{
		OnInit: func(env *Env) error {
			_, err := env.Motor("arm")
			return err
		},
	})

	err := f.engine.Init(context.Background(), "Misconfigured")
	if !IsConfiguration(err) {
		t.Fatalf("Init() error = %v, want configuration error", err)
	}
	var e *Error
	if !errors.As(err, &e) || e.Code != ErrCodeDeviceNotFound {
		t.Errorf("code = %v, want %s", err, ErrCodeDeviceNotFound)
	}
	if got := f.engine.State(); got != StateStopped {
		t.Errorf("State() = %s, want %s", got, StateStopped)
	}
}

func TestEngine_CallerErrorAbsorbed(t *testing.T) {
	f := newFixture(t)
	rejected := make(chan error, 1)
	var ctrl *motion.Controller
	f.iterative(t, "Sloppy", &Hooks{
		OnInit: func(env *Env) error {
			var err error
			ctrl, err = env.Motion("left_drive", "right_drive")
			return err
		},
		OnStart: func(env *Env) error {
			err := ctrl.Begin(env.Context(), motion.Threshold(0, 0.5, 0.5))
			if IsCaller(err) {
				rejected <- err
				return nil
			}
			return err
		},
		OnLoop: func(*Env) error { return nil },
	})

	if err := f.engine.Init(context.Background(), "Sloppy"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := f.engine.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case err := <-rejected:
		if !motion.IsCallerError(err) {
			t.Errorf("Begin() error = %v, want *motion.CallerError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("start hook never ran")
	}
	waitFor(t, "running", func() bool { return f.engine.State() == StateRunning })

	if writes := f.left.Writes(); len(writes) != 0 {
		t.Errorf("rejected request wrote %v", writes)
	}
	if res := stop(t, f.engine); res.Outcome != OutcomeStopped {
		t.Errorf("Outcome = %s, want %s", res.Outcome, OutcomeStopped)
	}
}

func TestEngine_ReinitStopsPrevious(t *testing.T) {
	f := newFixture(t)
	acquire := &Hooks{
		OnInit: func(env *Env) error {
			_, err := env.Motor("left_drive")
			return err
		},
		OnLoop: func(*Env) error { return nil },
	}
	f.iterative(t, "First", acquire)
	f.iterative(t, "Second", acquire)

	if err := f.engine.Init(context.Background(), "First"); err != nil {
		t.Fatalf("Init(First) error = %v", err)
	}
	if err := f.engine.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	first := f.engine.Done()

	if err := f.engine.Init(context.Background(), "Second"); err != nil {
		t.Fatalf("Init(Second) error = %v", err)
	}
	select {
	case <-first:
	default:
		t.Error("first activation not stopped before second init")
	}
	if owner, _ := f.pool.Owner("left_drive"); owner != "run-2" {
		t.Errorf("left_drive owner = %q, want run-2", owner)
	}
	if d, _ := f.engine.Current(); d.Name != "Second" {
		t.Errorf("Current() = %s, want Second", d.Name)
	}
}

func TestEngine_SignalErrors(t *testing.T) {
	f := newFixture(t)

	err := f.engine.Init(context.Background(), "Nope")
	var e *Error
	if !errors.As(err, &e) || e.Code != ErrCodeOpModeNotFound || !IsConfiguration(err) {
		t.Errorf("Init(unknown) error = %v, want %s", err, ErrCodeOpModeNotFound)
	}
	if err := f.engine.Start(); !IsCaller(err) {
		t.Errorf("Start() without init error = %v, want caller error", err)
	}
	if err := f.engine.Stop(context.Background()); err != nil {
		t.Errorf("Stop() without init error = %v, want nil", err)
	}
	if f.engine.Active() {
		t.Error("Active() = true with nothing initialized")
	}
}

func TestCatalog_Register(t *testing.T) {
	c := NewCatalog()
	factory := func() Linear { return LinearFunc(func(*LinearContext) error { return nil }) }

	if err := c.RegisterLinear(Descriptor{Name: "Auto", Group: "autonomous"}, factory); err != nil {
		t.Fatalf("RegisterLinear() error = %v", err)
	}
	err := c.RegisterLinear(Descriptor{Name: "Auto", Group: "autonomous"}, factory)
	var e *Error
	if !errors.As(err, &e) || e.Code != ErrCodeDuplicateOpMode {
		t.Errorf("duplicate error = %v, want %s", err, ErrCodeDuplicateOpMode)
	}
	if err := c.RegisterLinear(Descriptor{Name: "has space", Group: "x"}, factory); err == nil {
		t.Error("RegisterLinear(invalid name) error = nil")
	}
	if err := c.RegisterIterative(Descriptor{Name: "Drive", Group: "teleop"}, nil); err == nil {
		t.Error("RegisterIterative(nil factory) error = nil")
	}

	d, ok := c.Lookup("Auto")
	if !ok || d.Variant != VariantLinear {
		t.Errorf("Lookup(Auto) = %+v, %v", d, ok)
	}
}

func TestState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateUninitialized, StateInitializing, true},
		{StateInitializing, StateInitIdle, true},
		{StateInitializing, StateRunning, false},
		{StateInitIdle, StateRunning, true},
		{StateInitIdle, StateStopped, true},
		{StateRunning, StateInitIdle, false},
		{StateStopped, StateInitializing, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s.CanTransition(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"engine error", NewCallerError("bad", nil), ErrorClassCaller},
		{"device", &hardware.NotFoundError{Name: "arm"}, ErrorClassConfiguration},
		{"motion", &motion.CallerError{Reason: "tick delta"}, ErrorClassCaller},
		{"wrapped motion", fmt.Errorf("auto: %w", &motion.CallerError{}), ErrorClassCaller},
		{"plain", errors.New("boom"), ErrorClassRuntime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}
