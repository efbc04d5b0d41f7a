package opmodes

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/robocore/robocore/pkg/config"
	"github.com/robocore/robocore/pkg/drive"
	"github.com/robocore/robocore/pkg/engine"
	"github.com/robocore/robocore/pkg/hardware"
	"github.com/robocore/robocore/pkg/hardware/sim"
	"github.com/robocore/robocore/pkg/input"
	"github.com/robocore/robocore/pkg/telemetry"
)

const testQuantum = 2 * time.Millisecond

// rig is a simulated two-motor robot with every built-in OpMode registered.
type rig struct {
	engine  *engine.Engine
	catalog *engine.Catalog
	left    *sim.Motor
	right   *sim.Motor
	latch   *input.Latch
	panel   *telemetry.Panel
}

func testSettings() Settings {
	s := DefaultSettings()
	s.TicksPerInch = 10
	s.Distance = 20
	s.Leg = 20 * time.Millisecond
	return s
}

func newRig(t *testing.T, s Settings) *rig {
	t.Helper()
	r := &rig{
		catalog: engine.NewCatalog(),
		left:    sim.NewMotor(s.Left, sim.DefaultMotorConfig(), sim.WallClock{}),
		right:   sim.NewMotor(s.Right, sim.DefaultMotorConfig(), sim.WallClock{}),
		latch:   input.NewLatch(),
		panel:   telemetry.NewPanel(),
	}
	reg := hardware.NewMap()
	for _, m := range []*sim.Motor{r.left, r.right} {
		if err := reg.Add(m); err != nil {
			t.Fatal(err)
		}
	}
	if err := Register(r.catalog, s); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	r.engine = engine.New(r.catalog, hardware.NewPool(reg), r.latch, r.panel, engine.WithQuantum(testQuantum))
	return r
}

// run initializes and starts name.
func (r *rig) run(t *testing.T, name string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.engine.Init(ctx, name); err != nil {
		t.Fatalf("Init(%s) error = %v", name, err)
	}
	if err := r.engine.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

func (r *rig) stop(t *testing.T) engine.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.engine.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	res, err := r.engine.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func (r *rig) wait(t *testing.T) engine.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := r.engine.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return res
}

func (r *rig) sawStatus(status string) bool {
	for _, f := range r.panel.Frames() {
		if v, ok := f.Get("status"); ok && v == status {
			return true
		}
	}
	return false
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

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Settings) {}},
		{name: "missing motor", mutate: func(s *Settings) { s.Right = "" }, wantErr: "must be named"},
		{name: "same motor", mutate: func(s *Settings) { s.Right = s.Left }, wantErr: "both"},
		{name: "ticks per inch", mutate: func(s *Settings) { s.TicksPerInch = 0 }, wantErr: "ticks per inch"},
		{name: "power too high", mutate: func(s *Settings) { s.Power = 1.5 }, wantErr: "autonomous power"},
		{name: "zero leg", mutate: func(s *Settings) { s.Leg = 0 }, wantErr: "timed leg"},
		{name: "mecanum", mutate: func(s *Settings) { s.Mode = "mecanum" }, wantErr: "unsupported drive mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	if got := FromConfig(nil); got != DefaultSettings() {
		t.Errorf("FromConfig(nil) = %+v", got)
	}

	cfg := &config.RobotConfig{Drivetrain: &config.DrivetrainConfig{
		Left: "fl", Right: "fr", Mode: "pov", TicksPerInch: 30,
	}}
	got := FromConfig(cfg)
	if got.Left != "fl" || got.Right != "fr" || got.Mode != drive.ModePOV || got.TicksPerInch != 30 {
		t.Errorf("FromConfig() = %+v", got)
	}
	if got.Ticks(2.5) != 75 {
		t.Errorf("Ticks(2.5) = %d, want 75", got.Ticks(2.5))
	}
}

func TestRegister(t *testing.T) {
	catalog := engine.NewCatalog()
	if err := Register(catalog, DefaultSettings()); err != nil {
		t.Fatal(err)
	}

	want := map[string]engine.Variant{
		"DriveTeleOp": engine.VariantIterative,
		"TankTeleOp":  engine.VariantIterative,
		"POVTeleOp":   engine.VariantIterative,
		"StepAuto":    engine.VariantIterative,
		"TimedAuto":   engine.VariantLinear,
		"EncoderAuto": engine.VariantLinear,
		"PIDAuto":     engine.VariantLinear,
	}
	descs := catalog.Descriptors()
	if len(descs) != len(want) {
		t.Fatalf("registered %d opmodes, want %d", len(descs), len(want))
	}
	for _, d := range descs {
		if want[d.Name] != d.Variant {
			t.Errorf("%s variant = %s, want %s", d.Name, d.Variant, want[d.Name])
		}
		if d.Source != "builtin" {
			t.Errorf("%s source = %q", d.Name, d.Source)
		}
	}

	if err := Register(catalog, DefaultSettings()); err == nil {
		t.Error("registering twice should fail")
	}
	bad := DefaultSettings()
	bad.Left = ""
	if err := Register(engine.NewCatalog(), bad); err == nil {
		t.Error("invalid settings should fail")
	}
}

func TestTeleOp(t *testing.T) {
	tests := []struct {
		name      string
		opmode    string
		pad       input.Gamepad
		wantLeft  float64
		wantRight float64
	}{
		{
			name:      "tank negates sticks",
			opmode:    "TankTeleOp",
			pad:       input.Gamepad{LeftStickY: -0.8, RightStickY: 0.4},
			wantLeft:  0.8,
			wantRight: -0.4,
		},
		{
			name:      "tank precision mode",
			opmode:    "TankTeleOp",
			pad:       input.Gamepad{LeftStickY: -0.8, RightStickY: 0.4, LeftBumper: true},
			wantLeft:  0.4,
			wantRight: -0.2,
		},
		{
			name:      "pov clamps",
			opmode:    "POVTeleOp",
			pad:       input.Gamepad{LeftStickY: -0.6, RightStickX: 0.6},
			wantLeft:  1,
			wantRight: 0,
		},
		{
			name:      "pov straight",
			opmode:    "POVTeleOp",
			pad:       input.Gamepad{LeftStickY: -0.5},
			wantLeft:  0.5,
			wantRight: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, testSettings())
			if err := r.latch.SetGamepad(1, tt.pad); err != nil {
				t.Fatal(err)
			}
			r.run(t, tt.opmode)

			waitFor(t, "drive powers", func() bool {
				return r.left.Power() == tt.wantLeft && r.right.Power() == tt.wantRight
			})

			res := r.stop(t)
			if res.Outcome != engine.OutcomeStopped {
				t.Errorf("Outcome = %s, want stopped", res.Outcome)
			}
			if r.left.Power() != 0 || r.right.Power() != 0 {
				t.Errorf("powers after stop = %v, %v", r.left.Power(), r.right.Power())
			}
			if !r.sawStatus("initialized") || !r.sawStatus("stopped") {
				t.Error("missing initialized/stopped telemetry")
			}
		})
	}
}

func TestTeleOp_MissingMotor(t *testing.T) {
	s := testSettings()
	catalog := engine.NewCatalog()
	err := catalog.RegisterIterative(engine.Descriptor{Name: "Broken", Group: GroupTeleOp},
		func() engine.Iterative { return NewTeleOp(s, drive.ModeTank) })
	if err != nil {
		t.Fatal(err)
	}
	reg := hardware.NewMap()
	if err := reg.Add(sim.NewMotor(s.Left, sim.DefaultMotorConfig(), sim.WallClock{})); err != nil {
		t.Fatal(err)
	}
	eng := engine.New(catalog, hardware.NewPool(reg), nil, nil, engine.WithQuantum(testQuantum))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = eng.Init(ctx, "Broken")
	if !engine.IsConfiguration(err) {
		t.Fatalf("Init() error = %v, want configuration error", err)
	}
}

// TestTimedAuto checks each window is ended by a zero write before the
// next one starts.
func TestTimedAuto(t *testing.T) {
	r := newRig(t, testSettings())
	r.run(t, "TimedAuto")

	res := r.wait(t)
	if res.Outcome != engine.OutcomeCompleted {
		t.Fatalf("Outcome = %s (%v)", res.Outcome, res.Err)
	}

	check := func(name string, got, want []float64) {
		t.Helper()
		if len(got) < len(want) {
			t.Fatalf("%s writes = %v, want prefix %v", name, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s writes = %v, want prefix %v", name, got, want)
			}
		}
		for _, p := range got[len(want):] {
			if p != 0 {
				t.Errorf("%s non-zero write %v after the last window", name, p)
			}
		}
	}
	check("left", r.left.Writes(), []float64{1, 0, -0.5, 0, 1, 0})
	check("right", r.right.Writes(), []float64{1, 0, 0.5, 0, 1, 0})

	if !r.sawStatus("done") {
		t.Error("missing done telemetry")
	}
}

func TestEncoderAuto(t *testing.T) {
	r := newRig(t, testSettings())
	r.run(t, "EncoderAuto")

	res := r.wait(t)
	if res.Outcome != engine.OutcomeCompleted {
		t.Fatalf("Outcome = %s (%v)", res.Outcome, res.Err)
	}
	for _, m := range []*sim.Motor{r.left, r.right} {
		pos, _ := m.CurrentPosition()
		if pos < 190 {
			t.Errorf("%s stopped at %d, want at least 190", m.Name(), pos)
		}
		if m.Power() != 0 {
			t.Errorf("%s power = %v after completion", m.Name(), m.Power())
		}
	}
}

func TestPIDAuto(t *testing.T) {
	r := newRig(t, testSettings())
	r.run(t, "PIDAuto")

	res := r.wait(t)
	if res.Outcome != engine.OutcomeCompleted {
		t.Fatalf("Outcome = %s (%v)", res.Outcome, res.Err)
	}

	left, _ := r.left.CurrentPosition()
	right, _ := r.right.CurrentPosition()
	// 200 ticks forward, then +50 and -50 within the motor tolerance.
	if left < 225 || left > 265 {
		t.Errorf("left = %d, want about 250", left)
	}
	if right < 135 || right > 175 {
		t.Errorf("right = %d, want about 150", right)
	}
	for _, m := range []*sim.Motor{r.left, r.right} {
		if m.Mode() != hardware.RunModeUsingEncoder || m.Power() != 0 {
			t.Errorf("%s left in mode %s power %v", m.Name(), m.Mode(), m.Power())
		}
	}
	if !r.sawStatus("forward") {
		t.Error("missing forward telemetry")
	}
}

func TestPIDAuto_StopCancels(t *testing.T) {
	s := testSettings()
	s.Distance = 10000
	s.Power = 0.1
	r := newRig(t, s)
	r.run(t, "PIDAuto")

	waitFor(t, "run to position", func() bool { return r.left.Mode() == hardware.RunModeToPosition })

	res := r.stop(t)
	if res.Outcome != engine.OutcomeStopped {
		t.Errorf("Outcome = %s, want stopped", res.Outcome)
	}
	for _, m := range []*sim.Motor{r.left, r.right} {
		if m.Mode() != hardware.RunModeUsingEncoder || m.Power() != 0 {
			t.Errorf("%s left in mode %s power %v", m.Name(), m.Mode(), m.Power())
		}
	}
}

func TestStepAuto(t *testing.T) {
	s := testSettings()
	r := newRig(t, s)

	op := NewStepAuto(s)
	err := r.catalog.RegisterIterative(engine.Descriptor{Name: "StepAutoUnderTest", Group: GroupAutonomous},
		func() engine.Iterative { return op })
	if err != nil {
		t.Fatal(err)
	}
	r.run(t, "StepAutoUnderTest")

	waitFor(t, "drive to finish", op.Finished)
	if r.left.Power() != 0 || r.right.Power() != 0 {
		t.Errorf("powers after finish = %v, %v", r.left.Power(), r.right.Power())
	}
	if pos, _ := r.left.CurrentPosition(); pos < 190 {
		t.Errorf("left stopped at %d", pos)
	}
	if !r.engine.Active() {
		t.Error("iterative OpMode should keep running until stopped")
	}

	if res := r.stop(t); res.Outcome != engine.OutcomeStopped {
		t.Errorf("Outcome = %s", res.Outcome)
	}
}
