// Package sim provides simulated devices for running OpModes without a
// robot attached. Motors integrate their encoder position from the applied
// power each time they are observed, and run-to-position is closed with a
// PID loop so the device behaves like a smart motor controller.
package sim

import (
	"math"
	"sync"
	"time"

	"github.com/felixge/pidctrl"

	"github.com/robocore/robocore/pkg/hardware"
)

// maxStep bounds a single integration step.
const maxStep = 5 * time.Millisecond

// Clock supplies the current time to simulated devices.
type Clock interface {
	Now() time.Time
}

// WallClock reads time.Now.
type WallClock struct{}

// Now implements Clock.
func (WallClock) Now() time.Time { return time.Now() }

// ManualClock only moves when advanced, for deterministic tests.
type ManualClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewManualClock starts a manual clock at an arbitrary fixed instant.
func NewManualClock() *ManualClock {
	return &ManualClock{t: time.Unix(1_700_000_000, 0)}
}

// Now implements Clock.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// MotorConfig tunes a simulated motor.
type MotorConfig struct {
	// TicksPerSecond is the encoder rate at full power.
	TicksPerSecond float64

	// Tolerance is the run-to-position dead band in ticks.
	Tolerance int

	// Kp, Ki, Kd are the run-to-position loop gains on tick error.
	Kp, Ki, Kd float64
}

// DefaultMotorConfig approximates a 312 rpm gear motor with a 537.7 CPR encoder.
func DefaultMotorConfig() MotorConfig {
	return MotorConfig{
		TicksPerSecond: 2800,
		Tolerance:      10,
		Kp:             0.01,
		Ki:             0,
		Kd:             0.0002,
	}
}

// Motor is a simulated DC motor with encoder.
type Motor struct {
	mu    sync.Mutex
	name  string
	cfg   MotorConfig
	clock Clock
	last  time.Time

	dir    hardware.Direction
	mode   hardware.RunMode
	power  float64
	target int
	pos    float64
	pid    *pidctrl.PIDController

	writes []float64
}

// NewMotor creates a simulated motor.
func NewMotor(name string, cfg MotorConfig, clock Clock) *Motor {
	if clock == nil {
		clock = WallClock{}
	}
	if cfg.TicksPerSecond <= 0 {
		cfg.TicksPerSecond = DefaultMotorConfig().TicksPerSecond
	}
	return &Motor{
		name:  name,
		cfg:   cfg,
		clock: clock,
		last:  clock.Now(),
		dir:   hardware.DirectionForward,
		mode:  hardware.RunModeUsingEncoder,
		pid:   pidctrl.NewPIDController(cfg.Kp, cfg.Ki, cfg.Kd),
	}
}

func (m *Motor) Name() string                    { return m.name }
func (m *Motor) Capability() hardware.Capability { return hardware.CapabilityMotor }

func (m *Motor) SetDirection(d hardware.Direction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.integrate()
	if d != m.dir {
		m.pos = -m.pos
		m.target = -m.target
		m.pid.Set(float64(m.target))
	}
	m.dir = d
	return nil
}

func (m *Motor) Direction() hardware.Direction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dir
}

func (m *Motor) SetMode(mode hardware.RunMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.integrate()
	if mode == hardware.RunModeToPosition && m.mode != mode {
		m.pid = pidctrl.NewPIDController(m.cfg.Kp, m.cfg.Ki, m.cfg.Kd).Set(float64(m.target))
	}
	m.mode = mode
	return nil
}

func (m *Motor) Mode() hardware.RunMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

func (m *Motor) SetPower(p float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.integrate()
	m.power = p
	m.writes = append(m.writes, p)
	return nil
}

func (m *Motor) Power() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.power
}

func (m *Motor) CurrentPosition() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.integrate()
	return int(math.Round(m.pos)), nil
}

func (m *Motor) SetTargetPosition(ticks int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.integrate()
	m.target = ticks
	m.pid.Set(float64(ticks))
	return nil
}

func (m *Motor) TargetPosition() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

func (m *Motor) IsBusy() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.integrate()
	return m.busy(), nil
}

func (m *Motor) ResetEncoder() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.integrate()
	m.pos = 0
	return nil
}

// Writes returns every power value written so far, in order.
func (m *Motor) Writes() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.writes...)
}

// SetPosition teleports the encoder, for test setup.
func (m *Motor) SetPosition(ticks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.integrate()
	m.pos = float64(ticks)
}

func (m *Motor) busy() bool {
	return m.mode == hardware.RunModeToPosition &&
		math.Abs(float64(m.target)-m.pos) > float64(m.cfg.Tolerance)
}

// integrate advances the encoder to the clock's current time. Caller holds mu.
func (m *Motor) integrate() {
	now := m.clock.Now()
	elapsed := now.Sub(m.last)
	if elapsed <= 0 {
		return
	}
	m.last = now

	for elapsed > 0 {
		step := elapsed
		if step > maxStep {
			step = maxStep
		}
		elapsed -= step

		applied := m.power
		if m.mode == hardware.RunModeToPosition {
			if !m.busy() {
				continue
			}
			limit := math.Abs(m.power)
			m.pid.SetOutputLimits(-limit, limit)
			applied = m.pid.UpdateDuration(m.pos, step)
		}
		m.pos += applied * m.cfg.TicksPerSecond * step.Seconds()
	}
}

// Servo is a simulated positional servo.
type Servo struct {
	mu     sync.Mutex
	name   string
	pos    float64
	writes []float64
}

// NewServo creates a simulated servo resting at 0.5.
func NewServo(name string) *Servo {
	return &Servo{name: name, pos: 0.5}
}

func (s *Servo) Name() string                    { return s.name }
func (s *Servo) Capability() hardware.Capability { return hardware.CapabilityServo }

func (s *Servo) SetPosition(pos float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = pos
	s.writes = append(s.writes, pos)
	return nil
}

func (s *Servo) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Writes returns every position written so far.
func (s *Servo) Writes() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.writes...)
}

// Sensor is a simulated input channel whose value is set by the test or
// the console.
type Sensor struct {
	mu        sync.Mutex
	name      string
	value     float64
	threshold float64
}

// NewSensor creates a simulated sensor. State is true above threshold.
func NewSensor(name string, threshold float64) *Sensor {
	return &Sensor{name: name, threshold: threshold}
}

func (s *Sensor) Name() string                    { return s.name }
func (s *Sensor) Capability() hardware.Capability { return hardware.CapabilitySensor }

func (s *Sensor) Value() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, nil
}

func (s *Sensor) State() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value > s.threshold, nil
}

// Set updates the reading.
func (s *Sensor) Set(v float64) {
	s.mu.Lock()
	s.value = v
	s.mu.Unlock()
}
