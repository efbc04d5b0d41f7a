package hardware

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// Session holds the device leases of a single OpMode activation.
type Session struct {
	pool  *Pool
	owner string

	mu     sync.Mutex
	leases map[string]lease
	order  []string
	closed bool
}

// lease is the per-device wrapper handed to OpMode code.
type lease interface {
	Device
	safeStop() error
	revoke()
}

// Owner returns the identifier this session claims devices under.
func (s *Session) Owner() string {
	return s.owner
}

// Acquire leases the device named name, which must have capability want.
// Acquiring the same name twice returns the same handle.
func (s *Session) Acquire(name string, want Capability) (Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("acquire %q: %w", name, ErrReleased)
	}

	if l, ok := s.leases[name]; ok {
		if l.Capability() != want {
			return nil, &NotFoundError{Name: name, Want: want, Got: l.Capability()}
		}
		return l, nil
	}

	d, err := s.pool.claim(name, want, s.owner)
	if err != nil {
		return nil, err
	}

	var l lease
	switch want {
	case CapabilityMotor:
		if m, ok := d.(Motor); ok {
			l = &leasedMotor{m: m}
		}
	case CapabilityServo:
		if sv, ok := d.(Servo); ok {
			l = &leasedServo{s: sv}
		}
	case CapabilitySensor:
		if sn, ok := d.(Sensor); ok {
			l = &leasedSensor{s: sn}
		}
	}
	if l == nil {
		s.pool.release(name, s.owner)
		return nil, fmt.Errorf("device %q does not implement the %s interface", name, want)
	}

	s.leases[name] = l
	s.order = append(s.order, name)
	return l, nil
}

// Motor acquires a motor by name.
func (s *Session) Motor(name string) (Motor, error) {
	d, err := s.Acquire(name, CapabilityMotor)
	if err != nil {
		return nil, err
	}
	return d.(Motor), nil
}

// Servo acquires a servo by name.
func (s *Session) Servo(name string) (Servo, error) {
	d, err := s.Acquire(name, CapabilityServo)
	if err != nil {
		return nil, err
	}
	return d.(Servo), nil
}

// Sensor acquires a sensor by name.
func (s *Session) Sensor(name string) (Sensor, error) {
	d, err := s.Acquire(name, CapabilitySensor)
	if err != nil {
		return nil, err
	}
	return d.(Sensor), nil
}

// Acquired lists the names leased so far, in acquisition order.
func (s *Session) Acquired() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// SafeStop forces every leased motor to zero power and resets
// run-to-position motors to encoder mode. It is idempotent and keeps going
// past individual device failures.
func (s *Session) SafeStop() error {
	s.mu.Lock()
	leases := s.snapshot()
	s.mu.Unlock()

	var errs []error
	for _, l := range leases {
		if err := l.safeStop(); err != nil {
			errs = append(errs, fmt.Errorf("safe stop %s: %w", l.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close revokes every lease, then safe-stops all devices and returns them
// to the pool. Leases are revoked before the zero writes so that code still
// holding a handle cannot power a motor after it has been stopped. Further
// use of any handle from this session fails with ErrReleased.
func (s *Session) Close() error {
	s.mu.Lock()
	first := !s.closed
	s.closed = true
	leases := s.snapshot()
	for _, l := range leases {
		l.revoke()
	}
	s.mu.Unlock()

	err := s.SafeStop()
	if first {
		for _, l := range leases {
			s.pool.release(l.Name(), s.owner)
		}
	}
	return err
}

func (s *Session) snapshot() []lease {
	out := make([]lease, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.leases[name])
	}
	return out
}

type leasedMotor struct {
	mu      sync.Mutex
	m       Motor
	revoked bool
}

func (l *leasedMotor) Name() string           { return l.m.Name() }
func (l *leasedMotor) Capability() Capability { return CapabilityMotor }

func (l *leasedMotor) SetDirection(d Direction) error {
	if err := d.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.revoked {
		return ErrReleased
	}
	return l.m.SetDirection(d)
}

func (l *leasedMotor) Direction() Direction { return l.m.Direction() }

func (l *leasedMotor) SetMode(m RunMode) error {
	if err := m.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.revoked {
		return ErrReleased
	}
	return l.m.SetMode(m)
}

func (l *leasedMotor) Mode() RunMode { return l.m.Mode() }

func (l *leasedMotor) SetPower(p float64) error {
	if math.IsNaN(p) || p < -1 || p > 1 {
		return &RangeError{Device: l.m.Name(), What: "power", Value: p, Min: -1, Max: 1}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.revoked {
		return ErrReleased
	}
	return l.m.SetPower(p)
}

func (l *leasedMotor) Power() float64 { return l.m.Power() }

func (l *leasedMotor) CurrentPosition() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.revoked {
		return 0, ErrReleased
	}
	return l.m.CurrentPosition()
}

func (l *leasedMotor) SetTargetPosition(ticks int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.revoked {
		return ErrReleased
	}
	return l.m.SetTargetPosition(ticks)
}

func (l *leasedMotor) TargetPosition() int { return l.m.TargetPosition() }

func (l *leasedMotor) IsBusy() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.revoked {
		return false, ErrReleased
	}
	return l.m.IsBusy()
}

func (l *leasedMotor) ResetEncoder() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.revoked {
		return ErrReleased
	}
	return l.m.ResetEncoder()
}

// safeStop bypasses the revoked flag so stopping twice still writes zero.
func (l *leasedMotor) safeStop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.m.SetPower(0)
	if mode := l.m.Mode(); mode.SafeMode() != mode {
		err = errors.Join(err, l.m.SetMode(mode.SafeMode()))
	}
	return err
}

func (l *leasedMotor) revoke() {
	l.mu.Lock()
	l.revoked = true
	l.mu.Unlock()
}

type leasedServo struct {
	mu      sync.Mutex
	s       Servo
	revoked bool
}

func (l *leasedServo) Name() string           { return l.s.Name() }
func (l *leasedServo) Capability() Capability { return CapabilityServo }

func (l *leasedServo) SetPosition(pos float64) error {
	if math.IsNaN(pos) || pos < 0 || pos > 1 {
		return &RangeError{Device: l.s.Name(), What: "position", Value: pos, Min: 0, Max: 1}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.revoked {
		return ErrReleased
	}
	return l.s.SetPosition(pos)
}

func (l *leasedServo) Position() float64 { return l.s.Position() }

// Servos hold their last position; there is no zero-power state to force.
func (l *leasedServo) safeStop() error { return nil }

func (l *leasedServo) revoke() {
	l.mu.Lock()
	l.revoked = true
	l.mu.Unlock()
}

type leasedSensor struct {
	mu      sync.Mutex
	s       Sensor
	revoked bool
}

func (l *leasedSensor) Name() string           { return l.s.Name() }
func (l *leasedSensor) Capability() Capability { return CapabilitySensor }

func (l *leasedSensor) Value() (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.revoked {
		return 0, ErrReleased
	}
	return l.s.Value()
}

func (l *leasedSensor) State() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.revoked {
		return false, ErrReleased
	}
	return l.s.State()
}

func (l *leasedSensor) safeStop() error { return nil }

func (l *leasedSensor) revoke() {
	l.mu.Lock()
	l.revoked = true
	l.mu.Unlock()
}
