// Package serialhub drives motors, servos and sensors attached to a
// microcontroller hub over a serial line.
//
// The hub speaks a line protocol: every request is a numeric opcode
// followed by space separated integer arguments, and every request is
// answered by exactly one line, either "ok", a value, or "err <message>".
// Closed-loop run-to-position happens on the hub; the host only sets the
// target and polls the busy flag.
package serialhub

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/robocore/robocore/pkg/hardware"
)

// Request opcodes.
const (
	opPower   = 1
	opServo   = 2
	opPing    = 3
	opEncoder = 4
	opTarget  = 5
	opBusy    = 6
	opMode    = 7
	opReset   = 8
	opAnalog  = 9
)

// powerScale converts [-1, 1] power to the hub's integer range.
const powerScale = 1000

// Config describes the serial link.
type Config struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
}

// Hub is a connected motor hub.
type Hub struct {
	mu   sync.Mutex
	port io.ReadWriteCloser
	in   *bufio.Reader
	out  *bufio.Writer

	powerCache map[int]int
}

// Open connects to the hub on a serial port and checks that it answers.
func Open(cfg Config) (*Hub, error) {
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Port, err)
	}
	h := New(port)
	if err := h.Ping(); err != nil {
		_ = port.Close()
		return nil, err
	}
	return h, nil
}

// New wraps an already open link.
func New(port io.ReadWriteCloser) *Hub {
	return &Hub{
		port:       port,
		in:         bufio.NewReader(port),
		out:        bufio.NewWriter(port),
		powerCache: make(map[int]int),
	}
}

// Close closes the link.
func (h *Hub) Close() error {
	return h.port.Close()
}

// Ping checks the hub is alive.
func (h *Hub) Ping() error {
	_, err := h.call(opPing)
	return err
}

// call sends one request and returns the reply line.
func (h *Hub) call(op int, args ...int) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var sb strings.Builder
	sb.WriteString(strconv.Itoa(op))
	for _, a := range args {
		sb.WriteByte(' ')
		sb.WriteString(strconv.Itoa(a))
	}
	sb.WriteByte('\n')

	if _, err := h.out.WriteString(sb.String()); err != nil {
		return "", fmt.Errorf("hub write: %w", err)
	}
	if err := h.out.Flush(); err != nil {
		return "", fmt.Errorf("hub flush: %w", err)
	}

	line, err := h.in.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("hub read: %w", err)
	}
	line = strings.TrimSpace(line)
	if msg, ok := strings.CutPrefix(line, "err"); ok {
		return "", fmt.Errorf("hub rejected opcode %d: %s", op, strings.TrimSpace(msg))
	}
	return line, nil
}

func (h *Hub) callOK(op int, args ...int) error {
	reply, err := h.call(op, args...)
	if err != nil {
		return err
	}
	if reply != "ok" {
		return fmt.Errorf("hub opcode %d: unexpected reply %q", op, reply)
	}
	return nil
}

func (h *Hub) callInt(op int, args ...int) (int, error) {
	reply, err := h.call(op, args...)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(reply)
	if err != nil {
		return 0, fmt.Errorf("hub opcode %d: bad integer reply %q", op, reply)
	}
	return v, nil
}

// setPower skips writes that would not change the hub's state.
func (h *Hub) setPower(port int, power float64) error {
	val := int(math.Round(power * powerScale))
	h.mu.Lock()
	old, cached := h.powerCache[port]
	h.mu.Unlock()
	if cached && old == val {
		return nil
	}
	if err := h.callOK(opPower, port, val); err != nil {
		return err
	}
	h.mu.Lock()
	h.powerCache[port] = val
	h.mu.Unlock()
	return nil
}

func modeCode(m hardware.RunMode) int {
	switch m {
	case hardware.RunModeUsingEncoder:
		return 1
	case hardware.RunModeToPosition:
		return 2
	default:
		return 0
	}
}

// Motor returns a handle to the motor on a hub port.
func (h *Hub) Motor(name string, port int) *Motor {
	return &Motor{
		hub:  h,
		name: name,
		port: port,
		dir:  hardware.DirectionForward,
		mode: hardware.RunModeUsingEncoder,
	}
}

// Servo returns a handle to the servo on a hub port.
func (h *Hub) Servo(name string, port int) *Servo {
	return &Servo{hub: h, name: name, port: port}
}

// Sensor returns a handle to an analog channel on the hub.
func (h *Hub) Sensor(name string, port int, threshold float64) *Sensor {
	return &Sensor{hub: h, name: name, port: port, threshold: threshold}
}

// Motor is a hub motor port. Direction is applied on the host side.
type Motor struct {
	hub  *Hub
	name string
	port int

	mu     sync.Mutex
	dir    hardware.Direction
	mode   hardware.RunMode
	power  float64
	target int
}

func (m *Motor) Name() string                    { return m.name }
func (m *Motor) Capability() hardware.Capability { return hardware.CapabilityMotor }

func (m *Motor) SetDirection(d hardware.Direction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dir = d
	return nil
}

func (m *Motor) Direction() hardware.Direction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dir
}

func (m *Motor) SetMode(mode hardware.RunMode) error {
	if err := m.hub.callOK(opMode, m.port, modeCode(mode)); err != nil {
		return err
	}
	m.mu.Lock()
	m.mode = mode
	m.mu.Unlock()
	return nil
}

func (m *Motor) Mode() hardware.RunMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

func (m *Motor) SetPower(p float64) error {
	m.mu.Lock()
	sign := float64(m.dir.Sign())
	if m.mode == hardware.RunModeToPosition {
		// The hub loop supplies the sign.
		sign = 1
		p = math.Abs(p)
	}
	m.mu.Unlock()

	if err := m.hub.setPower(m.port, sign*p); err != nil {
		return err
	}
	m.mu.Lock()
	m.power = p
	m.mu.Unlock()
	return nil
}

func (m *Motor) Power() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.power
}

func (m *Motor) CurrentPosition() (int, error) {
	raw, err := m.hub.callInt(opEncoder, m.port)
	if err != nil {
		return 0, err
	}
	return raw * m.Direction().Sign(), nil
}

func (m *Motor) SetTargetPosition(ticks int) error {
	if err := m.hub.callOK(opTarget, m.port, ticks*m.Direction().Sign()); err != nil {
		return err
	}
	m.mu.Lock()
	m.target = ticks
	m.mu.Unlock()
	return nil
}

func (m *Motor) TargetPosition() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

func (m *Motor) IsBusy() (bool, error) {
	v, err := m.hub.callInt(opBusy, m.port)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (m *Motor) ResetEncoder() error {
	return m.hub.callOK(opReset, m.port)
}

// Servo is a hub servo port; positions are sent as degrees in [0, 180].
type Servo struct {
	hub  *Hub
	name string
	port int

	mu  sync.Mutex
	pos float64
}

func (s *Servo) Name() string                    { return s.name }
func (s *Servo) Capability() hardware.Capability { return hardware.CapabilityServo }

func (s *Servo) SetPosition(pos float64) error {
	deg := int(math.Round(hardware.Clamp(pos, 0, 1) * 180))
	if err := s.hub.callOK(opServo, s.port, deg); err != nil {
		return err
	}
	s.mu.Lock()
	s.pos = pos
	s.mu.Unlock()
	return nil
}

func (s *Servo) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Sensor is a hub analog channel read as a 10-bit value scaled to [0, 1].
type Sensor struct {
	hub       *Hub
	name      string
	port      int
	threshold float64
}

func (s *Sensor) Name() string                    { return s.name }
func (s *Sensor) Capability() hardware.Capability { return hardware.CapabilitySensor }

func (s *Sensor) Value() (float64, error) {
	raw, err := s.hub.callInt(opAnalog, s.port)
	if err != nil {
		return 0, err
	}
	return float64(raw) / 1023, nil
}

func (s *Sensor) State() (bool, error) {
	v, err := s.Value()
	if err != nil {
		return false, err
	}
	return v > s.threshold, nil
}
