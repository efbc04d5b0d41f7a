package serialhub

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/robocore/robocore/pkg/hardware"
)

// fakePort answers requests synchronously, the way the hub firmware does.
type fakePort struct {
	mu      sync.Mutex
	pending bytes.Buffer
	replies bytes.Buffer
	lines   []string

	encoder map[int]int
	busy    map[int]bool
	analog  map[int]int
	reject  int
}

func newFakePort() *fakePort {
	return &fakePort{
		encoder: make(map[int]int),
		busy:    make(map[int]bool),
		analog:  make(map[int]int),
	}
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending.Write(p)
	for {
		line, err := f.pending.ReadString('\n')
		if err != nil {
			// Keep the partial line for the next write.
			f.pending.Reset()
			f.pending.WriteString(line)
			break
		}
		line = strings.TrimSpace(line)
		f.lines = append(f.lines, line)
		f.replies.WriteString(f.answer(line) + "\n")
	}
	return len(p), nil
}

func (f *fakePort) answer(line string) string {
	fields := strings.Fields(line)
	op, _ := strconv.Atoi(fields[0])
	if op == f.reject {
		return "err busy"
	}
	var port int
	if len(fields) > 1 {
		port, _ = strconv.Atoi(fields[1])
	}
	switch op {
	case opEncoder:
		return strconv.Itoa(f.encoder[port])
	case opBusy:
		if f.busy[port] {
			return "1"
		}
		return "0"
	case opAnalog:
		return strconv.Itoa(f.analog[port])
	default:
		return "ok"
	}
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replies.Read(p)
}

func (f *fakePort) Close() error { return nil }

func (f *fakePort) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func TestMotor_SetPowerAppliesDirection(t *testing.T) {
	port := newFakePort()
	hub := New(port)
	m := hub.Motor("left_drive", 2)

	if err := m.SetPower(0.5); err != nil {
		t.Fatalf("SetPower() error = %v", err)
	}
	_ = m.SetDirection(hardware.DirectionReverse)
	if err := m.SetPower(0.25); err != nil {
		t.Fatalf("SetPower() error = %v", err)
	}

	want := []string{"1 2 500", "1 2 -250"}
	got := port.sent()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("sent %v, want %v", got, want)
	}
	if m.Power() != 0.25 {
		t.Errorf("Power() = %v, want 0.25", m.Power())
	}
}

func TestMotor_SkipsRedundantPowerWrites(t *testing.T) {
	port := newFakePort()
	hub := New(port)
	m := hub.Motor("arm", 0)

	for i := 0; i < 3; i++ {
		if err := m.SetPower(0); err != nil {
			t.Fatalf("SetPower() error = %v", err)
		}
	}
	if n := len(port.sent()); n != 1 {
		t.Errorf("sent %d requests, want 1", n)
	}
}

func TestMotor_EncoderAndTarget(t *testing.T) {
	port := newFakePort()
	port.encoder[1] = -1200
	port.busy[1] = true
	hub := New(port)
	m := hub.Motor("right_drive", 1)
	_ = m.SetDirection(hardware.DirectionReverse)

	pos, err := m.CurrentPosition()
	if err != nil {
		t.Fatalf("CurrentPosition() error = %v", err)
	}
	if pos != 1200 {
		t.Errorf("CurrentPosition() = %d, want 1200", pos)
	}

	if err := m.SetTargetPosition(3000); err != nil {
		t.Fatalf("SetTargetPosition() error = %v", err)
	}
	if err := m.SetMode(hardware.RunModeToPosition); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}
	busy, err := m.IsBusy()
	if err != nil || !busy {
		t.Errorf("IsBusy() = %v, %v; want true, nil", busy, err)
	}

	sent := port.sent()
	if sent[1] != "5 1 -3000" {
		t.Errorf("target request = %q, want %q", sent[1], "5 1 -3000")
	}
	if sent[2] != "7 1 2" {
		t.Errorf("mode request = %q, want %q", sent[2], "7 1 2")
	}
}

func TestServoAndSensor(t *testing.T) {
	port := newFakePort()
	port.analog[3] = 1023
	hub := New(port)

	sv := hub.Servo("claw", 0)
	if err := sv.SetPosition(0.5); err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}
	if got := port.sent()[0]; got != "2 0 90" {
		t.Errorf("servo request = %q, want %q", got, "2 0 90")
	}

	sn := hub.Sensor("touch", 3, 0.5)
	on, err := sn.State()
	if err != nil || !on {
		t.Errorf("State() = %v, %v; want true, nil", on, err)
	}
}

func TestHub_RejectedRequest(t *testing.T) {
	port := newFakePort()
	port.reject = opPing
	hub := New(port)

	if err := hub.Ping(); err == nil {
		t.Error("Ping() error = nil, want rejection")
	}
}
