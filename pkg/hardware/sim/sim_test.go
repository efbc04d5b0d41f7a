package sim

import (
	"math"
	"testing"
	"time"

	"github.com/robocore/robocore/pkg/hardware"
)

func TestMotor_IntegratesPower(t *testing.T) {
	clock := NewManualClock()
	m := NewMotor("m", MotorConfig{TicksPerSecond: 1000}, clock)

	if err := m.SetPower(0.5); err != nil {
		t.Fatalf("SetPower() error = %v", err)
	}
	clock.Advance(2 * time.Second)

	pos, err := m.CurrentPosition()
	if err != nil {
		t.Fatalf("CurrentPosition() error = %v", err)
	}
	if pos != 1000 {
		t.Errorf("CurrentPosition() = %d, want 1000", pos)
	}
}

func TestMotor_ReverseDirection(t *testing.T) {
	clock := NewManualClock()
	m := NewMotor("m", MotorConfig{TicksPerSecond: 1000}, clock)

	_ = m.SetDirection(hardware.DirectionReverse)
	_ = m.SetPower(1)
	clock.Advance(time.Second)

	pos, _ := m.CurrentPosition()
	if pos != 1000 {
		t.Errorf("CurrentPosition() = %d, want 1000 in the motor's own frame", pos)
	}

	_ = m.SetDirection(hardware.DirectionForward)
	pos, _ = m.CurrentPosition()
	if pos != -1000 {
		t.Errorf("CurrentPosition() after flipping = %d, want -1000", pos)
	}
}

func TestMotor_RunToPosition(t *testing.T) {
	tests := []struct {
		name   string
		start  int
		target int
		power  float64
	}{
		{name: "forward", start: 0, target: 1500, power: 0.5},
		{name: "backward", start: 2000, target: 500, power: 0.8},
		{name: "negative power magnitude", start: 0, target: 800, power: -0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewManualClock()
			cfg := DefaultMotorConfig()
			m := NewMotor("m", cfg, clock)
			m.SetPosition(tt.start)

			_ = m.SetTargetPosition(tt.target)
			_ = m.SetMode(hardware.RunModeToPosition)
			_ = m.SetPower(tt.power)

			busy, _ := m.IsBusy()
			if !busy {
				t.Fatal("IsBusy() = false right after starting a move")
			}

			for i := 0; i < 400 && busy; i++ {
				clock.Advance(10 * time.Millisecond)
				busy, _ = m.IsBusy()
			}
			if busy {
				pos, _ := m.CurrentPosition()
				t.Fatalf("still busy after 4s, position %d target %d", pos, tt.target)
			}

			pos, _ := m.CurrentPosition()
			if math.Abs(float64(pos-tt.target)) > float64(cfg.Tolerance) {
				t.Errorf("CurrentPosition() = %d, want within %d of %d", pos, cfg.Tolerance, tt.target)
			}
		})
	}
}

func TestMotor_NotBusyOutsideRunToPosition(t *testing.T) {
	m := NewMotor("m", DefaultMotorConfig(), NewManualClock())
	_ = m.SetTargetPosition(5000)

	busy, _ := m.IsBusy()
	if busy {
		t.Error("IsBusy() = true in using_encoder mode")
	}
}

func TestSensor_State(t *testing.T) {
	s := NewSensor("touch", 0.5)

	if on, _ := s.State(); on {
		t.Error("State() = true at rest")
	}
	s.Set(0.9)
	if on, _ := s.State(); !on {
		t.Error("State() = false above threshold")
	}
}
