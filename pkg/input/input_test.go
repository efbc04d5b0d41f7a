package input

import (
	"sync"
	"testing"
)

func TestSnapshot_Validate(t *testing.T) {
	tests := []struct {
		name    string
		snap    Snapshot
		wantErr bool
	}{
		{name: "at rest", snap: Snapshot{}},
		{name: "full deflection", snap: Snapshot{Gamepad1: Gamepad{LeftStickY: -1, RightStickX: 1, RightTrigger: 1}}},
		{name: "stick beyond range", snap: Snapshot{Gamepad2: Gamepad{LeftStickX: 1.2}}, wantErr: true},
		{name: "negative trigger", snap: Snapshot{Gamepad1: Gamepad{LeftTrigger: -0.1}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.snap.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLatch_SetGamepad(t *testing.T) {
	l := NewLatch()

	if err := l.SetGamepad(2, Gamepad{A: true}); err != nil {
		t.Fatalf("SetGamepad() error = %v", err)
	}
	if err := l.SetGamepad(3, Gamepad{}); err == nil {
		t.Error("SetGamepad(3) error = nil, want error")
	}
	if err := l.SetGamepad(1, Gamepad{LeftStickY: 4}); err == nil {
		t.Error("SetGamepad() with out-of-range axis error = nil, want error")
	}

	snap := l.Snapshot()
	if !snap.Gamepad2.A || snap.Gamepad1.A {
		t.Errorf("Snapshot() = %+v, want only gamepad2.a pressed", snap)
	}
	if l.Updates() != 1 {
		t.Errorf("Updates() = %d, want 1", l.Updates())
	}
}

func TestLatch_ConcurrentReaders(t *testing.T) {
	l := NewLatch()
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = l.Snapshot()
			}
		}()
	}
	for j := 0; j < 100; j++ {
		_ = l.Set(Snapshot{Gamepad1: Gamepad{LeftStickY: float64(j%3-1) / 2}})
	}
	wg.Wait()
}

func TestGamepad_AtRest(t *testing.T) {
	if !(Gamepad{A: true}).AtRest() {
		t.Error("AtRest() = false with only a button pressed")
	}
	if (Gamepad{RightTrigger: 0.3}).AtRest() {
		t.Error("AtRest() = true with a trigger pulled")
	}
}
