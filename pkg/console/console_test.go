package console

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/robocore/robocore/pkg/console/protocol"
	"github.com/robocore/robocore/pkg/engine"
	"github.com/robocore/robocore/pkg/hardware"
	"github.com/robocore/robocore/pkg/hardware/sim"
	"github.com/robocore/robocore/pkg/input"
	"github.com/robocore/robocore/pkg/telemetry"
)

// mockController records the signals it receives.
type mockController struct {
	mu      sync.Mutex
	calls   []string
	initErr error
	stopErr error
}

func (m *mockController) Init(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "init "+name)
	return m.initErr
}

func (m *mockController) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "start")
	return nil
}

func (m *mockController) Stop(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "stop")
	return m.stopErr
}

func (m *mockController) list() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// readLines decodes every message written to buf.
func readLines(t *testing.T, buf *bytes.Buffer) []protocol.Message {
	t.Helper()
	var out []protocol.Message
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var msg protocol.Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			t.Fatalf("bad output line %q: %v", line, err)
		}
		out = append(out, msg)
	}
	return out
}

func TestSession_Serve(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		initErr   error
		wantCalls []string
		wantCodes []string
	}{
		{
			name: "init start stop",
			input: `{"type":"INIT","data":{"opmode":"TankTeleOp"}}
{"type":"START"}
{"type":"STOP"}
`,
			wantCalls: []string{"init TankTeleOp", "start", "stop"},
		},
		{
			name: "bad line does not end the session",
			input: `not json
{"type":"START"}
`,
			wantCalls: []string{"start"},
			wantCodes: []string{"BAD_MESSAGE"},
		},
		{
			name:      "init without opmode",
			input:     `{"type":"INIT","data":{}}` + "\n",
			wantCodes: []string{"REJECTED"},
		},
		{
			name:      "engine error code is forwarded",
			input:     `{"type":"INIT","data":{"opmode":"Nope"}}` + "\n",
			initErr:   engine.NewConfigurationError("opmode not found", nil).WithCode(engine.ErrCodeOpModeNotFound),
			wantCalls: []string{"init Nope"},
			wantCodes: []string{engine.ErrCodeOpModeNotFound},
		},
		{
			name:      "outbound type is rejected",
			input:     `{"type":"RESULT","data":{}}` + "\n",
			wantCodes: []string{"REJECTED"},
		},
		{
			name:      "gamepad without latch",
			input:     `{"type":"GAMEPAD","data":{"index":1,"gamepad":{}}}` + "\n",
			wantCodes: []string{"REJECTED"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &mockController{initErr: tt.initErr}
			var out bytes.Buffer
			s := NewSession(ctrl, protocol.NewEncoder(&out))

			if err := s.Serve(context.Background(), strings.NewReader(tt.input)); err != nil {
				t.Fatalf("Serve() error = %v", err)
			}

			calls := ctrl.list()
			if strings.Join(calls, ",") != strings.Join(tt.wantCalls, ",") {
				t.Errorf("calls = %v, want %v", calls, tt.wantCalls)
			}

			var codes []string
			for _, msg := range readLines(t, &out) {
				if msg.Type != protocol.MessageTypeError {
					t.Errorf("unexpected %s message", msg.Type)
					continue
				}
				var e protocol.ErrorMessage
				if err := json.Unmarshal(msg.Data, &e); err != nil {
					t.Fatal(err)
				}
				codes = append(codes, e.Code)
			}
			if strings.Join(codes, ",") != strings.Join(tt.wantCodes, ",") {
				t.Errorf("error codes = %v, want %v", codes, tt.wantCodes)
			}
		})
	}
}

func TestSession_ServeStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewSession(&mockController{}, protocol.NewEncoder(&bytes.Buffer{}))

	// A reader that never returns keeps the decoder blocked.
	blocked := &blockingReader{release: make(chan struct{})}
	defer close(blocked.release)

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, blocked) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

type blockingReader struct{ release chan struct{} }

func (r *blockingReader) Read([]byte) (int, error) {
	<-r.release
	return 0, errors.New("closed")
}

func TestSession_GamepadAndSensor(t *testing.T) {
	latch := input.NewLatch()
	touch := sim.NewSensor("touch", 0.5)
	sensors := func(name string, v float64) error {
		if name != touch.Name() {
			return errors.New("unknown sensor " + name)
		}
		touch.Set(v)
		return nil
	}

	var out bytes.Buffer
	s := NewSession(&mockController{}, protocol.NewEncoder(&out),
		WithGamepads(latch), WithSensors(sensors))

	in := `{"type":"GAMEPAD","data":{"index":2,"gamepad":{"left_stick_y":-0.75,"a":true}}}
{"type":"GAMEPAD","data":{"index":1,"gamepad":{"left_trigger":2}}}
{"type":"SENSOR","data":{"name":"touch","value":1}}
{"type":"SENSOR","data":{"name":"arm_limit","value":1}}
`
	if err := s.Serve(context.Background(), strings.NewReader(in)); err != nil {
		t.Fatal(err)
	}

	snap := latch.Snapshot()
	if snap.Gamepad2.LeftStickY != -0.75 || !snap.Gamepad2.A {
		t.Errorf("gamepad2 = %+v", snap.Gamepad2)
	}
	if !snap.Gamepad1.AtRest() {
		t.Errorf("out-of-range gamepad1 was applied: %+v", snap.Gamepad1)
	}
	if pressed, _ := touch.State(); !pressed {
		t.Error("touch sensor not set")
	}

	errs := 0
	for _, msg := range readLines(t, &out) {
		if msg.Type == protocol.MessageTypeError {
			errs++
		}
	}
	if errs != 2 {
		t.Errorf("got %d ERROR lines, want 2 (trigger range, unknown sensor)", errs)
	}
}

func TestSession_Subscriber(t *testing.T) {
	var out bytes.Buffer
	s := NewSession(&mockController{}, protocol.NewEncoder(&out))
	sub := s.Subscriber()

	sub(telemetry.Event{Type: telemetry.EventTypeTransition, RunID: "run-1", OpMode: "Auto",
		Data: map[string]interface{}{"from": "init_idle", "to": "running"}})
	sub(telemetry.Event{Type: telemetry.EventTypeMotionDone})
	sub(telemetry.Event{Type: telemetry.EventTypeRunFault, RunID: "run-1", OpMode: "Auto",
		Data: map[string]interface{}{"class": "runtime", "reason": "arm jammed"}})
	sub(telemetry.Event{Type: telemetry.EventTypeRunStopped, RunID: "run-1", OpMode: "Auto",
		Data: map[string]interface{}{"outcome": "faulted", "duration": 1.25}})

	lines := readLines(t, &out)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want STATE and RESULT", len(lines))
	}

	var state protocol.StateMessage
	if lines[0].Type != protocol.MessageTypeState {
		t.Fatalf("first line = %s", lines[0].Type)
	}
	if err := json.Unmarshal(lines[0].Data, &state); err != nil {
		t.Fatal(err)
	}
	if state.From != "init_idle" || state.To != "running" || state.RunID != "run-1" {
		t.Errorf("state = %+v", state)
	}

	var res protocol.ResultMessage
	if lines[1].Type != protocol.MessageTypeResult {
		t.Fatalf("second line = %s", lines[1].Type)
	}
	if err := json.Unmarshal(lines[1].Data, &res); err != nil {
		t.Fatal(err)
	}
	if res.Outcome != "faulted" || res.Error != "arm jammed" || res.Duration != 1.25 {
		t.Errorf("result = %+v", res)
	}
}

func TestSession_Ready(t *testing.T) {
	catalog := engine.NewCatalog()
	err := catalog.RegisterLinear(engine.Descriptor{Name: "Park", Group: "autonomous", Description: "stay put"},
		func() engine.Linear { return engine.LinearFunc(func(*engine.LinearContext) error { return nil }) })
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	s := NewSession(&mockController{}, protocol.NewEncoder(&out))
	if err := s.Ready("sim", "1.2.3", catalog); err != nil {
		t.Fatal(err)
	}

	lines := readLines(t, &out)
	if len(lines) != 1 || lines[0].Type != protocol.MessageTypeReady {
		t.Fatalf("lines = %+v", lines)
	}
	var ready protocol.ReadyMessage
	if err := json.Unmarshal(lines[0].Data, &ready); err != nil {
		t.Fatal(err)
	}
	if ready.Robot != "sim" || len(ready.OpModes) != 1 || ready.OpModes[0].Variant != "linear" {
		t.Errorf("ready = %+v", ready)
	}
}

func TestSink(t *testing.T) {
	var out bytes.Buffer
	panel := telemetry.NewPanel()
	sink := NewSink(panel, protocol.NewEncoder(&out))

	if err := sink.Flush(); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Fatalf("empty flush wrote %q", out.String())
	}

	sink.AddRow("left", 0.5)
	sink.AddRow("mode", "tank")
	if err := sink.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := sink.Flush(); err != nil {
		t.Fatal(err)
	}

	lines := readLines(t, &out)
	if len(lines) != 1 || lines[0].Type != protocol.MessageTypeTelemetry {
		t.Fatalf("lines = %+v", lines)
	}
	var frame protocol.TelemetryMessage
	if err := json.Unmarshal(lines[0].Data, &frame); err != nil {
		t.Fatal(err)
	}
	want := []protocol.TelemetryRow{{Caption: "left", Value: "0.500"}, {Caption: "mode", Value: "tank"}}
	if len(frame.Rows) != len(want) || frame.Rows[0] != want[0] || frame.Rows[1] != want[1] {
		t.Errorf("rows = %+v, want %+v", frame.Rows, want)
	}
	if len(panel.Frames()) != 1 {
		t.Errorf("panel kept %d frames, want 1", len(panel.Frames()))
	}
}

// TestSession_Engine drives a real engine from console lines.
func TestSession_Engine(t *testing.T) {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "error"
	cfg.Events.EnableAsync = false
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		t.Fatal(err)
	}

	catalog := engine.NewCatalog()
	err = catalog.RegisterLinear(engine.Descriptor{Name: "Park", Group: "autonomous"}, func() engine.Linear {
		return engine.LinearFunc(func(lc *engine.LinearContext) error {
			return lc.WaitForStart()
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	eng := engine.New(catalog, hardware.NewPool(hardware.NewMap()), nil, nil,
		engine.WithTelemetry(tel),
		engine.WithQuantum(2*time.Millisecond),
		engine.WithIDGenerator(func() string { return "run-1" }),
	)

	var out bytes.Buffer
	s := NewSession(eng, protocol.NewEncoder(&out))
	tel.Events.Subscribe(s.Subscriber(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	in := `{"type":"INIT","data":{"opmode":"Park"}}
{"type":"START"}
`
	if err := s.Serve(ctx, strings.NewReader(in)); err != nil {
		t.Fatal(err)
	}
	res, err := eng.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != engine.OutcomeCompleted {
		t.Fatalf("Outcome = %s", res.Outcome)
	}

	var states []string
	var result *protocol.ResultMessage
	for _, msg := range readLines(t, &out) {
		switch msg.Type {
		case protocol.MessageTypeState:
			var st protocol.StateMessage
			if err := json.Unmarshal(msg.Data, &st); err != nil {
				t.Fatal(err)
			}
			states = append(states, st.To)
		case protocol.MessageTypeResult:
			result = &protocol.ResultMessage{}
			if err := json.Unmarshal(msg.Data, result); err != nil {
				t.Fatal(err)
			}
		default:
			t.Errorf("unexpected %s line", msg.Type)
		}
	}

	if got := strings.Join(states, " "); got != "initializing init_idle running stopped" {
		t.Errorf("states = %q", got)
	}
	if result == nil || result.Outcome != string(engine.OutcomeCompleted) || result.RunID != "run-1" {
		t.Errorf("result = %+v", result)
	}
}
