package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/robocore/robocore/pkg/engine"
	"github.com/robocore/robocore/pkg/stores"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestWorkspace(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "robot.cue")
	dbPath := filepath.Join(dir, "robo.db")

	out, err := execute(t, "init", dir, "--name", "rover")
	if err != nil {
		t.Fatalf("init error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "Created "+cfgPath) {
		t.Errorf("init output missing config:\n%s", out)
	}

	out, err = execute(t, "init", dir)
	if err != nil {
		t.Fatalf("second init error = %v", err)
	}
	if !strings.Contains(out, cfgPath+" already exists") {
		t.Errorf("second init overwrote files:\n%s", out)
	}

	out, err = execute(t, "validate", "-c", cfgPath)
	if err != nil {
		t.Fatalf("validate error = %v\n%s", err, out)
	}
	for _, want := range []string{"Configuration: rover", "Script: BlueLeft", "Policy: slow-arm (loaded)", "Policy: no-motion-in-init (builtin)"} {
		if !strings.Contains(out, want) {
			t.Errorf("validate output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "opmodes", "-c", cfgPath, "--json")
	if err != nil {
		t.Fatalf("opmodes error = %v", err)
	}
	var descs []engine.Descriptor
	if err := json.Unmarshal([]byte(out), &descs); err != nil {
		t.Fatalf("opmodes output is not JSON: %v\n%s", err, out)
	}
	if len(descs) != 8 {
		t.Errorf("len(opmodes) = %d, want 8", len(descs))
	}
	found := false
	for _, d := range descs {
		if d.Name == "BlueLeft" {
			found = d.Variant == engine.VariantLinear && d.Group == "autonomous"
		}
	}
	if !found {
		t.Errorf("BlueLeft missing or wrong in %+v", descs)
	}

	out, err = execute(t, "opmodes", "-c", cfgPath, "--group", "teleop")
	if err != nil {
		t.Fatalf("opmodes --group error = %v", err)
	}
	if strings.Contains(out, "TimedAuto") || !strings.Contains(out, "TankTeleOp") {
		t.Errorf("opmodes --group teleop:\n%s", out)
	}

	out, err = execute(t, "run", "TimedAuto", "-c", cfgPath, "--db", dbPath, "--stop-after", "100ms")
	if err != nil {
		t.Fatalf("run error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "TimedAuto stopped after") {
		t.Errorf("run output missing result:\n%s", out)
	}

	out, err = execute(t, "history", "--db", dbPath)
	if err != nil {
		t.Fatalf("history error = %v", err)
	}
	if !strings.Contains(out, "TimedAuto") || !strings.Contains(out, "1 run(s), 0 live, 1 stopped") {
		t.Errorf("history output:\n%s", out)
	}

	id := onlyRunID(t, dbPath)
	out, err = execute(t, "history", id, "--db", dbPath)
	if err != nil {
		t.Fatalf("history %s error = %v", id, err)
	}
	for _, want := range []string{"OpMode:   TimedAuto (linear)", "Outcome:  stopped", "running -> stopped"} {
		if !strings.Contains(out, want) {
			t.Errorf("history detail missing %q:\n%s", want, out)
		}
	}
}

func onlyRunID(t *testing.T, dbPath string) string {
	t.Helper()
	store, err := openStore(context.Background(), dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	runs, err := store.ListRuns(context.Background(), stores.RunFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	return runs[0].ID
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "robot.cue")
	if _, err := execute(t, "init", dir); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no opmode", []string{"run", "-c", cfgPath}, "opmode is required"},
		{"console file", []string{"run", "--console", "pad.ndjson", "-c", cfgPath}, "only supports -"},
		{"unknown opmode", []string{"run", "Nope", "-c", cfgPath}, "Nope"},
		{"bad trace exporter", []string{"run", "TimedAuto", "--trace", "zipkin", "-c", cfgPath}, "zipkin"},
		{"missing config", []string{"run", "TimedAuto", "-c", filepath.Join(dir, "missing.cue")}, "missing.cue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRun_Console(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "robot.cue")
	if _, err := execute(t, "init", dir); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(`{"type":"INIT","data":{"opmode":"TankTeleOp"}}
{"type":"START"}
{"type":"SENSOR","data":{"name":"touch","value":1}}
{"type":"STOP"}
`))
	cmd.SetArgs([]string{"run", "--console", "-", "-c", cfgPath})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("run --console error = %v\n%s", err, out.String())
	}

	got := out.String()
	for _, want := range []string{`"type":"READY"`, `"robot":"`, `"TankTeleOp"`, `"type":"RESULT"`} {
		if !strings.Contains(got, want) {
			t.Errorf("console output missing %s:\n%s", want, got)
		}
	}
	if strings.Contains(got, `"type":"ERROR"`) {
		t.Errorf("console output has an error:\n%s", got)
	}
}
