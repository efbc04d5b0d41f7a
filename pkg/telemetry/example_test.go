package telemetry_test

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robocore/robocore/pkg/telemetry"
)

func Example_componentLogging() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Format = "json"

	logger := telemetry.NewWriterLogger(os.Stdout, cfg.Logging).
		NewComponentLogger("engine").
		WithOpMode("TankTeleOp")
	logger.Debug("not shown at info level")

	// Output varies with the timestamp, no output specified.
}

func ExamplePanel() {
	panel := telemetry.NewPanel(telemetry.WithPanelOutput(os.Stdout))

	panel.AddRow("status", "running")
	panel.AddRow("left", 0.5)
	panel.AddRow("right", -0.25)
	_ = panel.Flush()

	// Nothing pending, nothing printed.
	_ = panel.Flush()

	// Output:
	// status: running | left: 0.500 | right: -0.250
}

func ExampleEventPublisher() {
	cfg := telemetry.DefaultConfig().Events
	cfg.EnableAsync = false

	events, _ := telemetry.NewEventPublisher(cfg)
	defer events.Shutdown(context.Background())

	events.Subscribe(func(e telemetry.Event) {
		fmt.Println(e.Type, e.Message)
	}, telemetry.FilterByType(telemetry.EventTypeRunStopped))

	_ = events.PublishTransition("run-1", "AutoDrive", "running", "stopped")
	_ = events.PublishRunStopped("run-1", "AutoDrive", "completed", 30*time.Second)

	// Output:
	// opmode.stopped AutoDrive stopped (completed)
}
