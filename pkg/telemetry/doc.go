// Package telemetry provides observability for the robot runtime and the
// driver-station display channel.
//
// Four components are bundled in Telemetry:
//
//  1. Logger: zerolog with component, OpMode and run fields
//  2. Tracer: OpenTelemetry spans per OpMode run and motion request
//  3. Metrics: Prometheus counters and histograms for runs, cycles and motions
//  4. EventPublisher: lifecycle events delivered to in-process subscribers
//
// Usage:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	logger := tel.Logger.NewComponentLogger("engine").WithOpMode("TankTeleOp")
//	logger.Info("initializing")
//
// The display channel is separate: OpModes write rows to a Sink and flush
// once per cycle. Panel is the Sink used by the CLI and by tests:
//
//	panel := telemetry.NewPanel(telemetry.WithPanelOutput(os.Stdout))
//	panel.AddRow("left", 0.5)
//	panel.AddRow("right", -0.5)
//	_ = panel.Flush()
package telemetry
