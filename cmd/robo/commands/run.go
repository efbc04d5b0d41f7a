package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/robocore/robocore/pkg/config"
	"github.com/robocore/robocore/pkg/console"
	"github.com/robocore/robocore/pkg/console/protocol"
	"github.com/robocore/robocore/pkg/engine"
	"github.com/robocore/robocore/pkg/hardware"
	"github.com/robocore/robocore/pkg/input"
	"github.com/robocore/robocore/pkg/policy"
	"github.com/robocore/robocore/pkg/stores"
	"github.com/robocore/robocore/pkg/telemetry"
)

// signalTimeout bounds Init and Stop issued by the CLI.
const signalTimeout = 10 * time.Second

type runOptions struct {
	startAfter time.Duration
	stopAfter  time.Duration
	consoleArg string
	dbPath     string
	obs        observability
}

func newRunCommand(version string) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [opmode]",
		Short: "Run an OpMode",
		Long: `Initialize and start an OpMode on the configured robot.

Without --console the lifecycle is driven by timers: the OpMode is
initialized, started after --start-after and stopped after --stop-after,
when it finishes on its own, or on Ctrl-C.

With --console - the lifecycle is driven by an operator console speaking
newline-delimited JSON on stdin. State changes, telemetry and results are
written to stdout. The opmode argument is then optional and, when given,
is initialized before the first console message is read.`,
		Example: `  # Run an autonomous routine to completion
  robo run EncoderAuto -c robot.cue

  # Drive teleop for 30 seconds after a 2 second init
  robo run TankTeleOp --start-after 2s --stop-after 30s

  # Journal runs and expose metrics
  robo run PIDAuto --db robo.db --metrics :9464

  # Drive from a console on stdin/stdout
  robo run --console -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			switch opts.consoleArg {
			case "":
				if name == "" {
					return fmt.Errorf("an opmode is required without --console")
				}
			case "-":
			default:
				return fmt.Errorf("--console only supports - (stdin/stdout)")
			}
			return runOpMode(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), name, opts, version)
		},
	}

	cmd.Flags().DurationVar(&opts.startAfter, "start-after", 0, "time to stay in init before starting")
	cmd.Flags().DurationVar(&opts.stopAfter, "stop-after", 0, "stop this long after start (0 runs until the OpMode finishes)")
	cmd.Flags().StringVar(&opts.consoleArg, "console", "", "drive the lifecycle from an NDJSON console (- for stdin/stdout)")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "journal runs to this SQLite database")
	cmd.Flags().StringVar(&opts.obs.metricsAddr, "metrics", "", "serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&opts.obs.trace, "trace", "none", "trace exporter: none, stdout or otlp")
	cmd.Flags().StringVar(&opts.obs.otlpEndpoint, "otlp-endpoint", "localhost:4317", "OTLP collector address")

	return cmd
}

func runOpMode(ctx context.Context, in io.Reader, out io.Writer, name string, opts runOptions, version string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// The store is opened before telemetry so that it outlives the final
	// drain of buffered events.
	var store *stores.SQLiteStore
	if opts.dbPath != "" {
		store, err = openStore(ctx, opts.dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	tel, err := newTelemetry(cfg, opts.obs, version)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Telemetry shutdown failed")
		}
	}()

	robot, err := config.Build(cfg)
	if err != nil {
		return err
	}
	defer robot.Close()

	catalog, _, err := buildCatalog(cfg)
	if err != nil {
		return err
	}
	guard, err := newGuard(ctx, cfg, tel)
	if err != nil {
		return err
	}

	engineOpts := []engine.Option{
		engine.WithTelemetry(tel),
		engine.WithGuard(guard),
		engine.WithQuantum(cfg.Quantum()),
		engine.WithStopTimeout(cfg.StopTimeout()),
	}
	if store != nil {
		engineOpts = append(engineOpts, engine.WithJournal(store))
		tel.Events.Subscribe(store.EventSubscriber(tel.Logger), telemetry.FilterByLevel(telemetry.EventLevelWarning))
	}

	latch := input.NewLatch()
	pool := hardware.NewPool(robot.Registry)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error { return tel.Metrics.Serve(runCtx) })
	if err := watchPolicies(runCtx, cfg, guard); err != nil {
		return err
	}

	if opts.consoleArg != "" {
		enc := protocol.NewEncoder(out)
		panel := telemetry.NewPanel(telemetry.WithPanelLogger(tel.Logger))
		eng := engine.New(catalog, pool, latch, console.NewSink(panel, enc), engineOpts...)
		session := console.NewSession(eng, enc,
			console.WithGamepads(latch),
			console.WithSensors(simSensors(robot)),
			console.WithLogger(tel.Logger.NewComponentLogger("console")),
			console.WithSignalTimeout(signalTimeout),
		)
		tel.Events.Subscribe(session.Subscriber(), nil)

		g.Go(func() error {
			defer cancel()
			return serveConsole(runCtx, eng, session, cfg.Robot.Name, name, version, in)
		})
		return g.Wait()
	}

	panel := telemetry.NewPanel(telemetry.WithPanelOutput(out), telemetry.WithPanelLogger(tel.Logger))
	eng := engine.New(catalog, pool, latch, panel, engineOpts...)

	var res engine.Result
	g.Go(func() error {
		defer cancel()
		var err error
		res, err = driveTimed(runCtx, eng, name, opts.startAfter, opts.stopAfter)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s %s after %s\n", res.OpMode, res.Outcome, res.Duration().Round(time.Millisecond))
	if res.SafeStopErr != nil {
		log.Warn().Err(res.SafeStopErr).Msg("Safe stop incomplete")
	}
	return res.Err
}

// driveTimed initializes name, starts it after startAfter and stops it
// after stopAfter, when it finishes on its own or when ctx is done.
func driveTimed(ctx context.Context, eng *engine.Engine, name string, startAfter, stopAfter time.Duration) (engine.Result, error) {
	initCtx, cancel := context.WithTimeout(ctx, signalTimeout)
	err := eng.Init(initCtx, name)
	cancel()
	if err != nil {
		if stopped(eng) {
			// The OpMode faulted during init; its result carries the fault.
			return wait(eng)
		}
		if _, serr := stop(eng); serr != nil && !engine.IsCaller(serr) {
			err = errors.Join(err, serr)
		}
		return engine.Result{}, err
	}

	if !sleepCtx(ctx, eng.Done(), startAfter) {
		return stop(eng)
	}
	if err := eng.Start(); err != nil && !engine.IsCaller(err) {
		return engine.Result{}, err
	}

	var deadline <-chan time.Time
	if stopAfter > 0 {
		timer := time.NewTimer(stopAfter)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-eng.Done():
		return wait(eng)
	case <-deadline:
	case <-ctx.Done():
	}
	return stop(eng)
}

// sleepCtx waits for d. It reports false if ctx or done ended first.
func sleepCtx(ctx context.Context, done <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-done:
		return false
	}
}

func stopped(eng *engine.Engine) bool {
	done := eng.Done()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// stop requests stop and returns the final result. It uses a fresh
// context so that a cancelled run still gets its safe stop.
func stop(eng *engine.Engine) (engine.Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		return engine.Result{}, fmt.Errorf("stopping opmode: %w", err)
	}
	return eng.Wait(ctx)
}

func wait(eng *engine.Engine) (engine.Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()
	return eng.Wait(ctx)
}

// serveConsole announces the robot, optionally initializes name, then
// applies console messages until the console closes or ctx is done.
// Whatever is still running afterwards is stopped.
func serveConsole(ctx context.Context, eng *engine.Engine, session *console.Session,
	robot, name, version string, in io.Reader) error {
	if err := session.Ready(robot, version, eng.Catalog()); err != nil {
		return err
	}
	if name != "" {
		initCtx, cancel := context.WithTimeout(ctx, signalTimeout)
		err := eng.Init(initCtx, name)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("opmode", name).Msg("Initial opmode failed")
		}
	}

	err := session.Serve(ctx, in)
	if _, serr := stop(eng); serr != nil && !engine.IsCaller(serr) {
		err = errors.Join(err, serr)
	}
	return err
}

// watchPolicies reloads the config's policies on change when asked to.
func watchPolicies(ctx context.Context, cfg *config.RobotConfig, guard *policy.Guard) error {
	if cfg.Policy == nil || !cfg.Policy.Watch {
		return nil
	}
	return guard.Watch(ctx, cfg.Policy.Paths)
}

// simSensors lets the console set simulated sensor readings.
func simSensors(robot *config.Robot) console.SensorSetter {
	return func(name string, value float64) error {
		s, ok := robot.SimSensor(name)
		if !ok {
			return fmt.Errorf("sensor %q is not simulated", name)
		}
		s.Set(value)
		return nil
	}
}
