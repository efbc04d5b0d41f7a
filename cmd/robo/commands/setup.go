package commands

import (
	"context"
	"fmt"

	"github.com/robocore/robocore/pkg/config"
	"github.com/robocore/robocore/pkg/engine"
	"github.com/robocore/robocore/pkg/opmodes"
	"github.com/robocore/robocore/pkg/policy"
	"github.com/robocore/robocore/pkg/script"
	"github.com/robocore/robocore/pkg/stores"
	"github.com/robocore/robocore/pkg/telemetry"
)

// observability holds the telemetry flags shared by commands that run
// OpModes.
type observability struct {
	metricsAddr  string
	trace        string
	otlpEndpoint string
}

// newTelemetry builds telemetry for a command. Logs go to stderr so stdout
// stays free for results and the console stream.
func newTelemetry(cfg *config.RobotConfig, obs observability, version string) (*telemetry.Telemetry, error) {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	if cfg != nil {
		tc.Environment = cfg.Robot.Name
	}
	if verbose {
		tc.Logging.Level = "debug"
	}
	if jsonOutput {
		tc.Logging.Format = "json"
	}
	if obs.metricsAddr != "" {
		tc.Metrics.Enabled = true
		tc.Metrics.ListenAddress = obs.metricsAddr
	}
	switch obs.trace {
	case "", "none":
	case "stdout", "otlp":
		tc.Tracing.Enabled = true
		tc.Tracing.Exporter = obs.trace
		tc.Tracing.Endpoint = obs.otlpEndpoint
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q (want none, stdout or otlp)", obs.trace)
	}
	return telemetry.NewTelemetry(tc)
}

// loadConfig reads and validates the robot configuration.
func loadConfig(path string) (*config.RobotConfig, error) {
	return config.NewLoader().Load(path)
}

// buildCatalog registers the built-in OpModes and the config's scripts.
func buildCatalog(cfg *config.RobotConfig) (*engine.Catalog, []*script.Script, error) {
	catalog := engine.NewCatalog()
	if err := opmodes.Register(catalog, opmodes.FromConfig(cfg)); err != nil {
		return nil, nil, fmt.Errorf("built-in opmodes: %w", err)
	}
	scripts, err := script.Register(catalog, cfg.Scripts...)
	if err != nil {
		return nil, nil, err
	}
	return catalog, scripts, nil
}

// newGuard builds the motion safety guard with the config's policies.
func newGuard(ctx context.Context, cfg *config.RobotConfig, tel *telemetry.Telemetry) (*policy.Guard, error) {
	guard, err := policy.NewGuard(tel.Logger.Zerolog(),
		policy.WithMetrics(tel.Metrics),
		policy.WithRobot(cfg.Robot.Name),
	)
	if err != nil {
		return nil, err
	}
	if cfg.Policy != nil {
		if err := guard.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return nil, err
		}
	}
	return guard, nil
}

// openStore opens the run journal at path, creating it if needed.
func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}
