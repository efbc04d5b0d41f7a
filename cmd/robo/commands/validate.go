package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/robocore/robocore/pkg/config"
	"github.com/robocore/robocore/pkg/opmodes"
	"github.com/robocore/robocore/pkg/telemetry"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the robot configuration",
		Long: `Validate the robot configuration and everything it references.

This command checks:
  - CUE or YAML syntax and schema conformance
  - Device and drivetrain settings
  - Starlark scripts and their OPMODE declarations
  - Rego safety policies`,
		Example: `  # Validate robot.cue in the current directory
  robo validate

  # Validate another configuration
  robo validate -c robots/rover.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			log.Info().Str("config", configPath).Msg("Validating configuration")

			cfg, err := loadConfig(configPath)
			if err != nil {
				var le *config.LoadError
				if errors.As(err, &le) {
					for _, p := range le.Errors {
						fmt.Fprintf(out, "✗ %s\n", p)
					}
					return fmt.Errorf("%s: %d problem(s)", le.Source, len(le.Errors))
				}
				return err
			}
			fmt.Fprintf(out, "✓ Configuration: %s (%d motors, %d servos, %d sensors)\n",
				cfg.Robot.Name, len(cfg.Motors), len(cfg.Servos), len(cfg.Sensors))

			if err := opmodes.FromConfig(cfg).Validate(); err != nil {
				return fmt.Errorf("drivetrain: %w", err)
			}

			catalog, scripts, err := buildCatalog(cfg)
			if err != nil {
				return err
			}
			for _, s := range scripts {
				fmt.Fprintf(out, "✓ Script: %s (%s)\n", s.Descriptor.Name, s.Path)
			}
			fmt.Fprintf(out, "✓ OpModes: %d registered\n", len(catalog.Descriptors()))

			guard, err := newGuard(context.Background(), cfg, telemetry.Nop())
			if err != nil {
				return fmt.Errorf("policies: %w", err)
			}
			for _, p := range guard.ListPolicies() {
				kind := "loaded"
				if p.Builtin {
					kind = "builtin"
				}
				fmt.Fprintf(out, "✓ Policy: %s (%s)\n", p.Name, kind)
			}

			fmt.Fprintln(out, "\nConfiguration is valid")
			return nil
		},
	}

	return cmd
}
