package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const sampleConfig = `// Robot configuration. Run "robo validate" after editing.
robot: {
	name: %q
}

backend:         "sim"
quantum_ms:      10
stop_timeout_ms: 2000

motors: [
	{name: "left_drive", port: 0},
	{name: "right_drive", port: 1, direction: "reverse"},
	{name: "arm", port: 2},
]
servos: [{name: "claw", port: 0}]
sensors: [{name: "touch", port: 0}]

drivetrain: {
	left:           "left_drive"
	right:          "right_drive"
	mode:           "tank"
	ticks_per_inch: 45.3
}

scripts: ["scripts/blue_left.star"]

policy: {
	paths: ["policies"]
	watch: false
}
`

const sampleScript = `OPMODE = {
    "name": "BlueLeft",
    "group": "autonomous",
    "description": "Drive off the line, then raise the arm",
}

def run(robot):
    drive = robot.motion("left_drive", "right_drive")
    arm = robot.motion("arm")
    robot.telemetry("status", "ready")
    robot.flush()
    robot.wait_for_start()

    robot.move(drive, "timed", seconds = 1.0, powers = [0.5])
    reason = robot.move(arm, "to_position", ticks = 300, power = 0.3)
    if reason:
        robot.telemetry("arm", reason)
    robot.telemetry("status", "done")
    robot.flush()
`

const samplePolicy = `# Arm moves must stay gentle.
package robocore.custom.arm

import rego.v1

deny contains msg if {
	"arm" in input.motion.motors
	some p in input.motion.powers
	abs(p) > 0.4
	msg := sprintf("arm power %v above 0.4", [p])
}
`

func newInitCommand() *cobra.Command {
	var (
		name  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a sample robot workspace",
		Long: `Create a robot configuration, an autonomous script and a safety policy.

The workspace uses simulated devices, so every built-in OpMode can be run
without hardware attached. Existing files are left alone unless --force
is given.`,
		Example: `  # Create a workspace in the current directory
  robo init

  # Create a workspace for a named robot
  robo init rover --name rover`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			if name == "" {
				abs, err := filepath.Abs(dir)
				if err != nil {
					return err
				}
				name = filepath.Base(abs)
			}

			log.Info().Str("dir", dir).Str("robot", name).Msg("Initializing workspace")

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Initializing robot workspace in %s\n\n", dir)

			for _, sub := range []string{"scripts", "policies"} {
				path := filepath.Join(dir, sub)
				if err := os.MkdirAll(path, 0o755); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", path, err)
				}
				fmt.Fprintf(out, "✓ Created directory: %s\n", path)
			}

			files := []struct {
				path    string
				content string
			}{
				{filepath.Join(dir, "robot.cue"), fmt.Sprintf(sampleConfig, name)},
				{filepath.Join(dir, "scripts", "blue_left.star"), sampleScript},
				{filepath.Join(dir, "policies", "slow-arm.rego"), samplePolicy},
			}
			for _, f := range files {
				wrote, err := writeFile(f.path, f.content, force)
				if err != nil {
					return err
				}
				if wrote {
					fmt.Fprintf(out, "✓ Created %s\n", f.path)
				} else {
					fmt.Fprintf(out, "✓ %s already exists\n", f.path)
				}
			}

			fmt.Fprintf(out, "\nWorkspace initialized. Next steps:\n")
			fmt.Fprintf(out, "  robo validate -c %s\n", filepath.Join(dir, "robot.cue"))
			fmt.Fprintf(out, "  robo opmodes -c %s\n", filepath.Join(dir, "robot.cue"))
			fmt.Fprintf(out, "  robo run BlueLeft -c %s\n", filepath.Join(dir, "robot.cue"))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "robot name (defaults to the directory name)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")

	return cmd
}

// writeFile writes content to path unless it exists and force is unset.
func writeFile(path, content string, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		} else if !os.IsNotExist(err) {
			return false, err
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}
