package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/robocore/robocore/pkg/engine"
)

func newOpModesCommand() *cobra.Command {
	var group string

	cmd := &cobra.Command{
		Use:     "opmodes",
		Aliases: []string{"ls"},
		Short:   "List the OpModes the robot can run",
		Example: `  # List everything
  robo opmodes

  # Only autonomous routines, as JSON
  robo opmodes --group autonomous --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			catalog, _, err := buildCatalog(cfg)
			if err != nil {
				return err
			}

			descs := make([]engine.Descriptor, 0)
			for _, d := range catalog.Descriptors() {
				if group == "" || d.Group == group {
					descs = append(descs, d)
				}
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(descs)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tGROUP\tVARIANT\tSOURCE\tDESCRIPTION")
			for _, d := range descs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Name, d.Group, d.Variant, d.Source, d.Description)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&group, "group", "", "only list OpModes in this group")

	return cmd
}
