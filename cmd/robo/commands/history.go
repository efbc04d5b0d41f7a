package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/robocore/robocore/pkg/engine"
	"github.com/robocore/robocore/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		dbPath  string
		opmode  string
		outcome string
		limit   int
		prune   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show journaled OpMode runs",
		Long: `Show runs recorded by "robo run --db".

Without arguments the most recent runs are listed with a summary. Given a
run ID, its lifecycle transitions and warning events are shown.`,
		Example: `  # Recent runs
  robo history --db robo.db

  # One run in detail
  robo history 6f1c0d2e-... --db robo.db

  # Drop runs older than a week
  robo history --db robo.db --prune 168h`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			store, err := openStore(ctx, dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if prune > 0 {
				n, err := store.PruneRuns(ctx, time.Now().Add(-prune))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "✓ Pruned %d run(s) older than %s\n", n, prune)
			}

			if len(args) == 1 {
				return showRun(ctx, out, store, args[0])
			}
			return listRuns(ctx, out, store, stores.RunFilter{
				OpMode:  opmode,
				Outcome: engine.Outcome(outcome),
				Limit:   limit,
			})
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "robo.db", "journal database")
	cmd.Flags().StringVar(&opmode, "opmode", "", "only runs of this OpMode")
	cmd.Flags().StringVar(&outcome, "outcome", "", "only runs with this outcome")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	cmd.Flags().DurationVar(&prune, "prune", 0, "delete runs that started longer ago than this")

	return cmd
}

func listRuns(ctx context.Context, out io.Writer, store *stores.SQLiteStore, filter stores.RunFilter) error {
	runs, err := store.ListRuns(ctx, filter)
	if err != nil {
		return err
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOPMODE\tSTARTED\tDURATION\tOUTCOME\tERROR")
	for _, r := range runs {
		outcome := string(r.Outcome)
		if outcome == "" {
			outcome = string(r.State)
		}
		errText := ""
		if r.Error != nil {
			errText = *r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.OpMode, r.StartedAt.Local().Format(time.DateTime),
			r.Duration().Round(time.Millisecond), outcome, errText)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d run(s), %d live", stats.Runs, stats.Live)
	for _, o := range []engine.Outcome{engine.OutcomeCompleted, engine.OutcomeStopped, engine.OutcomeFault, engine.OutcomeAbandoned} {
		if n := stats.ByOutcome[o]; n > 0 {
			fmt.Fprintf(out, ", %d %s", n, o)
		}
	}
	fmt.Fprintln(out)
	return nil
}

func showRun(ctx context.Context, out io.Writer, store *stores.SQLiteStore, id string) error {
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Run:      %s\n", run.ID)
	fmt.Fprintf(out, "OpMode:   %s (%s)\n", run.OpMode, run.Variant)
	fmt.Fprintf(out, "State:    %s\n", run.State)
	if run.Outcome != "" {
		fmt.Fprintf(out, "Outcome:  %s after %s\n", run.Outcome, run.Duration().Round(time.Millisecond))
	}
	if run.Error != nil {
		fmt.Fprintf(out, "Error:    %s\n", *run.Error)
	}

	transitions, err := store.ListTransitions(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nTransitions:")
	for _, t := range transitions {
		fmt.Fprintf(out, "  %s  %s -> %s\n", t.At.Local().Format("15:04:05.000"), t.From, t.To)
	}

	events, err := store.GetEvents(ctx, &id, nil, 100, 0)
	if err != nil {
		return err
	}
	if len(events) > 0 {
		fmt.Fprintln(out, "\nEvents:")
		for _, e := range events {
			fmt.Fprintf(out, "  %s  %-7s %s\n", e.Timestamp.Local().Format("15:04:05.000"), e.Level, e.Message)
		}
	}
	return nil
}
