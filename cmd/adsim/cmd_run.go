package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cpunion/adsim/pkg/simulation"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run whole simulation days",
		Long: `Run finishes a day left open by "adsim step", then runs the requested
number of days. Without --days it runs until simulation_days is reached.
State is saved after every day.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")

			a, err := openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if a.engine.State().Started && len(a.engine.Scheduler().Queue()) > 0 {
				res, err := a.engine.FinishDay(ctx)
				if err != nil {
					return err
				}
				printDay(out, res)
				if err := a.save(); err != nil {
					return err
				}
			}

			if days <= 0 {
				days = a.cfg.SimulationDays - a.engine.Scheduler().CurrentDay()
			}
			for i := 0; i < days; i++ {
				day := a.engine.Scheduler().CurrentDay() + 1
				res, err := a.engine.RunDay(ctx, day)
				if res != nil {
					printDay(out, res)
				}
				if saveErr := a.save(); saveErr != nil {
					return saveErr
				}
				if err != nil {
					return err
				}
			}
			fmt.Fprintf(out, "Simulation at day %d\n", a.engine.Scheduler().CurrentDay())
			return nil
		},
	}
	cmd.Flags().Int("days", 0, "Number of days to run (default: remaining simulation_days)")
	return cmd
}

func printDay(w io.Writer, res *simulation.DayResult) {
	deactivated := 0
	for _, it := range res.Items {
		if it.Deactivated {
			deactivated++
		}
	}
	fmt.Fprintf(w, "Day %d: %d items, %d interactions, %d failures, %d retired\n",
		res.Day, len(res.Items), res.Interactions, res.Failures, deactivated)
}
