package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newStepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "step",
		Short: "Advance the simulation by one unit of work",
		Long: `Step starts the next day when today's queue is empty, otherwise it exposes
the next queued content item to its targeted agents.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.Step(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.save(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if res.NewDay {
				fmt.Fprintf(out, "Started day %d with %d scheduled items: %s\n",
					res.Day, len(res.Queue), strings.Join(res.Queue, ", "))
				return nil
			}
			it := res.Item
			if it == nil {
				fmt.Fprintf(out, "Day %d: nothing left to show\n", res.Day)
				return nil
			}
			fmt.Fprintf(out, "Day %d: %s shown to %d agents, %d failures, score %.1f\n",
				res.Day, it.ContentID, len(it.Records), it.Failures, it.Score)
			for _, rec := range it.Records {
				fmt.Fprintf(out, "  %s (%s): %s\n", rec.AgentID, orDash(rec.Group), describe(rec.Reaction.ReactionDescription))
			}
			if it.Deactivated {
				fmt.Fprintf(out, "  %s retired\n", it.ContentID)
			}
			if res.Finished {
				fmt.Fprintln(out, "Queue empty; the next step starts a new day")
			}
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func describe(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(no description)"
	}
	if r := []rune(s); len(r) > 80 {
		return string(r[:77]) + "..."
	}
	return s
}
