package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cpunion/adsim/pkg/simulation"
)

var traceOutcomes = []string{
	simulation.OutcomeRecorded,
	simulation.OutcomeGenerate,
	simulation.OutcomeParse,
	simulation.OutcomePrompt,
	simulation.OutcomeRecordError,
}

func newTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Summarize exposure outcomes from the trace file",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, _ := cmd.Flags().GetInt("day")
			failures, _ := cmd.Flags().GetBool("failures")

			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Paths.Trace == "" {
				return fmt.Errorf("no trace file configured")
			}
			logs, err := simulation.ReadExposureLog(cfg.Path(cfg.Paths.Trace))
			if err != nil {
				return fmt.Errorf("read trace: %w", err)
			}

			out := cmd.OutOrStdout()
			counts := map[int]map[string]int{}
			var failed []simulation.ExposureLog
			for _, ev := range logs {
				if day > 0 && ev.Day != day {
					continue
				}
				if counts[ev.Day] == nil {
					counts[ev.Day] = map[string]int{}
				}
				counts[ev.Day][ev.Outcome]++
				if ev.Outcome != simulation.OutcomeRecorded {
					failed = append(failed, ev)
				}
			}
			if len(counts) == 0 {
				fmt.Fprintln(out, "No exposures traced")
				return nil
			}

			days := make([]int, 0, len(counts))
			for d := range counts {
				days = append(days, d)
			}
			sort.Ints(days)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprint(tw, "DAY")
			for _, o := range traceOutcomes {
				fmt.Fprintf(tw, "\t%s", o)
			}
			fmt.Fprintln(tw)
			for _, d := range days {
				fmt.Fprintf(tw, "%d", d)
				for _, o := range traceOutcomes {
					fmt.Fprintf(tw, "\t%d", counts[d][o])
				}
				fmt.Fprintln(tw)
			}
			tw.Flush()

			if failures {
				for _, ev := range failed {
					fmt.Fprintf(out, "day %d %s -> %s: %s: %s\n", ev.Day, ev.AgentID, ev.ContentID, ev.Outcome, ev.Error)
				}
			}
			return nil
		},
	}
	cmd.Flags().Int("day", 0, "Only include this day")
	cmd.Flags().Bool("failures", false, "List failed exposures with their errors")
	return cmd
}
