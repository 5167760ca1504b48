package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cpunion/adsim/pkg/dataset"
	"github.com/cpunion/adsim/pkg/store"
)

func newGroupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Manage social group assignments",
	}
	cmd.AddCommand(newGroupsImportCmd(), newGroupsShowCmd())
	return cmd
}

func newGroupsImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import group assignments from a CSV or JSON file",
		Long: `Import reads rows of user_id, group and an optional day. Rows without a
day are assigned to --day. An assignment stays in effect until a later day
assigns the agent again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, _ := cmd.Flags().GetInt("day")
			ctx := cmd.Context()

			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			byDay, err := dataset.LoadGroups(args[0], day)
			if err != nil {
				return err
			}

			db, err := store.Open(ctx, cfg.Path(cfg.Paths.Database))
			if err != nil {
				return err
			}
			defer db.Close()

			days := make([]int, 0, len(byDay))
			for d := range byDay {
				days = append(days, d)
			}
			sort.Ints(days)
			total := 0
			for _, d := range days {
				if err := db.AssignGroups(ctx, d, byDay[d]); err != nil {
					return err
				}
				total += len(byDay[d])
				logger.WithField("day", d).WithField("agents", len(byDay[d])).Debug("groups imported")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d assignments over %d days\n", total, len(days))
			return nil
		},
	}
	cmd.Flags().Int("day", 0, "Day for rows without a day column")
	return cmd
}

func newGroupsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show group sizes in effect on a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, _ := cmd.Flags().GetInt("day")
			ctx := cmd.Context()

			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := store.Open(ctx, cfg.Path(cfg.Paths.Database))
			if err != nil {
				return err
			}
			defer db.Close()

			counts, err := db.GroupCounts(ctx, day)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(counts))
			for g := range counts {
				names = append(names, g)
			}
			sort.Strings(names)
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintf(out, "No groups assigned on day %d\n", day)
				return nil
			}
			for _, g := range names {
				fmt.Fprintf(out, "%-20s %d\n", g, counts[g])
			}
			return nil
		},
	}
	cmd.Flags().Int("day", 0, "Day to inspect")
	return cmd
}
