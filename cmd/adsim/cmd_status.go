package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cpunion/adsim/pkg/config"
	"github.com/cpunion/adsim/pkg/dataset"
	"github.com/cpunion/adsim/pkg/events"
	"github.com/cpunion/adsim/pkg/feed"
	"github.com/cpunion/adsim/pkg/simulation"
	"github.com/cpunion/adsim/pkg/store"
	"github.com/cpunion/adsim/pkg/types"
)

type statusView struct {
	State    *simulation.SimState `json:"state"`
	Stats    []store.ContentStats `json:"content"`
	Recent   []statusInteraction  `json:"recent"`
	Groups   map[string]int       `json:"groups,omitempty"`
	Days     []feed.DaySummary    `json:"days,omitempty"`
	Entries  map[int][]string     `json:"entry_schedule,omitempty"`
	Calendar []int                `json:"calendar_days,omitempty"`
}

type statusInteraction struct {
	Day         int     `json:"day"`
	AgentID     string  `json:"user_id"`
	ContentID   string  `json:"ad_id"`
	Description string  `json:"reaction_description"`
	Score       float64 `json:"interaction_rate"`
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current day, queue, content scores and recent interactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			recent, _ := cmd.Flags().GetInt("recent")
			jsonOut, _ := cmd.Flags().GetBool("json")
			ctx := cmd.Context()

			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			st, err := simulation.LoadSimState(cfg.Path(cfg.Paths.State))
			if errors.Is(err, os.ErrNotExist) {
				st = simulation.NewSimState()
			} else if err != nil {
				return fmt.Errorf("load state: %w", err)
			}

			db, err := store.Open(ctx, cfg.Path(cfg.Paths.Database))
			if err != nil {
				return err
			}
			defer db.Close()

			view := statusView{State: st}
			if view.Stats, err = db.Stats(ctx); err != nil {
				return err
			}
			recs, err := db.RecentInteractions(ctx, recent)
			if err != nil {
				return err
			}
			feedDir := cfg.Path(cfg.Paths.Feed)
			if len(recs) == 0 && recent > 0 {
				// The feed outlives a reset database.
				if recs, err = feed.ReadRecent(feedDir, recent); err != nil && !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("read feed: %w", err)
				}
			}
			for _, r := range recs {
				view.Recent = append(view.Recent, toStatusInteraction(r))
			}
			if view.Groups, err = db.GroupCounts(ctx, st.CurrentDay); err != nil {
				return err
			}

			if idx, err := feed.LoadIndex(filepath.Join(feedDir, feed.IndexFile)); err == nil {
				view.Days = idx.Days
			} else if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load feed index: %w", err)
			}
			if view.Entries, err = entrySchedule(cfg, logger); err != nil {
				return err
			}
			view.Calendar = events.LoadCatalog(cfg.Path(cfg.Paths.Events), logger).CalendarDays()

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}
			printStatus(cmd, view)
			return nil
		},
	}
	cmd.Flags().Int("recent", 10, "Number of recent interactions to show")
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func toStatusInteraction(r types.InteractionRecord) statusInteraction {
	return statusInteraction{
		Day:         r.Day,
		AgentID:     r.AgentID,
		ContentID:   r.ContentID,
		Description: r.Reaction.ReactionDescription,
		Score:       r.Score,
	}
}

// entrySchedule returns the content ids by entry day, nil when there is no
// content file yet.
func entrySchedule(cfg *config.Config, logger *logrus.Logger) (map[int][]string, error) {
	items, err := loadContent(cfg, logger)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return dataset.EntrySchedule(items), nil
}

func printStatus(cmd *cobra.Command, v statusView) {
	out := cmd.OutOrStdout()
	st := v.State
	fmt.Fprintf(out, "Day:          %d (started: %v)\n", st.CurrentDay, st.Started)
	fmt.Fprintf(out, "Active items: %d\n", len(st.Active))
	fmt.Fprintf(out, "Retired:      %d\n", len(st.Deactivated))
	if len(st.Queued) > 0 {
		fmt.Fprintf(out, "Next up:      %s (%d queued)\n", st.Queued[0], len(st.Queued))
	} else {
		fmt.Fprintln(out, "Next up:      -")
	}
	if len(v.Groups) > 0 {
		fmt.Fprintf(out, "Groups:       %d\n", len(v.Groups))
	}
	if len(v.Calendar) > 0 {
		days := make([]string, len(v.Calendar))
		for i, d := range v.Calendar {
			days[i] = fmt.Sprint(d)
		}
		fmt.Fprintf(out, "Calendar:     days %s\n", strings.Join(days, ", "))
	}

	if len(v.Entries) > 0 {
		fmt.Fprintln(out, "\nEntry schedule:")
		days := make([]int, 0, len(v.Entries))
		for d := range v.Entries {
			days = append(days, d)
		}
		sort.Ints(days)
		for _, d := range days {
			label := fmt.Sprintf("day %d", d)
			if d == 0 {
				label = "unscheduled"
			}
			fmt.Fprintf(out, "  %s: %s\n", label, strings.Join(v.Entries[d], ", "))
		}
	}

	if len(v.Stats) > 0 {
		fmt.Fprintln(out, "\nContent:")
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  AD\tEXPOSURES\tCLICKS\tLIKES\tDISLIKES\tSHARES\tIGNORES\tSCORE")
		for _, s := range v.Stats {
			fmt.Fprintf(tw, "  %s\t%d\t%d\t%d\t%d\t%d\t%d\t%.1f\n",
				s.ContentID, s.Exposures, s.Clicks, s.Likes, s.Dislikes, s.Shares, s.Ignores, s.LastScore)
		}
		tw.Flush()
	}

	if len(v.Days) > 0 {
		fmt.Fprintln(out, "\nBy day:")
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  DAY\tRECORDS\tCLICKS\tLIKES\tDISLIKES\tSHARES\tIGNORES")
		for _, d := range v.Days {
			fmt.Fprintf(tw, "  %d\t%d\t%d\t%d\t%d\t%d\t%d\n",
				d.Day, d.Records, d.Clicks, d.Likes, d.Dislikes, d.Shares, d.Ignores)
		}
		tw.Flush()
	}

	if len(v.Recent) > 0 {
		fmt.Fprintln(out, "\nRecent interactions:")
		for _, r := range v.Recent {
			fmt.Fprintf(out, "  day %d %s -> %s: %s\n", r.Day, r.AgentID, r.ContentID, describe(r.Description))
		}
	}
}
