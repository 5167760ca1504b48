package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cpunion/adsim/pkg/feed"
)

func newFeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Maintain the interaction feed",
	}
	cmd.AddCommand(newFeedRebuildCmd())
	return cmd
}

func newFeedRebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild <log>...",
		Short: "Rebuild the feed from interaction JSONL files",
		Long: `Rebuild reads interaction records from JSONL files, such as the shards of
another feed or an exported log, and replaces the feed with them in day
order. Lines that are not interaction records are skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outDir, _ := cmd.Flags().GetString("out")
			perShard, _ := cmd.Flags().GetInt("max-per-shard")

			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if outDir == "" {
				outDir = cfg.Path(cfg.Paths.Feed)
			}
			idx, skipped, err := feed.RebuildFromLogs(cmd.Context(), outDir, args, perShard)
			if err != nil {
				return fmt.Errorf("rebuild feed: %w", err)
			}
			logger.WithField("dir", outDir).WithField("skipped", skipped).Debug("feed rebuilt")
			fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt feed with %d records over %d days in %d shards (%d lines skipped)\n",
				idx.TotalRecords, len(idx.Days), len(idx.Shards), skipped)
			return nil
		},
	}
	cmd.Flags().String("out", "", "Feed directory to write (default: the configured feed)")
	cmd.Flags().Int("max-per-shard", feed.DefaultMaxRecordsPerShard, "Records per shard file")
	return cmd
}
