package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/airplay-fetch/pkg/fsutil"
)

var (
	pruneDays   int
	pruneDryRun bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old progress reports, failed-ads records and logs",
	Long: `Removes summary_ads_*.txt, failed_ads_*.json, rejected_ads_*.json and log
files older than --days. Metadata files and the master list are never touched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, "prune")
		defer logger.Close()

		targets := []struct {
			dir      string
			patterns []string
		}{
			{cfg.Paths.Summaries, []string{"summary_ads_*.txt"}},
			{cfg.Paths.Failed, []string{"failed_ads_*.json", "rejected_ads_*.json"}},
			{filepath.Join(cfg.Log.Dir, "airplay"), []string{"*.log.*"}},
		}

		now := time.Now()
		var total fsutil.PruneStats
		for _, t := range targets {
			stats, err := fsutil.Prune(t.dir, fsutil.RetentionPolicy{
				MaxAge:   time.Duration(pruneDays) * 24 * time.Hour,
				Patterns: t.patterns,
				DryRun:   pruneDryRun,
			}, now)
			if err != nil {
				return err
			}
			for _, f := range stats.Removed {
				logger.Debug(fmt.Sprintf("[Prune] %s", f))
			}
			total.Removed = append(total.Removed, stats.Removed...)
			total.Kept += stats.Kept
			total.Bytes += stats.Bytes
		}

		if IsJSONOutput() {
			return printJSON(total)
		}
		verb := "Removed"
		if pruneDryRun {
			verb = "Would remove"
		}
		fmt.Printf("%s %d files (%d bytes), kept %d\n", verb, len(total.Removed), total.Bytes, total.Kept)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)
	pruneCmd.Flags().IntVar(&pruneDays, "days", 7, "retention in days")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "list what would be removed")
}
