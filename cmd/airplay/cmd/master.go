package cmd

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/airplay-fetch/pkg/store"
)

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Inspect or rebuild the master creative-id list",
}

var masterShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the size of the master list and when it last changed",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ids, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer ids.Close()

		count, err := ids.Count()
		if err != nil {
			return err
		}
		updated, err := ids.LastUpdated()
		if err != nil {
			return err
		}

		if IsJSONOutput() {
			return printJSON(map[string]interface{}{
				"store":        cfg.Store.Type,
				"total_count":  count,
				"last_updated": updated,
			})
		}

		last := "never"
		if !updated.IsZero() {
			last = updated.Format("2006-01-02 15:04:05")
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Store", "Creative IDs", "Last Updated")
		table.Append(cfg.Store.Type, strconv.Itoa(count), last)
		return table.Render()
	},
}

var masterRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the master list from every metadata file",
	Long: `Scans <paths.metadata>/ads_*.json and replaces the master list with every
creative id found. Files that cannot be read are skipped and listed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, "master")
		defer logger.Close()

		ids, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer ids.Close()

		stats, err := store.Rebuild(cfg.Paths.Metadata, ids)
		if err != nil {
			return err
		}
		logger.Info(fmt.Sprintf("[Master] Rebuilt from %d files: %d unique creative ids", stats.FilesProcessed, stats.IDs))

		skipped := make([]string, 0, len(stats.Skipped))
		for f := range stats.Skipped {
			skipped = append(skipped, f)
		}
		sort.Strings(skipped)
		for _, f := range skipped {
			logger.Warn(fmt.Sprintf("[Master] Skipped %s", f), map[string]interface{}{"error": stats.Skipped[f].Error()})
		}

		if IsJSONOutput() {
			return printJSON(map[string]interface{}{
				"files_processed": stats.FilesProcessed,
				"total_count":     stats.IDs,
				"skipped":         skipped,
			})
		}
		fmt.Printf("Files processed: %d\nUnique creative IDs: %d\nSkipped files: %d\n", stats.FilesProcessed, stats.IDs, len(skipped))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(masterCmd)
	masterCmd.AddCommand(masterShowCmd)
	masterCmd.AddCommand(masterRebuildCmd)
}
