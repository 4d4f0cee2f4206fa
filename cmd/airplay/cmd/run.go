package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/psantana5/airplay-fetch/internal/jobs"
)

var (
	runStart  string
	runEnd    string
	runYes    bool
	runNoCopy bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch metadata, download the audio and stage it",
	Long: `Runs the whole pipeline for a date range: fetch the new creatives, ask for
confirmation, download their audio in batches and copy the results into the
staging folder. Download settings come from the config file, the environment
or the download command defaults.`,
	Example: `  airplay run --start "10/18/2025 00:00:00" --end "10/18/2025 23:59:59" --yes`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, "run")
		defer logger.Close()
		ctx := context.Background()

		fetched, err := runFetch(ctx, cfg, runStart, runEnd, logger)
		if err != nil {
			return err
		}
		if !IsJSONOutput() {
			if err := printFetchResult(fetched); err != nil {
				return err
			}
		}
		if fetched.Path == "" {
			return nil
		}

		if !runYes && !confirm(fmt.Sprintf("Download %d creatives?", len(fetched.New))) {
			fmt.Println("Download cancelled")
			return nil
		}

		set, err := jobs.Load(fetched.Path)
		if err != nil {
			return err
		}
		res, runErr := runDownload(ctx, cfg, set, logger)
		if res == nil {
			return runErr
		}
		if err := printResult(res); err != nil {
			return err
		}
		if runErr != nil || runNoCopy {
			return runErr
		}
		if res.Succeeded == 0 {
			logger.Warn("[Run] nothing downloaded, skipping staging")
			return nil
		}

		staged, err := runStage(ctx, cfg, set.RangeStamp, logger)
		if err != nil {
			return err
		}
		if IsJSONOutput() {
			return printJSON(staged)
		}
		fmt.Printf("Copied %d files (%d failed) to %s\n", len(staged.Copied), len(staged.Failed), staged.Folder)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	addWindowFlags(runCmd, &runStart, &runEnd)
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "do not ask before downloading")
	runCmd.Flags().BoolVar(&runNoCopy, "no-stage", false, "leave the audio in the temp folder")
}

// confirm asks a yes/no question on stdin. Anything but y or yes is a no.
func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
