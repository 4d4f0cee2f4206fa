package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/airplay-fetch/internal/config"
	"github.com/psantana5/airplay-fetch/internal/monitor"
	"github.com/psantana5/airplay-fetch/pkg/logging"
	"github.com/psantana5/airplay-fetch/pkg/retry"
	"github.com/psantana5/airplay-fetch/pkg/shutdown"
)

var (
	fetchStart string
	fetchEnd   string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch airplay metadata for a date range",
	Long: `Queries every licensed station for the date range, keeps the creatives
that are not yet in the master list, writes them to
creatives_metadata/ads_<start>_<end>.json and adds their ids to the master list.`,
	Example: `  airplay fetch --start "10/18/2025 00:00:00" --end "10/18/2025 23:59:59"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, "fetch")
		defer logger.Close()

		res, err := runFetch(context.Background(), cfg, fetchStart, fetchEnd, logger)
		if err != nil {
			return err
		}
		if IsJSONOutput() {
			return printJSON(res)
		}
		return printFetchResult(res)
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	addWindowFlags(fetchCmd, &fetchStart, &fetchEnd)
}

func addWindowFlags(cmd *cobra.Command, start, end *string) {
	cmd.Flags().StringVar(start, "start", "", `start datetime "MM/DD/YYYY HH:MM:SS"`)
	cmd.Flags().StringVar(end, "end", "", `end datetime "MM/DD/YYYY HH:MM:SS"`)
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")
}

func runFetch(ctx context.Context, cfg *config.Config, startStr, endStr string, logger *logging.Logger) (*monitor.Result, error) {
	start, end, err := monitor.ParseWindow(startStr, endStr)
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireCredentials(); err != nil {
		return nil, err
	}

	sm := shutdown.New(10*time.Second, logger)
	defer sm.Shutdown()

	ids, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open master list: %w", err)
	}
	sm.Register("master list", shutdown.CloseResource(ids))

	rc := retry.DefaultConfig()
	rc.MaxRetries = cfg.Service.MaxRetries
	client, err := monitor.NewClient(monitor.Config{
		BaseURL:         cfg.Service.BaseURL,
		Username:        cfg.Credentials.Username,
		Password:        cfg.Credentials.Password,
		RequestInterval: cfg.Service.RequestInterval,
		Timeout:         cfg.Service.Timeout,
		TestMode:        cfg.Service.TestMode,
		Retry:           rc,
	}, logger)
	if err != nil {
		return nil, err
	}
	return client.Fetch(ctx, start, end, cfg.Paths.Metadata, ids)
}

func printFetchResult(res *monitor.Result) error {
	fmt.Printf("Stations processed: %d", res.Stations)
	if len(res.FailedStations) > 0 {
		fmt.Printf(" (%d skipped: %v)", len(res.FailedStations), res.FailedStations)
	}
	fmt.Printf("\nAirplay records: %d\nUnique creatives: %d\nNew creatives: %d\n", res.Records, res.Unique, len(res.New))

	if res.Path == "" {
		fmt.Println("No new creatives, no metadata file written")
		return nil
	}
	fmt.Printf("Metadata file: %s\nAdded to master list: %d\n\n", res.Path, res.Added)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Creative ID", "Aircheck ID", "Station", "Name", "Start", "End")
	for i, c := range res.New {
		if i == 3 {
			break
		}
		table.Append(c.CreativeID, c.AircheckID, c.StationID, c.DisplayName(), c.StartTime, c.EndTime)
	}
	if err := table.Render(); err != nil {
		return err
	}
	if len(res.New) > 3 {
		fmt.Printf("... and %d more\n", len(res.New)-3)
	}
	return nil
}
