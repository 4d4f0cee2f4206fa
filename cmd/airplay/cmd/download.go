package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/airplay-fetch/internal/config"
	"github.com/psantana5/airplay-fetch/internal/getmedia"
	"github.com/psantana5/airplay-fetch/internal/jobs"
	"github.com/psantana5/airplay-fetch/internal/probe"
	"github.com/psantana5/airplay-fetch/internal/report"
	"github.com/psantana5/airplay-fetch/internal/scheduler"
	"github.com/psantana5/airplay-fetch/pkg/fsutil"
	"github.com/psantana5/airplay-fetch/pkg/logging"
	"github.com/psantana5/airplay-fetch/pkg/metrics"
	"github.com/psantana5/airplay-fetch/pkg/models"
	"github.com/psantana5/airplay-fetch/pkg/shutdown"
	"github.com/psantana5/airplay-fetch/pkg/tracing"
)

var retryFailedPath string

var downloadCmd = &cobra.Command{
	Use:   "download <metadata.json>",
	Short: "Download the audio of every creative in a metadata file",
	Long: `Writes one INI per creative, launches Getmedia.exe in staggered batches,
checks every batch for its artifacts, retries failures once and writes the
progress report, the failed-ads record and a final summary.

With --retry-failed the creatives of an earlier failed-ads record are run
instead of a metadata file.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if retryFailedPath != "" {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, "download")
		defer logger.Close()

		var set *jobs.Set
		if retryFailedPath != "" {
			set, err = loadFailedRecord(retryFailedPath)
		} else {
			set, err = jobs.Load(args[0])
		}
		if err != nil {
			return err
		}

		res, runErr := runDownload(context.Background(), cfg, set, logger)
		if res == nil {
			return runErr
		}
		if err := printResult(res); err != nil {
			return err
		}
		return runErr
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	f := downloadCmd.Flags()
	f.StringVar(&retryFailedPath, "retry-failed", "", "run the creatives of a failed_ads_<range>.json record")
	f.Int("batch-size", 10, "creatives per batch")
	f.Int("workers", 10, "concurrent launches per batch")
	f.Duration("stagger", 10*time.Second, "delay between batch starts")
	f.Duration("timeout", 60*time.Second, "per batch wait before probing for artifacts")
	f.Duration("retry-delay", 2*time.Second, "delay between a retry launch and its probe")
	f.Duration("retry-timeout", 60*time.Second, "kill a retry launch still running after this long")
	f.Bool("no-retry", false, "skip the serial retry pass")
	f.String("metrics-addr", "", "serve /metrics, /healthz and /status on this address during the run")
	f.String("metrics-file", "", "write Prometheus text metrics to this file at the end of the run")

	viper.BindPFlag("download.batch_size", f.Lookup("batch-size"))
	viper.BindPFlag("download.workers", f.Lookup("workers"))
	viper.BindPFlag("download.stagger_delay", f.Lookup("stagger"))
	viper.BindPFlag("download.batch_timeout", f.Lookup("timeout"))
	viper.BindPFlag("download.retry_delay", f.Lookup("retry-delay"))
	viper.BindPFlag("download.retry_timeout", f.Lookup("retry-timeout"))
	viper.BindPFlag("metrics.addr", f.Lookup("metrics-addr"))
	viper.BindPFlag("metrics.file", f.Lookup("metrics-file"))
	downloadCmd.PreRun = func(cmd *cobra.Command, args []string) {
		if noRetry, _ := cmd.Flags().GetBool("no-retry"); noRetry {
			viper.Set("download.retry", false)
		}
	}
}

// loadFailedRecord turns a failed-ads record back into a job list
func loadFailedRecord(path string) (*jobs.Set, error) {
	rec, err := report.ReadFailedRecord(path)
	if err != nil {
		return nil, err
	}
	set := jobs.Build(rec.Creatives)
	set.Source = path
	set.Meta = models.MetadataFile{Timestamp: rec.Timestamp, Count: len(rec.Creatives), Creatives: rec.Creatives}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	set.RangeStamp = strings.TrimPrefix(name, "failed_ads_")
	return set, nil
}

// runDownload executes one download run over set. Only resource faults
// are returned as errors; per-creative failures end up in the result.
func runDownload(ctx context.Context, cfg *config.Config, set *jobs.Set, logger *logging.Logger) (*report.RunResult, error) {
	runID := uuid.NewString()
	logger = logger.WithField("run_id", runID)

	sm := shutdown.New(30*time.Second, logger)
	defer sm.Shutdown()

	lock, err := fsutil.AcquireRunLock(cfg.Paths.Lock, runID)
	if err != nil {
		return nil, err
	}
	sm.Register("run lock", shutdown.CloseResource(lock))

	stamp := set.RangeStamp
	if stamp == "" {
		stamp = time.Now().Format(models.RangeStampLayout)
	}

	rec := metrics.NewRecorder()
	rec.Rejected(len(set.Rejected))
	for _, r := range set.Rejected {
		logger.Warn(fmt.Sprintf("[Jobs] Rejected %s", r.Error()))
	}
	if len(set.Duplicates) > 0 {
		logger.Warn(fmt.Sprintf("[Jobs] Dropped %d duplicate aircheck ids: %s", len(set.Duplicates), strings.Join(set.Duplicates, ", ")))
	}
	if path, err := report.WriteRejectedRecord(cfg.Paths.Failed, stamp, set.Rejected, set.RejectedDescriptors(), set.Duplicates); err != nil {
		return nil, err
	} else if path != "" {
		logger.Info(fmt.Sprintf("[Jobs] Rejected and duplicate descriptors saved to %s", path))
	}

	if set.Len() == 0 {
		return nil, fmt.Errorf("%s: %w", set.Source, jobs.ErrNoJobs)
	}
	if err := cfg.RequireCredentials(); err != nil {
		return nil, err
	}

	opts := getmedia.Options{
		Executable: cfg.Getmedia.Executable,
		ServiceURL: cfg.Getmedia.ServiceURL,
		ConfigDir:  cfg.INIDir(stamp),
		TargetDir:  cfg.TargetDir(stamp),
		Username:   cfg.Credentials.Username,
		Password:   cfg.Credentials.Password,
	}
	if err := getmedia.WriteConfigs(set.Jobs, opts); err != nil {
		return nil, err
	}
	logger.Info(fmt.Sprintf("[Jobs] Wrote %d INI files to %s", set.Len(), opts.ConfigDir))

	tp, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "airplay",
		ServiceVersion: Version,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, err
	}
	sm.Register("tracer", tp.Shutdown)

	agg := report.NewAggregator()
	if cfg.Metrics.Addr != "" {
		srv, err := metrics.Serve(cfg.Metrics.Addr, rec, agg.Status, logger)
		if err != nil {
			return nil, fmt.Errorf("start status server: %w", err)
		}
		sm.Register("status server", shutdown.StopHTTPServer(srv))
	}

	schedCfg := cfg.Scheduler()
	batches := len(scheduler.Partition(set.Jobs, schedCfg.BatchSize))
	pw, err := report.NewProgressWriter(cfg.SummaryPath(stamp), report.Header{
		RunID:      runID,
		RangeStamp: stamp,
		Source:     set.Source,
		Jobs:       set.Len(),
		Batches:    batches,
		Rejected:   len(set.Rejected),
		StartedAt:  time.Now(),
	})
	if err != nil {
		return nil, err
	}

	sched, err := scheduler.New(schedCfg, scheduler.Deps{
		Launcher:   getmedia.NewExecLauncher(opts, logger),
		Prober:     probe.New(opts.TargetDir),
		Aggregator: agg,
		Reporter:   pw,
		Metrics:    rec,
		Tracer:     tp,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	res, runErr := sched.Execute(ctx, set.Jobs)
	res.RunID = runID
	res.Rejected = len(set.Rejected)
	if runErr != nil {
		logger.Error("[Download] run finished with an error", map[string]interface{}{"error": runErr.Error()})
	}

	if err := pw.Close(res); err != nil {
		logger.Error("[Download] could not finish the progress report", map[string]interface{}{"error": err.Error()})
	}
	logger.Info(fmt.Sprintf("[Download] Progress report: %s", pw.Path()))

	if path, err := report.WriteFailedRecord(cfg.Paths.Failed, stamp, res.StillFailed); err != nil {
		logger.Error("[Download] could not write the failed-ads record", map[string]interface{}{"error": err.Error()})
	} else if path != "" {
		logger.Info(fmt.Sprintf("[Download] %d failed creatives saved to %s", len(res.StillFailed), path))
	}

	if cfg.Metrics.File != "" {
		if err := rec.WriteTextfile(cfg.Metrics.File); err != nil {
			logger.Error("[Download] could not write metrics file", map[string]interface{}{"error": err.Error()})
		}
	}

	return &res, runErr
}

func printResult(res *report.RunResult) error {
	if IsJSONOutput() {
		return printJSON(res)
	}
	return report.PrintSummary(os.Stdout, *res)
}
