package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/airplay-fetch/internal/config"
	"github.com/psantana5/airplay-fetch/internal/stage"
	"github.com/psantana5/airplay-fetch/pkg/logging"
	"github.com/psantana5/airplay-fetch/pkg/models"
)

var stageCmd = &cobra.Command{
	Use:   "stage <metadata.json | range>",
	Short: "Copy downloaded audio into the upload folder",
	Long: `Copies every <aircheck_id>_pcm.wav of a run into <stage.dir>/ads_<range>/ as
<aircheck_id>.wav, then removes the INI and temp folders of the run unless
--cleanup=false.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, "stage")
		defer logger.Close()

		stamp := args[0]
		if strings.HasSuffix(stamp, ".json") {
			if stamp, _, _, err = models.ParseRangeStamp(stamp); err != nil {
				return err
			}
		}
		res, err := runStage(context.Background(), cfg, stamp, logger)
		if err != nil {
			return err
		}
		if IsJSONOutput() {
			return printJSON(res)
		}
		fmt.Printf("Copied %d files (%d failed) to %s\n", len(res.Copied), len(res.Failed), res.Folder)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stageCmd)
	stageCmd.Flags().String("dir", "", "folder the ads_<range> folder is created in (default $HOME/Desktop)")
	stageCmd.Flags().Bool("cleanup", true, "remove the INI and temp folders after a complete copy")
	viper.BindPFlag("stage.dir", stageCmd.Flags().Lookup("dir"))
	viper.BindPFlag("stage.cleanup", stageCmd.Flags().Lookup("cleanup"))
}

// runStage copies the artifacts of a range and cleans up when every copy
// succeeded
func runStage(ctx context.Context, cfg *config.Config, stamp string, logger *logging.Logger) (*stage.Result, error) {
	res, err := stage.Stage(ctx, stage.Options{
		TargetDir:   cfg.TargetDir(stamp),
		StagingDir:  cfg.Stage.Dir,
		RangeStamp:  stamp,
		Concurrency: cfg.Stage.Concurrency,
	}, logger)
	if err != nil {
		return nil, err
	}

	if !cfg.Stage.Cleanup {
		return res, nil
	}
	if len(res.Failed) > 0 {
		logger.Warn(fmt.Sprintf("[Stage] %d copies failed, keeping %s", len(res.Failed), filepath.Clean(cfg.TargetDir(stamp))))
		return res, nil
	}
	if err := stage.Cleanup(logger, cfg.INIDir(stamp), cfg.TargetDir(stamp)); err != nil {
		logger.Warn("[Stage] cleanup incomplete", map[string]interface{}{"error": err.Error()})
	}
	return res, nil
}
