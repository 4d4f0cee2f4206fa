package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/airplay-fetch/internal/config"
	"github.com/psantana5/airplay-fetch/pkg/logging"
	"github.com/psantana5/airplay-fetch/pkg/store"
)

// Version is set at build time
var Version = "dev"

var (
	cfgFile      string
	envFile      string
	outputFormat string
	initErr      error
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "airplay",
	Short: "Fetch broadcast creative audio from Media Monitors",
	Long: `airplay fetches airplay metadata for a date range, downloads the audio of
every new creative through Getmedia.exe in staggered batches, and stages the
results for upload.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initErr
	},
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.airplay/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with MM_USERNAME/MM_PASSWORD")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("log-json", false, "log as JSON lines")
	rootCmd.PersistentFlags().Bool("test-mode", false, "query the first station only")

	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.json", rootCmd.PersistentFlags().Lookup("log-json"))
	viper.BindPFlag("service.test_mode", rootCmd.PersistentFlags().Lookup("test-mode"))
}

// initConfig reads the .env file, the config file and ENV variables
func initConfig() {
	if err := config.LoadDotEnv(envFile); err != nil {
		initErr = err
		return
	}

	config.SetDefaults(viper.GetViper())
	config.BindEnv(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".airplay"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			initErr = fmt.Errorf("read config: %w", err)
		}
	}
}

// loadConfig decodes and validates the merged configuration
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// maxLogSize is the size at which a command log is rotated on start
const maxLogSize = 10 << 20

// newLogger logs to <log.dir>/airplay/<sub>.log and stdout
func newLogger(cfg *config.Config, sub string) *logging.Logger {
	level := logging.ParseLevel(cfg.Log.Level)
	logger, err := logging.NewFileLogger(cfg.Log.Dir, "airplay", sub, level, cfg.Log.JSON)
	if err != nil {
		logger = logging.NewLogger(level, cfg.Log.JSON)
		logger.Warn("file logging disabled", map[string]interface{}{"error": err.Error()})
		return logger
	}
	if err := logger.RotateIfNeeded(maxLogSize); err != nil {
		logger.Warn("log rotation failed", map[string]interface{}{"error": err.Error()})
	}
	return logger
}

// openStore opens the master creative-id list
func openStore(cfg *config.Config) (store.IDStore, error) {
	sc := store.Config{Type: cfg.Store.Type, Path: cfg.Store.Path, DSN: cfg.Store.DSN}
	if sc.Path == "" {
		switch sc.Type {
		case "json", "":
			sc.Path = filepath.Join(cfg.Paths.Metadata, "master_creative_ids.json")
		case "sqlite":
			sc.Path = filepath.Join(cfg.Paths.Metadata, "master.db")
		}
	}
	return store.NewStore(sc)
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
