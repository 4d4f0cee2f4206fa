// Package config loads the tool settings from defaults, a YAML config
// file, a .env file, environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/psantana5/airplay-fetch/internal/scheduler"
)

// EnvPrefix prefixes every environment override, e.g. AIRPLAY_DOWNLOAD_BATCH_SIZE
const EnvPrefix = "AIRPLAY"

// Config is the full tool configuration
type Config struct {
	Credentials Credentials    `mapstructure:"credentials" yaml:"credentials" json:"credentials"`
	Service     ServiceConfig  `mapstructure:"service" yaml:"service" json:"service"`
	Paths       PathsConfig    `mapstructure:"paths" yaml:"paths" json:"paths"`
	Getmedia    GetmediaConfig `mapstructure:"getmedia" yaml:"getmedia" json:"getmedia"`
	Download    DownloadConfig `mapstructure:"download" yaml:"download" json:"download"`
	Stage       StageConfig    `mapstructure:"stage" yaml:"stage" json:"stage"`
	Store       StoreConfig    `mapstructure:"store" yaml:"store" json:"store"`
	Log         LogConfig      `mapstructure:"log" yaml:"log" json:"log"`
	Metrics     MetricsConfig  `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	Tracing     TracingConfig  `mapstructure:"tracing" yaml:"tracing" json:"tracing"`
}

// Credentials for the monitoring service and the fetch tool
type Credentials struct {
	Username string `mapstructure:"username" yaml:"username" json:"username"`
	Password string `mapstructure:"password" yaml:"password" json:"password"`
}

type ServiceConfig struct {
	BaseURL         string        `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	RequestInterval time.Duration `mapstructure:"request_interval" yaml:"request_interval" json:"request_interval"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`
	TestMode        bool          `mapstructure:"test_mode" yaml:"test_mode" json:"test_mode"`
}

type PathsConfig struct {
	Metadata  string `mapstructure:"metadata" yaml:"metadata" json:"metadata"`
	Summaries string `mapstructure:"summaries" yaml:"summaries" json:"summaries"`
	Failed    string `mapstructure:"failed" yaml:"failed" json:"failed"`
	INIBase   string `mapstructure:"ini_base" yaml:"ini_base" json:"ini_base"`
	TempBase  string `mapstructure:"temp_base" yaml:"temp_base" json:"temp_base"`
	Lock      string `mapstructure:"lock" yaml:"lock" json:"lock"`
}

type GetmediaConfig struct {
	Executable string `mapstructure:"executable" yaml:"executable" json:"executable"`
	ServiceURL string `mapstructure:"service_url" yaml:"service_url" json:"service_url"`
}

type DownloadConfig struct {
	BatchSize     int           `mapstructure:"batch_size" yaml:"batch_size" json:"batch_size"`
	Workers       int           `mapstructure:"workers" yaml:"workers" json:"workers"`
	StaggerDelay  time.Duration `mapstructure:"stagger_delay" yaml:"stagger_delay" json:"stagger_delay"`
	BatchTimeout  time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout" json:"batch_timeout"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" json:"retry_delay"`
	RetryTimeout  time.Duration `mapstructure:"retry_timeout" yaml:"retry_timeout" json:"retry_timeout"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace" json:"shutdown_grace"`
	Retry         bool          `mapstructure:"retry" yaml:"retry" json:"retry"`
}

type StageConfig struct {
	Dir         string `mapstructure:"dir" yaml:"dir" json:"dir"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency" json:"concurrency"`
	Cleanup     bool   `mapstructure:"cleanup" yaml:"cleanup" json:"cleanup"`
}

type StoreConfig struct {
	Type string `mapstructure:"type" yaml:"type" json:"type"`
	Path string `mapstructure:"path" yaml:"path" json:"path"`
	DSN  string `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" json:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json" json:"json"`
	Dir   string `mapstructure:"dir" yaml:"dir" json:"dir"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr" json:"addr"`
	File string `mapstructure:"file" yaml:"file" json:"file"`
}

type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	Insecure bool   `mapstructure:"insecure" yaml:"insecure" json:"insecure"`
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	sched := scheduler.DefaultConfig()

	v.SetDefault("service.base_url", "https://data.mediamonitors.com/mmwebservices/service1.asmx")
	v.SetDefault("service.request_interval", time.Second)
	v.SetDefault("service.timeout", 60*time.Second)
	v.SetDefault("service.max_retries", 3)
	v.SetDefault("service.test_mode", false)

	v.SetDefault("paths.metadata", "creatives_metadata")
	v.SetDefault("paths.summaries", "summaries")
	v.SetDefault("paths.failed", "failed_ads")
	v.SetDefault("paths.lock", ".")
	if runtime.GOOS == "windows" {
		v.SetDefault("paths.ini_base", `C:\Program Files\Media Monitors`)
		v.SetDefault("paths.temp_base", `C:\temp`)
		v.SetDefault("getmedia.executable", `C:\Program Files\Media Monitors\Getmedia.exe`)
	} else {
		v.SetDefault("paths.ini_base", "ini")
		v.SetDefault("paths.temp_base", filepath.Join(os.TempDir(), "airplay"))
		v.SetDefault("getmedia.executable", "Getmedia.exe")
	}
	v.SetDefault("getmedia.service_url", "https://data.mediamonitors.com/mmwebservices/")

	v.SetDefault("download.batch_size", sched.BatchSize)
	v.SetDefault("download.workers", sched.Workers)
	v.SetDefault("download.stagger_delay", sched.StaggerDelay)
	v.SetDefault("download.batch_timeout", sched.BatchTimeout)
	v.SetDefault("download.retry_delay", sched.RetryDelay)
	v.SetDefault("download.retry_timeout", sched.RetryTimeout)
	v.SetDefault("download.shutdown_grace", sched.ShutdownGrace)
	v.SetDefault("download.retry", sched.Retry)

	v.SetDefault("stage.dir", defaultStagingDir())
	v.SetDefault("stage.concurrency", 4)
	v.SetDefault("stage.cleanup", true)

	v.SetDefault("store.type", "json")
	v.SetDefault("store.path", "")
	v.SetDefault("store.dsn", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.dir", "logs")

	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.file", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)

	v.SetDefault("credentials.username", "")
	v.SetDefault("credentials.password", "")
}

func defaultStagingDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "staging"
	}
	return filepath.Join(home, "Desktop")
}

// BindEnv enables AIRPLAY_* overrides and the credential variables shared
// with earlier tooling
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("credentials.username", EnvPrefix+"_CREDENTIALS_USERNAME", "MM_USERNAME")
	v.BindEnv("credentials.password", EnvPrefix+"_CREDENTIALS_PASSWORD", "MM_PASSWORD")
	v.BindEnv("store.dsn", EnvPrefix+"_STORE_DSN", "DATABASE_DSN")
}

// LoadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load decodes v into a Config and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no command can run with. Credentials are
// checked by the commands that need them.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Scheduler().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("download: %w", err))
	}
	switch c.Store.Type {
	case "json", "sqlite", "postgres", "postgresql", "memory":
	default:
		errs = append(errs, fmt.Errorf("store.type %q is not one of json, sqlite, postgres, memory", c.Store.Type))
	}
	if (c.Store.Type == "postgres" || c.Store.Type == "postgresql") && c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required for the postgres store"))
	}
	if c.Stage.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("stage.concurrency must be at least 1, got %d", c.Stage.Concurrency))
	}
	if c.Service.Timeout <= 0 {
		errs = append(errs, errors.New("service.timeout must be positive"))
	}
	return errors.Join(errs...)
}

// RequireCredentials fails when the service credentials are missing
func (c *Config) RequireCredentials() error {
	if c.Credentials.Username == "" || c.Credentials.Password == "" {
		return errors.New("credentials missing: set MM_USERNAME and MM_PASSWORD (environment or .env) or credentials.* in the config file")
	}
	return nil
}

// Scheduler returns the batch and retry policy
func (c *Config) Scheduler() scheduler.Config {
	return scheduler.Config{
		BatchSize:     c.Download.BatchSize,
		Workers:       c.Download.Workers,
		StaggerDelay:  c.Download.StaggerDelay,
		BatchTimeout:  c.Download.BatchTimeout,
		RetryDelay:    c.Download.RetryDelay,
		RetryTimeout:  c.Download.RetryTimeout,
		ShutdownGrace: c.Download.ShutdownGrace,
		Retry:         c.Download.Retry,
	}
}

// INIDir returns the INI folder for a range: <ini_base>/inis_<range>
func (c *Config) INIDir(rangeStamp string) string {
	return filepath.Join(c.Paths.INIBase, "inis_"+rangeStamp)
}

// TargetDir returns the artifact folder for a range: <temp_base>/ads_<range>
func (c *Config) TargetDir(rangeStamp string) string {
	return filepath.Join(c.Paths.TempBase, "ads_"+rangeStamp)
}

// SummaryPath returns <summaries>/summary_ads_<range>.txt
func (c *Config) SummaryPath(rangeStamp string) string {
	return filepath.Join(c.Paths.Summaries, "summary_ads_"+rangeStamp+".txt")
}

// Redacted returns a copy safe to print
func (c Config) Redacted() Config {
	if c.Credentials.Password != "" {
		c.Credentials.Password = "********"
	}
	if c.Store.DSN != "" {
		c.Store.DSN = "********"
	}
	return c
}
