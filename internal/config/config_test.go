package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	return v
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(newViper())
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Download.BatchSize)
	assert.Equal(t, 10, cfg.Download.Workers)
	assert.Equal(t, 10*time.Second, cfg.Download.StaggerDelay)
	assert.Equal(t, 60*time.Second, cfg.Download.BatchTimeout)
	assert.Equal(t, 2*time.Second, cfg.Download.RetryDelay)
	assert.Equal(t, 60*time.Second, cfg.Download.RetryTimeout)
	assert.Equal(t, 60*time.Second, cfg.Scheduler().RetryTimeout)
	assert.True(t, cfg.Download.Retry)
	assert.Equal(t, "json", cfg.Store.Type)
	assert.Equal(t, "creatives_metadata", cfg.Paths.Metadata)
}

func TestConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
download:
  batch_size: 5
  stagger_delay: 3s
store:
  type: sqlite
  path: ` + filepath.Join(dir, "ids.db") + `
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("AIRPLAY_DOWNLOAD_WORKERS", "7")
	t.Setenv("MM_USERNAME", "operator")
	t.Setenv("MM_PASSWORD", "hunter2")

	v := newViper()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Download.BatchSize)
	assert.Equal(t, 7, cfg.Download.Workers)
	assert.Equal(t, 3*time.Second, cfg.Download.StaggerDelay)
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Equal(t, "operator", cfg.Credentials.Username)
	assert.NoError(t, cfg.RequireCredentials())

	red := cfg.Redacted()
	assert.Equal(t, "********", red.Credentials.Password)
	assert.Equal(t, "hunter2", cfg.Credentials.Password)
}

func TestDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("MM_USERNAME=from_dotenv\nMM_PASSWORD=pw\n"), 0o600))

	t.Setenv("MM_USERNAME", "")
	os.Unsetenv("MM_USERNAME")
	t.Setenv("MM_PASSWORD", "already_set")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from_dotenv", os.Getenv("MM_USERNAME"))
	assert.Equal(t, "already_set", os.Getenv("MM_PASSWORD"), "existing variables win")

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}

func TestValidate(t *testing.T) {
	v := newViper()
	v.Set("download.batch_size", 0)
	v.Set("store.type", "redis")
	_, err := Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch size")
	assert.Contains(t, err.Error(), "redis")

	v = newViper()
	v.Set("download.retry_timeout", 0)
	_, err = Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry timeout")

	t.Setenv("DATABASE_DSN", "")
	t.Setenv("AIRPLAY_STORE_DSN", "")
	v = newViper()
	v.Set("store.type", "postgres")
	_, err = Load(v)
	assert.Error(t, err)

	cfg, err := Load(newViper())
	require.NoError(t, err)
	cfg.Credentials = Credentials{}
	assert.Error(t, cfg.RequireCredentials())
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{Paths: PathsConfig{INIBase: "ini", TempBase: "tmp", Summaries: "summaries"}}
	stamp := "20251018_000000_20251018_235959"
	assert.Equal(t, filepath.Join("ini", "inis_"+stamp), cfg.INIDir(stamp))
	assert.Equal(t, filepath.Join("tmp", "ads_"+stamp), cfg.TargetDir(stamp))
	assert.Equal(t, filepath.Join("summaries", "summary_ads_"+stamp+".txt"), cfg.SummaryPath(stamp))
}
