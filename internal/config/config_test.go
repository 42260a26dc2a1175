package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("AppData", dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(nil, "")
	require.NoError(t, err)

	assert.False(t, cfg.DemoMode)
	assert.Equal(t, USBSTORPath, cfg.Registry.Path)
	assert.True(t, cfg.Registry.Strict)
	assert.True(t, cfg.Alert.Enabled)
	assert.Equal(t, AlertFailureLog, cfg.Alert.FailurePolicy)
	assert.Equal(t, 587, cfg.Alert.SMTP.Port)
	assert.Equal(t, StrategyClustering, cfg.Analysis.Strategy)
	assert.Equal(t, 3, cfg.Analysis.Clusters)
	assert.Equal(t, 95.0, cfg.Analysis.Percentile)
	assert.Equal(t, FeaturesTemporal, cfg.Analysis.Features)
	assert.Equal(t, 100, cfg.Analysis.Forest.Estimators)
	assert.Equal(t, "terminal", cfg.Visualize.Output)
	assert.Empty(t, cfg.ApprovedDevices)
}

func TestLoadConfigFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
registry:
  strict: false
alert:
  enabled: false
analysis:
  strategy: isolation-forest
  forest:
    estimators: 50
approved_devices:
  - 4C530001
`), 0o644))

	cfg, err := Load(nil, path)
	require.NoError(t, err)
	assert.False(t, cfg.Registry.Strict)
	assert.False(t, cfg.Alert.Enabled)
	assert.Equal(t, StrategyIsolationForest, cfg.Analysis.Strategy)
	assert.Equal(t, 50, cfg.Analysis.Forest.Estimators)
	assert.Equal(t, []string{"4C530001"}, cfg.ApprovedDevices)
	// untouched keys keep their defaults
	assert.Equal(t, 3, cfg.Analysis.Clusters)
}

func TestLoadEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("USBSENTINEL_ANALYSIS_STRATEGY", "none")
	t.Setenv("USBSENTINEL_ALERT_SMTP_HOST", "mail.example.org")
	t.Setenv("USBSENTINEL_DEMO_MODE", "true")

	cfg, err := Load(nil, "")
	require.NoError(t, err)
	assert.Equal(t, StrategyNone, cfg.Analysis.Strategy)
	assert.Equal(t, "mail.example.org", cfg.Alert.SMTP.Host)
	assert.True(t, cfg.DemoMode)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("USBSENTINEL_ANALYSIS_STRATEGY", "none")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("strategy", "clustering", "")
	cmd.Flags().Int64("seed", 0, "")
	cmd.Flags().StringSlice("approved-device", nil, "")
	cmd.Flags().Bool("strict", true, "")
	require.NoError(t, cmd.Flags().Set("strategy", "isolation-forest"))
	require.NoError(t, cmd.Flags().Set("seed", "42"))
	require.NoError(t, cmd.Flags().Set("approved-device", "A1,B2"))

	cfg, err := Load(cmd, "")
	require.NoError(t, err)
	assert.Equal(t, StrategyIsolationForest, cfg.Analysis.Strategy)
	assert.Equal(t, int64(42), cfg.Analysis.Seed)
	assert.Equal(t, []string{"A1", "B2"}, cfg.ApprovedDevices)
	// an unset flag does not override the default
	assert.True(t, cfg.Registry.Strict)
}

func TestLoadMalformedFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("analysis: [unclosed\n"), 0o644))

	_, err := Load(nil, path)
	assert.Error(t, err)
}

// validConfig loads the defaults; callers isolate the config dirs first
func validConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := Load(nil, "")
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad policy", func(c *Config) { c.Alert.FailurePolicy = "retry" }, "alert.failure_policy"},
		{"bad strategy", func(c *Config) { c.Analysis.Strategy = "dbscan" }, "analysis.strategy"},
		{"random features need demo", func(c *Config) { c.Analysis.Features = FeaturesRandom }, "demo_mode"},
		{"random features in demo", func(c *Config) {
			c.Analysis.Features = FeaturesRandom
			c.DemoMode = true
		}, ""},
		{"bad features", func(c *Config) { c.Analysis.Features = "pca" }, "analysis.features"},
		{"zero clusters", func(c *Config) { c.Analysis.Clusters = 0 }, "analysis.clusters"},
		{"percentile 100", func(c *Config) { c.Analysis.Percentile = 100 }, "analysis.percentile"},
		{"zero estimators", func(c *Config) { c.Analysis.Forest.Estimators = 0 }, "analysis.forest.estimators"},
		{"contamination too high", func(c *Config) { c.Analysis.Forest.Contamination = 0.6 }, "analysis.forest.contamination"},
		{"alert without recipient", func(c *Config) { c.Alert.Recipient = "" }, "alert.recipient"},
		{"disabled alert without recipient", func(c *Config) {
			c.Alert.Enabled = false
			c.Alert.Recipient = ""
		}, ""},
	}

	isolate(t)
	base := validConfig(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWriteConfigFileRoundTrip(t *testing.T) {
	dir := isolate(t)

	cfg := validConfig(t)
	cfg.Analysis.Strategy = StrategyIsolationForest
	cfg.Alert.SMTP.Host = "smtp.example.net"
	cfg.ApprovedDevices = []string{"4C530001"}

	path, err := WriteConfigFile(&cfg, false)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, dir), path)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	// picked up from the user config dir without naming the file
	got, err := Load(nil, "")
	require.NoError(t, err)
	assert.Equal(t, StrategyIsolationForest, got.Analysis.Strategy)
	assert.Equal(t, "smtp.example.net", got.Alert.SMTP.Host)
	assert.Equal(t, []string{"4C530001"}, got.ApprovedDevices)
	assert.Equal(t, cfg.Analysis.Percentile, got.Analysis.Percentile)
}
