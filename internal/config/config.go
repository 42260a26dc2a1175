// Package config loads usbsentinel settings from defaults, config files,
// USBSENTINEL_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/digggggmori-pixel/usbsentinel/internal/logger"
)

const (
	configName = "usbsentinel"
	envPrefix  = "usbsentinel"
)

// USBSTORPath is the registry subtree enumerated by the scan
const USBSTORPath = `SYSTEM\CurrentControlSet\Enum\USBSTOR`

// AlertFailurePolicy decides what happens when an alert email cannot be sent
type AlertFailurePolicy string

const (
	AlertFailureLog       AlertFailurePolicy = "log"
	AlertFailurePropagate AlertFailurePolicy = "propagate"
)

// AnalysisStrategy selects the activity analyzer
type AnalysisStrategy string

const (
	StrategyClustering      AnalysisStrategy = "clustering"
	StrategyIsolationForest AnalysisStrategy = "isolation-forest"
	StrategyNone            AnalysisStrategy = "none"
)

// FeatureSource selects the isolation forest feature matrix
type FeatureSource string

const (
	FeaturesTemporal FeatureSource = "temporal"
	FeaturesRandom   FeatureSource = "random"
)

type Config struct {
	DemoMode  bool            `mapstructure:"demo_mode" yaml:"demo_mode"`
	Registry  RegistryConfig  `mapstructure:"registry" yaml:"registry"`
	Alert     AlertConfig     `mapstructure:"alert" yaml:"alert"`
	Analysis  AnalysisConfig  `mapstructure:"analysis" yaml:"analysis"`
	Visualize VisualizeConfig `mapstructure:"visualize" yaml:"visualize"`
	Log       logger.Config   `mapstructure:"log" yaml:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`

	// Serial numbers or device IDs that are never alerted on
	ApprovedDevices []string `mapstructure:"approved_devices" yaml:"approved_devices"`
}

type RegistryConfig struct {
	Path        string `mapstructure:"path" yaml:"path"`
	Strict      bool   `mapstructure:"strict" yaml:"strict"`
	Snapshot    string `mapstructure:"snapshot" yaml:"snapshot"`
	SetupAPILog string `mapstructure:"setupapi_log" yaml:"setupapi_log"`
}

type AlertConfig struct {
	Enabled       bool               `mapstructure:"enabled" yaml:"enabled"`
	FailurePolicy AlertFailurePolicy `mapstructure:"failure_policy" yaml:"failure_policy"`
	SMTP          SMTPConfig         `mapstructure:"smtp" yaml:"smtp"`
	Recipient     string             `mapstructure:"recipient" yaml:"recipient"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

type AnalysisConfig struct {
	Strategy   AnalysisStrategy `mapstructure:"strategy" yaml:"strategy"`
	Clusters   int              `mapstructure:"clusters" yaml:"clusters"`
	Percentile float64          `mapstructure:"percentile" yaml:"percentile"`
	Seed       int64            `mapstructure:"seed" yaml:"seed"`
	Features   FeatureSource    `mapstructure:"features" yaml:"features"`
	Forest     ForestConfig     `mapstructure:"forest" yaml:"forest"`
}

type ForestConfig struct {
	Estimators    int     `mapstructure:"estimators" yaml:"estimators"`
	Contamination float64 `mapstructure:"contamination" yaml:"contamination"`
	MaxSamples    int     `mapstructure:"max_samples" yaml:"max_samples"`
}

type VisualizeConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Output  string `mapstructure:"output" yaml:"output"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Defaults returns the built-in settings as viper keys.
func Defaults() map[string]any {
	return map[string]any{
		"demo_mode":                     false,
		"approved_devices":              []string{},
		"registry.path":                 USBSTORPath,
		"registry.strict":               true,
		"registry.snapshot":             "",
		"registry.setupapi_log":         "",
		"alert.enabled":                 true,
		"alert.failure_policy":          string(AlertFailureLog),
		"alert.smtp.host":               "smtp.yourprovider.com",
		"alert.smtp.port":               587,
		"alert.smtp.username":           "your-email@example.com",
		"alert.smtp.password":           "",
		"alert.recipient":               "admin@example.com",
		"analysis.strategy":             string(StrategyClustering),
		"analysis.clusters":             3,
		"analysis.percentile":           95.0,
		"analysis.seed":                 0,
		"analysis.features":             string(FeaturesTemporal),
		"analysis.forest.estimators":    100,
		"analysis.forest.contamination": 0.1,
		"analysis.forest.max_samples":   256,
		"visualize.enabled":             true,
		"visualize.output":              "terminal",
		"log.enabled":                   false,
		"log.dir":                       ".",
		"log.level":                     "debug",
		"log.console":                   false,
		"metrics.addr":                  "",
	}
}

// GetConfigPath returns the full path for the configuration file.
func GetConfigPath(system bool) (string, error) {
	var configDir string

	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "usbsentinel")
		default:
			configDir = "/etc/usbsentinel"
		}
	} else {
		userDir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(userDir, "usbsentinel")
	}

	return filepath.Join(configDir, configName+".yaml"), nil
}

// LoadConfig resolves T from defaults, the first usbsentinel.yaml found (or
// configFile when set), environment and the flags of cmd. A missing config
// file is not an error.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, configFile string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName(configName)
	v.SetConfigType("yaml")

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	if userConfigPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return c, fmt.Errorf("read config: %w", err)
		}
	} else {
		logger.Debug("Config loaded from %s", v.ConfigFileUsed())
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		if err := bindFlags(v, cmd); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}

	return c, nil
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"demo":            "demo_mode",
	"strict":          "registry.strict",
	"snapshot":        "registry.snapshot",
	"setupapi-log":    "registry.setupapi_log",
	"alert":           "alert.enabled",
	"approved-device": "approved_devices",
	"alert-policy":    "alert.failure_policy",
	"strategy":        "analysis.strategy",
	"features":        "analysis.features",
	"seed":            "analysis.seed",
	"estimators":      "analysis.forest.estimators",
	"contamination":   "analysis.forest.contamination",
	"plot":            "visualize.enabled",
	"plot-output":     "visualize.output",
	"debug-log":       "log.enabled",
	"log-dir":         "log.dir",
	"verbose":         "log.console",
	"metrics-addr":    "metrics.addr",
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load is LoadConfig for the usbsentinel Config followed by Validate.
func Load(cmd *cobra.Command, configFile string) (Config, error) {
	c, err := LoadConfig[Config](cmd, Defaults(), configFile)
	if err != nil {
		return c, err
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate rejects unknown enum values and inconsistent combinations.
func (c Config) Validate() error {
	switch c.Alert.FailurePolicy {
	case AlertFailureLog, AlertFailurePropagate:
	default:
		return fmt.Errorf("alert.failure_policy must be %q or %q, got %q",
			AlertFailureLog, AlertFailurePropagate, c.Alert.FailurePolicy)
	}

	switch c.Analysis.Strategy {
	case StrategyClustering, StrategyIsolationForest, StrategyNone:
	default:
		return fmt.Errorf("analysis.strategy must be one of %q, %q, %q, got %q",
			StrategyClustering, StrategyIsolationForest, StrategyNone, c.Analysis.Strategy)
	}

	switch c.Analysis.Features {
	case FeaturesTemporal:
	case FeaturesRandom:
		if !c.DemoMode {
			return errors.New("analysis.features=random produces meaningless results and requires demo_mode")
		}
	default:
		return fmt.Errorf("analysis.features must be %q or %q, got %q",
			FeaturesTemporal, FeaturesRandom, c.Analysis.Features)
	}

	if c.Analysis.Clusters < 1 {
		return fmt.Errorf("analysis.clusters must be at least 1, got %d", c.Analysis.Clusters)
	}
	if c.Analysis.Percentile <= 0 || c.Analysis.Percentile >= 100 {
		return fmt.Errorf("analysis.percentile must be in (0, 100), got %v", c.Analysis.Percentile)
	}
	if c.Analysis.Forest.Estimators < 1 {
		return fmt.Errorf("analysis.forest.estimators must be at least 1, got %d", c.Analysis.Forest.Estimators)
	}
	if c.Analysis.Forest.Contamination <= 0 || c.Analysis.Forest.Contamination > 0.5 {
		return fmt.Errorf("analysis.forest.contamination must be in (0, 0.5], got %v", c.Analysis.Forest.Contamination)
	}
	if c.Alert.Enabled && c.Alert.Recipient == "" {
		return errors.New("alert.recipient is required when alerts are enabled")
	}
	return nil
}

// WriteConfigFile writes c as YAML to the user or system config path.
func WriteConfigFile[T any](c *T, system bool) (string, error) {
	path, err := GetConfigPath(system)
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}

	// 0600: the file holds the SMTP password
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}

	return path, nil
}
