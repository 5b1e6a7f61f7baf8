package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration struct for the agent.
// It holds settings for logging, the monitor loop, detection thresholds,
// containment actions and the API surface.
// Tags are used by Viper to map YAML keys to struct fields.
type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Sampler  SamplerConfig  `mapstructure:"sampler"`
	Baseline BaselineConfig `mapstructure:"baseline"`
	Detector DetectorConfig `mapstructure:"detector"`
	Alert    AlertConfig    `mapstructure:"alert"`
	Actions  ActionsConfig  `mapstructure:"actions"`
	Audit    AuditConfig    `mapstructure:"audit"`
	API      APIConfig      `mapstructure:"api"`
	Probes   ProbesConfig   `mapstructure:"probes"`
}

// MonitorConfig names the watched tree and the cadence of the detection loop.
type MonitorConfig struct {
	Path     string        `mapstructure:"path"`
	Exclude  []string      `mapstructure:"exclude"`
	Interval time.Duration `mapstructure:"interval"`
}

// SamplerConfig tunes the robust averaging applied to noisy probes.
type SamplerConfig struct {
	Samples          int           `mapstructure:"samples"`
	Delay            time.Duration `mapstructure:"delay"`
	OutlierThreshold float64       `mapstructure:"outlier_threshold"`
}

// BaselineConfig tunes the adaptive baseline model.
type BaselineConfig struct {
	Alpha float64 `mapstructure:"alpha"`
}

// DetectorConfig holds the two detection thresholds.
type DetectorConfig struct {
	RelativeThreshold  float64 `mapstructure:"relative_threshold"`
	FileEventThreshold float64 `mapstructure:"file_event_threshold"`
}

// AlertConfig controls alert debouncing.
type AlertConfig struct {
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// ActionsConfig holds the global configuration for containment actions.
type ActionsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AuditConfig names the CSV correlation trail destination.
type AuditConfig struct {
	Path string `mapstructure:"path"`
}

// APIConfig configures the HTTP and WebSocket surface.
type APIConfig struct {
	Port         string        `mapstructure:"port"`
	AuthToken    string        `mapstructure:"auth_token"`
	AllowOrigins []string      `mapstructure:"allow_origins"`
	Keepalive    time.Duration `mapstructure:"keepalive"`
}

// ProbesConfig parameterizes the host and file signal sources.
type ProbesConfig struct {
	DiskPath              string   `mapstructure:"disk_path"`
	SuspiciousProcesses   []string `mapstructure:"suspicious_process_names"`
	SuspiciousRemoteAddrs []string `mapstructure:"suspicious_remote_addrs"`
	SuspiciousExtensions  []string `mapstructure:"suspicious_extensions"`
	EntropyExtensions     []string `mapstructure:"entropy_extensions"`
	EntropyThreshold      float64  `mapstructure:"entropy_threshold"`
	AutostartDirs         []string `mapstructure:"autostart_dirs"`
	AutostartMarkers      []string `mapstructure:"autostart_markers"`
	ShadowCopyCommand     string   `mapstructure:"shadow_copy_command"`
}

// Load reads the configuration from a YAML file (e.g., config.yaml) and
// environment variables. It uses Viper for robust configuration management,
// allowing for defaults and environment variable overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")
	v.AddConfigPath(".")                 // Search in current directory
	v.AddConfigPath("/etc/ransomwatch/") // Search in /etc/ransomwatch/

	setDefaults(v)

	// Read environment variables
	v.SetEnvPrefix("RANSOMWATCH")                      // Look for RANSOMWATCH_ prefix
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // Replace dots with underscores for nested keys
	v.AutomaticEnv()                                   // Automatically bind environment variables to config keys

	// Read configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables.")
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with. Values that
// merely fall back to a sane default elsewhere are not rejected here; this
// catches the settings that would silently disable detection.
func (c *Config) Validate() error {
	if c.Monitor.Path == "" {
		return fmt.Errorf("monitor.path must not be empty")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive, got %s", c.Monitor.Interval)
	}
	if c.Sampler.Samples < 1 {
		return fmt.Errorf("sampler.samples must be at least 1, got %d", c.Sampler.Samples)
	}
	if c.Baseline.Alpha <= 0 || c.Baseline.Alpha > 1 {
		return fmt.Errorf("baseline.alpha must be in (0, 1], got %v", c.Baseline.Alpha)
	}
	if c.Detector.RelativeThreshold <= 0 {
		return fmt.Errorf("detector.relative_threshold must be positive, got %v", c.Detector.RelativeThreshold)
	}
	if c.Detector.FileEventThreshold <= 0 {
		return fmt.Errorf("detector.file_event_threshold must be positive, got %v", c.Detector.FileEventThreshold)
	}
	if c.Alert.Cooldown <= 0 {
		return fmt.Errorf("alert.cooldown must be positive, got %s", c.Alert.Cooldown)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("monitor.path", "./watched")
	v.SetDefault("monitor.exclude", []string{})
	v.SetDefault("monitor.interval", "2s")

	v.SetDefault("sampler.samples", 5)
	v.SetDefault("sampler.delay", "200ms")
	v.SetDefault("sampler.outlier_threshold", 0.2)

	v.SetDefault("baseline.alpha", 0.1)

	v.SetDefault("detector.relative_threshold", 0.85)
	v.SetDefault("detector.file_event_threshold", 30.0)

	v.SetDefault("alert.cooldown", "60s")

	v.SetDefault("actions.enabled", false) // Containment disabled by default

	v.SetDefault("audit.path", "correlation_log.csv")

	v.SetDefault("api.port", "8080")
	v.SetDefault("api.auth_token", "") // Empty token disables WebSocket auth
	v.SetDefault("api.allow_origins", []string{"*"})
	v.SetDefault("api.keepalive", "30s")

	v.SetDefault("probes.disk_path", "/")
	v.SetDefault("probes.suspicious_process_names", []string{"cmd.exe", "wmic.exe"})
	v.SetDefault("probes.suspicious_remote_addrs", []string{"192.168.1.100"})
	v.SetDefault("probes.suspicious_extensions", []string{".locked", ".encrypted"})
	v.SetDefault("probes.entropy_extensions", []string{".docx", ".pdf", ".txt", ".exe"})
	v.SetDefault("probes.entropy_threshold", 7.5)
	v.SetDefault("probes.autostart_dirs", []string{
		"/etc/cron.d",
		"/etc/cron.daily",
		"/etc/cron.hourly",
		"/etc/systemd/system",
	})
	v.SetDefault("probes.autostart_markers", []string{"ransom", "encrypt"})
	v.SetDefault("probes.shadow_copy_command", "vssadmin list shadows")
}
