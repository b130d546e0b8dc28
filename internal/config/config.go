// Package config handles configuration management using Viper
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Display  DisplayConfig  `mapstructure:"display"`
	Requests RequestsConfig `mapstructure:"requests"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tray     TrayConfig     `mapstructure:"tray"`
}

// DisplayConfig selects the X display to connect to
type DisplayConfig struct {
	Name string `mapstructure:"name"` // Empty means $DISPLAY
}

// RequestsConfig bounds how long a request may wait for its reply
type RequestsConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`        // Zero disables expiry
	SweepInterval time.Duration `mapstructure:"sweep_interval"` // How often expiry is checked
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	LogLevel string `mapstructure:"log_level"` // Override LOG_LEVEL env var
}

// MetricsConfig contains the Prometheus endpoint settings
type MetricsConfig struct {
	Listen string `mapstructure:"listen"` // Empty disables the endpoint
}

// TrayConfig contains menu settings
type TrayConfig struct {
	ShowReflections bool `mapstructure:"show_reflections"`
}

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Display: DisplayConfig{
			Name: "",
		},
		Requests: RequestsConfig{
			Timeout:       10 * time.Second,
			SweepInterval: 2 * time.Second,
		},
		Logging: LoggingConfig{
			LogLevel: "", // Empty means use LOG_LEVEL env var
		},
		Metrics: MetricsConfig{
			Listen: "",
		},
		Tray: TrayConfig{
			ShowReflections: true,
		},
	}

	// Global config instance
	cfg *Config

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init initializes the configuration system
func Init() error {
	viper.SetConfigName("rotations")
	viper.SetConfigType("toml")

	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		for _, dir := range searchPaths() {
			viper.AddConfigPath(dir)
		}
	}

	viper.SetEnvPrefix("ROTATIONS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set defaults - need to set individual fields for proper merging
	viper.SetDefault("display.name", DefaultConfig.Display.Name)
	viper.SetDefault("requests.timeout", DefaultConfig.Requests.Timeout)
	viper.SetDefault("requests.sweep_interval", DefaultConfig.Requests.SweepInterval)
	viper.SetDefault("logging.log_level", DefaultConfig.Logging.LogLevel)
	viper.SetDefault("metrics.listen", DefaultConfig.Metrics.Listen)
	viper.SetDefault("tray.show_reflections", DefaultConfig.Tray.ShowReflections)

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	c := &Config{}
	if err := viper.Unmarshal(c); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}
	if c.Requests.Timeout < 0 || c.Requests.SweepInterval < 0 {
		return fmt.Errorf("request timeout and sweep interval must not be negative")
	}
	cfg = c
	return nil
}

func searchPaths() []string {
	var dirs []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, "rotations"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "rotations"))
	}
	return append(dirs, ".")
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		// Return defaults if not initialized
		return &DefaultConfig
	}
	return cfg
}

// Set sets the current configuration (for testing)
func Set(c *Config) {
	cfg = c
}

// ConfigFile reports the file that was loaded, if any
func ConfigFile() string {
	return viper.ConfigFileUsed()
}
