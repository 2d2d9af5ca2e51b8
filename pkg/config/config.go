// Package config loads drivegate configuration from a file, DRIVEGATE_*
// environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"drivegate/pkg/auth"
	"drivegate/pkg/utils"
)

const envPrefix = "DRIVEGATE"

type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Store   StoreConfig   `mapstructure:"store"`
	Client  ClientConfig  `mapstructure:"client"`

	Names []NameEntry `mapstructure:"names" validate:"dive"`
}

// NameEntry binds a host name to a hex drive key.
type NameEntry struct {
	Host string `mapstructure:"host" validate:"required"`
	Key  string `mapstructure:"key" validate:"len=64,hexadecimal"`
}

// NameTable returns Names as host -> key.
func (c *Config) NameTable() map[string]string {
	table := make(map[string]string, len(c.Names))
	for _, n := range c.Names {
		table[n.Host] = n.Key
	}
	return table
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=console json"`
}

type ServerConfig struct {
	Address string `mapstructure:"address" validate:"required,hostname_port"`
	// MetricsAddress serves /metrics and /health/live. Empty disables it.
	MetricsAddress string `mapstructure:"metrics_address" validate:"omitempty,hostname_port"`
	// PrivilegedToken authenticates the host application. Empty means no
	// caller is privileged.
	PrivilegedToken string        `mapstructure:"privileged_token"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	TLS auth.TLSConfig `mapstructure:"tls"`
}

type GatewayConfig struct {
	// DefaultTimeout applies to operations that do not set their own.
	// Zero uses the built-in default.
	DefaultTimeout time.Duration `mapstructure:"default_timeout" validate:"gte=0"`
	// DefaultAllowance is a human size such as "500MB".
	DefaultAllowance string  `mapstructure:"default_allowance" validate:"required"`
	PromptRate       float64 `mapstructure:"prompt_rate" validate:"gte=0"`
	PromptBurst      int     `mapstructure:"prompt_burst" validate:"gte=0"`
	HostOrigin       string  `mapstructure:"host_origin" validate:"required"`
}

// Allowance parses DefaultAllowance into bytes.
func (g GatewayConfig) Allowance() (int64, error) {
	return utils.ParseSize(g.DefaultAllowance)
}

type StoreConfig struct {
	Type string `mapstructure:"type" validate:"required,oneof=memory badger"`
	Dir  string `mapstructure:"dir" validate:"required_if=Type badger"`
}

// Load reads configPath, or config.yaml from the config directory when
// configPath is empty. A missing default file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(GetConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	normalize(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func normalize(cfg *Config) {
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	cfg.Store.Type = strings.ToLower(cfg.Store.Type)
	if cfg.Client.Address == "" {
		cfg.Client.Address = cfg.Server.Address
	}
}

// GetConfigDir returns the drivegate configuration directory.
func GetConfigDir() string {
	if dir := os.Getenv("DRIVEGATE_CONFIG_DIR"); dir != "" {
		return dir
	}
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "drivegate")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".drivegate"
	}
	return filepath.Join(home, ".drivegate")
}
