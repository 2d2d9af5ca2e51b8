package config

import (
	"time"

	"drivegate/pkg/auth"
)

// ClientConfig is used by the CLI commands that talk to a running server.
type ClientConfig struct {
	// Address defaults to server.address.
	Address string        `mapstructure:"address"`
	Origin  string        `mapstructure:"origin" validate:"required"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`

	TLS auth.TLSConfig `mapstructure:"tls"`
}
