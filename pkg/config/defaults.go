package config

import (
	"time"

	"github.com/spf13/viper"

	"drivegate/pkg/types"
)

const (
	DefaultAddress         = "127.0.0.1:7420"
	DefaultTimeout         = 5 * time.Second
	DefaultAllowance       = "500MB"
	DefaultPromptRate      = 0.0 // unthrottled
	DefaultPromptBurst     = 5
	DefaultShutdownTimeout = 10 * time.Second
	DefaultClientOrigin    = "drivegate://cli"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("server.address", DefaultAddress)
	v.SetDefault("server.metrics_address", "")
	v.SetDefault("server.privileged_token", "")
	v.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert", "")
	v.SetDefault("server.tls.key", "")
	v.SetDefault("server.tls.ca_cert", "")
	v.SetDefault("server.tls.require_client_auth", false)

	v.SetDefault("gateway.default_timeout", DefaultTimeout)
	v.SetDefault("gateway.default_allowance", DefaultAllowance)
	v.SetDefault("gateway.prompt_rate", DefaultPromptRate)
	v.SetDefault("gateway.prompt_burst", DefaultPromptBurst)
	v.SetDefault("gateway.host_origin", types.HostOrigin)

	v.SetDefault("store.type", "memory")
	v.SetDefault("store.dir", "")

	v.SetDefault("client.address", "")
	v.SetDefault("client.origin", DefaultClientOrigin)
	v.SetDefault("client.token", "")
	v.SetDefault("client.timeout", 30*time.Second)
	v.SetDefault("client.tls.enabled", false)
	v.SetDefault("client.tls.ca_cert", "")
	v.SetDefault("client.tls.cert", "")
	v.SetDefault("client.tls.key", "")
}
