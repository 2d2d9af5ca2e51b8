package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivegate/pkg/types"
	"drivegate/pkg/utils"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DRIVEGATE_CONFIG_DIR", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, DefaultAddress, cfg.Server.Address)
	assert.Equal(t, DefaultShutdownTimeout, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 5*time.Second, cfg.Gateway.DefaultTimeout)
	assert.Equal(t, types.HostOrigin, cfg.Gateway.HostOrigin)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, DefaultAddress, cfg.Client.Address)
	assert.Equal(t, DefaultClientOrigin, cfg.Client.Origin)

	allowance, err := cfg.Gateway.Allowance()
	require.NoError(t, err)
	assert.Equal(t, int64(500*utils.Megabyte), allowance)
}

func TestLoad_File(t *testing.T) {
	key := strings.Repeat("ab", 32)
	path := writeConfig(t, `
logging:
  level: DEBUG
  format: json
server:
  address: "0.0.0.0:9000"
  metrics_address: "127.0.0.1:9100"
  privileged_token: secret
gateway:
  default_timeout: 30s
  default_allowance: 1GB
  prompt_rate: 1
  prompt_burst: 2
store:
  type: badger
  dir: /var/lib/drivegate
names:
  - host: notes.example
    key: `+key+`
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Address)
	assert.Equal(t, "0.0.0.0:9000", cfg.Client.Address)
	assert.Equal(t, "secret", cfg.Server.PrivilegedToken)
	assert.Equal(t, 30*time.Second, cfg.Gateway.DefaultTimeout)
	assert.Equal(t, 2, cfg.Gateway.PromptBurst)
	assert.Equal(t, "/var/lib/drivegate", cfg.Store.Dir)
	assert.Equal(t, map[string]string{"notes.example": key}, cfg.NameTable())

	allowance, err := cfg.Gateway.Allowance()
	require.NoError(t, err)
	assert.Equal(t, int64(utils.Gigabyte), allowance)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "gateway:\n  default_timeout: 30s\n")
	t.Setenv("DRIVEGATE_GATEWAY_DEFAULT_TIMEOUT", "2s")
	t.Setenv("DRIVEGATE_SERVER_PRIVILEGED_TOKEN", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Gateway.DefaultTimeout)
	assert.Equal(t, "from-env", cfg.Server.PrivilegedToken)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"BadLevel", "logging:\n  level: loud\n", "Level"},
		{"BadStoreType", "store:\n  type: postgres\n", "Type"},
		{"BadgerWithoutDir", "store:\n  type: badger\n", "Dir"},
		{"NegativeTimeout", "gateway:\n  default_timeout: -1s\n", "DefaultTimeout"},
		{"BadAllowance", "gateway:\n  default_allowance: lots\n", "default_allowance"},
		{"BadNameKey", "names:\n  - host: a.example\n    key: xyz\n", "Key"},
		{"TLSWithoutKey", "server:\n  tls:\n    enabled: true\n    cert: /tmp/c.pem\n", "server.tls"},
		{"TLSBadVersion", "server:\n  tls:\n    min_version: \"1.0\"\n", "MinVersion"},
		{"ClientCertWithoutKey", "client:\n  tls:\n    enabled: true\n    cert: /tmp/c.pem\n", "client.tls"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
