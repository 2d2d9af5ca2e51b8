package drive

import (
	"context"
	"sync"

	"drivegate/pkg/types"
)

// DriveConfig holds the persisted per-drive settings.
type DriveConfig struct {
	// BytesAllowed overrides the default quota allowance when non-zero.
	BytesAllowed int64  `cbor:"bytes_allowed,omitempty" json:"bytes_allowed,omitempty"`
	Seeding      bool   `cbor:"seeding" json:"seeding"`
	ForkOf       string `cbor:"fork_of,omitempty" json:"fork_of,omitempty"`
}

// ConfigStore persists DriveConfig records.
type ConfigStore interface {
	ConfigDrive(ctx context.Context, key types.DriveKey, cfg DriveConfig) error
	// GetDriveConfig reports false when no record exists.
	GetDriveConfig(ctx context.Context, key types.DriveKey) (DriveConfig, bool, error)
}

// MemoryConfigs is an in-process ConfigStore.
type MemoryConfigs struct {
	mu      sync.RWMutex
	configs map[types.DriveKey]DriveConfig
}

// NewMemoryConfigs creates an empty config store
func NewMemoryConfigs() *MemoryConfigs {
	return &MemoryConfigs{configs: make(map[types.DriveKey]DriveConfig)}
}

func (m *MemoryConfigs) ConfigDrive(_ context.Context, key types.DriveKey, cfg DriveConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[key] = cfg
	return nil
}

func (m *MemoryConfigs) GetDriveConfig(_ context.Context, key types.DriveKey) (DriveConfig, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[key]
	return cfg, ok, nil
}
