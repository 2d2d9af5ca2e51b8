package store

import (
	"context"

	"drivegate/pkg/drive"
	"drivegate/pkg/types"
)

func (s *Store) ConfigDrive(_ context.Context, key types.DriveKey, cfg drive.DriveConfig) error {
	return s.put(keyConfig(key), cfg)
}

func (s *Store) GetDriveConfig(_ context.Context, key types.DriveKey) (drive.DriveConfig, bool, error) {
	var cfg drive.DriveConfig
	found, err := s.get(keyConfig(key), &cfg)
	return cfg, found, err
}
