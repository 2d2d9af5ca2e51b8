// Package quota enforces per-drive byte allowances.
package quota

import (
	"context"

	"go.uber.org/zap"

	"drivegate/pkg/drive"
	"drivegate/pkg/errs"
	"drivegate/pkg/metrics"
	"drivegate/pkg/types"
	"drivegate/pkg/utils"
)

// DefaultAllowance applies to drives without an explicit allowance.
const DefaultAllowance = 500 * utils.Megabyte

// Enforcer checks projected drive sizes against allowances. Size and
// allowance are read on every call.
type Enforcer struct {
	configs          drive.ConfigStore
	defaultAllowance int64
	logger           *zap.Logger
	metrics          *metrics.GatewayMetrics
}

// NewEnforcer creates a quota enforcer. A non-positive defaultAllowance
// selects DefaultAllowance.
func NewEnforcer(configs drive.ConfigStore, defaultAllowance int64, logger *zap.Logger, m *metrics.GatewayMetrics) *Enforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultAllowance <= 0 {
		defaultAllowance = DefaultAllowance
	}
	return &Enforcer{
		configs:          configs,
		defaultAllowance: defaultAllowance,
		logger:           logger,
		metrics:          m,
	}
}

// Allowance returns the byte allowance of the drive.
func (e *Enforcer) Allowance(ctx context.Context, key types.DriveKey) (int64, error) {
	if e.configs == nil {
		return e.defaultAllowance, nil
	}
	cfg, ok, err := e.configs.GetDriveConfig(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok || cfg.BytesAllowed <= 0 {
		return e.defaultAllowance, nil
	}
	return cfg.BytesAllowed, nil
}

// Assert fails with QuotaExceeded when writing additional bytes would grow
// d beyond its allowance. The privileged actor is exempt.
func (e *Enforcer) Assert(ctx context.Context, d drive.Drive, actor types.Actor, additional int64) error {
	if actor.Privileged {
		return nil
	}

	allowance, err := e.Allowance(ctx, d.Key())
	if err != nil {
		return err
	}

	size := d.Size()
	if size+additional > allowance {
		e.metrics.ObserveQuotaRejection()
		e.logger.Warn("Quota exceeded",
			zap.String("drive", d.Key().String()),
			zap.String("origin", actor.Origin),
			zap.Int64("size", size),
			zap.Int64("additional", additional),
			zap.Int64("allowance", allowance))
		return errs.QuotaExceeded("write of %s would exceed the %s allowance of %s (currently %s)",
			utils.FormatSize(additional), utils.FormatSize(allowance), d.Key().URL(), utils.FormatSize(size))
	}
	return nil
}
