package quota

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"drivegate/pkg/drive"
	"drivegate/pkg/errs"
	"drivegate/pkg/types"
)

type sizedDrive struct {
	key  types.DriveKey
	size atomic.Int64
}

func (d *sizedDrive) Key() types.DriveKey      { return d.key }
func (d *sizedDrive) Writable() bool           { return true }
func (d *sizedDrive) Version() types.Version   { return 0 }
func (d *sizedDrive) Manifest() types.Manifest { return types.Manifest{} }
func (d *sizedDrive) Size() int64              { return d.size.Load() }
func (d *sizedDrive) Peers() int               { return 0 }

var guest = types.Actor{Origin: "https://app.example"}

func TestEnforcer_Boundary(t *testing.T) {
	tests := []struct {
		name      string
		size      int64
		allowance int64
		write     int64
		wantError bool
	}{
		{"well under", 10, 100, 10, false},
		{"exactly at allowance", 60, 100, 40, false},
		{"one byte over", 60, 100, 41, true},
		{"already over", 150, 100, 0, true},
		{"zero write at limit", 100, 100, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &sizedDrive{key: types.DriveKey{1}}
			d.size.Store(tt.size)
			e := NewEnforcer(nil, tt.allowance, zap.NewNop(), nil)

			err := e.Assert(context.Background(), d, guest, tt.write)
			if tt.wantError {
				assert.True(t, errs.Is(err, errs.CodeQuotaExceeded), "got %v", err)
				assert.False(t, errs.IsRetryable(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnforcer_RejectsTheCrossingWrite(t *testing.T) {
	d := &sizedDrive{key: types.DriveKey{2}}
	e := NewEnforcer(nil, 100, zap.NewNop(), nil)

	writes := []int64{30, 30, 30, 30, 5}
	var results []bool
	for _, w := range writes {
		err := e.Assert(context.Background(), d, guest, w)
		results = append(results, err == nil)
		if err == nil {
			d.size.Add(w)
		}
	}

	// The fourth write would reach 120 and is the first rejected; the
	// fifth still fits.
	assert.Equal(t, []bool{true, true, true, false, true}, results)
	assert.Equal(t, int64(95), d.Size())
}

func TestEnforcer_PrivilegedExempt(t *testing.T) {
	d := &sizedDrive{key: types.DriveKey{3}}
	d.size.Store(1 << 40)
	e := NewEnforcer(nil, 1, zap.NewNop(), nil)
	assert.NoError(t, e.Assert(context.Background(), d, types.Host(), 1<<40))
}

func TestEnforcer_ConfiguredAllowance(t *testing.T) {
	ctx := context.Background()
	configs := drive.NewMemoryConfigs()
	d := &sizedDrive{key: types.DriveKey{4}}
	e := NewEnforcer(configs, 0, zap.NewNop(), nil)

	allowance, err := e.Allowance(ctx, d.key)
	require.NoError(t, err)
	assert.Equal(t, DefaultAllowance, allowance)

	require.NoError(t, configs.ConfigDrive(ctx, d.key, drive.DriveConfig{BytesAllowed: 10}))
	assert.NoError(t, e.Assert(ctx, d, guest, 10))
	assert.True(t, errs.Is(e.Assert(ctx, d, guest, 11), errs.CodeQuotaExceeded))

	// Reads are fresh: raising the allowance takes effect immediately.
	require.NoError(t, configs.ConfigDrive(ctx, d.key, drive.DriveConfig{BytesAllowed: 20}))
	assert.NoError(t, e.Assert(ctx, d, guest, 11))
}
