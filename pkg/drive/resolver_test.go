package drive_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"drivegate/pkg/drive"
	"drivegate/pkg/errs"
	"drivegate/pkg/memdrive"
	"drivegate/pkg/types"
)

var guest = types.Actor{Origin: "https://app.example"}

func TestResolver_LoadsOnceAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	engine := memdrive.New(memdrive.Options{})
	key, err := engine.AddRemote(types.Manifest{Title: "Remote"}, map[string][]byte{"/a.txt": []byte("a")})
	require.NoError(t, err)

	r := drive.NewResolver(engine, nil, zap.NewNop())

	first, err := r.Resolve(ctx, guest, "hyper://"+key.String()+"/a.txt", nil)
	require.NoError(t, err)
	second, err := r.Resolve(ctx, guest, "hyper://"+key.String()+"/a.txt", nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1), engine.Loads())
	assert.Same(t, first.Drive, second.Drive)
	assert.False(t, first.Historic)
	assert.Equal(t, "/a.txt", first.Path)
	assert.Equal(t, key, first.Key())

	a, err := first.Checkout.ReadFile(ctx, first.Path)
	require.NoError(t, err)
	b, err := second.Checkout.ReadFile(ctx, second.Path)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestResolver_Versions(t *testing.T) {
	ctx := context.Background()
	engine := memdrive.New(memdrive.Options{})
	d, err := engine.CreateDrive(ctx, types.Manifest{Title: "Notes"})
	require.NoError(t, err)
	require.NoError(t, engine.Seed(d.Key(), map[string][]byte{"/v.txt": []byte("one")}))
	pinned := d.Version()
	require.NoError(t, engine.Seed(d.Key(), map[string][]byte{"/v.txt": []byte("two")}))

	r := drive.NewResolver(engine, nil, nil)

	target, err := r.Resolve(ctx, guest, d.Key().String(), &pinned)
	require.NoError(t, err)
	assert.True(t, target.Historic)
	data, err := target.Checkout.ReadFile(ctx, "/v.txt")
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))

	suffix, err := r.Resolve(ctx, guest, "hyper://"+d.Key().String()+"+"+"2/v.txt", nil)
	require.NoError(t, err)
	assert.True(t, suffix.Historic)
	require.NotNil(t, suffix.Version)
	assert.Equal(t, types.Version(2), *suffix.Version)

	// An explicit version wins over the suffix.
	override, err := r.Resolve(ctx, guest, "hyper://"+d.Key().String()+"+2/v.txt", &pinned)
	require.NoError(t, err)
	assert.Equal(t, pinned, *override.Version)
}

func TestResolver_Names(t *testing.T) {
	ctx := context.Background()
	engine := memdrive.New(memdrive.Options{})
	d, err := engine.CreateDrive(ctx, types.Manifest{})
	require.NoError(t, err)

	names, err := drive.NewStaticNames(nil)
	require.NoError(t, err)
	names.Set("notes.example", d.Key())
	r := drive.NewResolver(engine, names, zap.NewNop())

	target, err := r.Resolve(ctx, guest, "hyper://notes.example/", nil)
	require.NoError(t, err)
	assert.Equal(t, d.Key(), target.Key())

	_, err = r.Resolve(ctx, guest, "hyper://unknown.example/", nil)
	assert.True(t, errs.Is(err, errs.CodeInvalidURL))

	_, err = drive.NewResolver(engine, nil, nil).Resolve(ctx, guest, "hyper://notes.example/", nil)
	assert.True(t, errs.Is(err, errs.CodeInvalidURL))
}

func TestResolver_LoadErrorPassesThrough(t *testing.T) {
	engine := memdrive.New(memdrive.Options{})
	r := drive.NewResolver(engine, nil, nil)

	_, err := r.Resolve(context.Background(), guest, types.DriveKey{1}.String(), nil)
	assert.ErrorIs(t, err, memdrive.ErrDriveNotFound)
	assert.False(t, errs.Is(err, errs.CodeInvalidURL))
}

func TestMemoryConfigs(t *testing.T) {
	ctx := context.Background()
	store := drive.NewMemoryConfigs()

	_, ok, err := store.GetDriveConfig(ctx, types.DriveKey{1})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.ConfigDrive(ctx, types.DriveKey{1}, drive.DriveConfig{Seeding: true}))
	cfg, ok, err := store.GetDriveConfig(ctx, types.DriveKey{1})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, cfg.Seeding)
}
