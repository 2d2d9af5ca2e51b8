// Package drive describes the storage engine the gateway delegates to and
// resolves drive identifiers into checkouts of that engine.
package drive

import (
	"context"

	"drivegate/pkg/types"
)

// Drive is a loaded drive handle owned by the engine.
type Drive interface {
	Key() types.DriveKey
	Writable() bool
	Version() types.Version
	Manifest() types.Manifest
	// Size is the accounted byte size of the drive at its latest version.
	Size() int64
	Peers() int
}

// WriteOptions carries optional attributes of a written file.
type WriteOptions struct {
	Metadata map[string]string
}

// Checkout is a view of a drive at a version. A historic checkout rejects
// every mutating primitive.
type Checkout interface {
	Version() types.Version

	Stat(ctx context.Context, path string) (types.Stat, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// Readdir lists names relative to path. With recursive set, nested
	// entries are returned as slash separated relative paths.
	Readdir(ctx context.Context, path string, recursive bool) ([]string, error)
	Watch(ctx context.Context, pattern string) (<-chan types.Event, error)

	WriteFile(ctx context.Context, path string, data []byte, opts WriteOptions) error
	Unlink(ctx context.Context, path string) error
	Copy(ctx context.Context, src, dst string) error
	Rename(ctx context.Context, src, dst string) error
	Mkdir(ctx context.Context, path string) error
	Rmdir(ctx context.Context, path string, recursive bool) error
	Symlink(ctx context.Context, target, linkname string) error
	Mount(ctx context.Context, path string, mount types.MountInfo) error
	Unmount(ctx context.Context, path string) error
	UpdateMetadata(ctx context.Context, path string, metadata map[string]string) error
	DeleteMetadata(ctx context.Context, path string, keys []string) error
	UpdateManifest(ctx context.Context, manifest types.Manifest) error
}

// ForkOptions overrides manifest fields of a fork.
type ForkOptions struct {
	Title       string
	Description string
	// Detached forks do not record their lineage.
	Detached bool
}

// MergeOptions controls Engine.Merge.
type MergeOptions struct {
	// Prefix limits the merge to a subtree.
	Prefix string
	DryRun bool
}

// Engine is the versioned drive storage engine.
//
// The engine owns the process-wide drive registry: concurrent LoadDrive calls
// for the same key must yield a single load.
type Engine interface {
	GetDrive(key types.DriveKey) (Drive, bool)
	LoadDrive(ctx context.Context, key types.DriveKey) (Drive, error)
	// GetCheckout returns the live checkout when version is nil, otherwise the
	// historic checkout at *version.
	GetCheckout(ctx context.Context, d Drive, version *types.Version) (Checkout, bool, error)
	CreateDrive(ctx context.Context, manifest types.Manifest) (Drive, error)
	ForkDrive(ctx context.Context, key types.DriveKey, opts ForkOptions) (Drive, error)
	Diff(ctx context.Context, left, right Checkout, prefix string) ([]types.Change, error)
	Merge(ctx context.Context, src, dst Checkout, opts MergeOptions) ([]types.Change, error)
	NetworkActivity(ctx context.Context) (<-chan types.NetworkEvent, error)
}
