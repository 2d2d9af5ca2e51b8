package gateway

import (
	"context"
	"path"

	"drivegate/pkg/drive"
	"drivegate/pkg/paths"
	"drivegate/pkg/types"
)

// planCopy walks the tree at srcPath before anything is written and
// returns the sum of its file sizes. Every path the copy creates beneath
// dstPath must be writable by actor. With move set, every source path must
// also be removable. Mounted drives are neither counted nor entered.
func planCopy(ctx context.Context, c drive.Checkout, srcPath, dstPath string, actor types.Actor, move bool) (int64, error) {
	if err := paths.AssertUnprotected(dstPath, actor); err != nil {
		return 0, err
	}
	if move {
		if err := paths.AssertUnprotected(srcPath, actor); err != nil {
			return 0, err
		}
	}

	st, err := c.Stat(ctx, srcPath)
	if err != nil {
		return 0, err
	}
	switch st.Type {
	case types.EntryFile:
		return st.Size, nil
	case types.EntryDirectory:
	default:
		return 0, nil
	}

	names, err := c.Readdir(ctx, srcPath, false)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, name := range names {
		n, err := planCopy(ctx, c, path.Join(srcPath, name), path.Join(dstPath, name), actor, move)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// copyBetween copies the entry at srcPath, and everything beneath it, from
// one checkout into another. Metadata is preserved; mounts are copied as
// mounts.
func copyBetween(ctx context.Context, src drive.Checkout, srcPath string, dst drive.Checkout, dstPath string) error {
	st, err := src.Stat(ctx, srcPath)
	if err != nil {
		return err
	}

	switch st.Type {
	case types.EntryFile:
		data, err := src.ReadFile(ctx, srcPath)
		if err != nil {
			return err
		}
		return dst.WriteFile(ctx, dstPath, data, drive.WriteOptions{Metadata: st.Metadata})
	case types.EntrySymlink:
		return dst.Symlink(ctx, st.Linkname, dstPath)
	case types.EntryMount:
		return dst.Mount(ctx, dstPath, *st.Mount)
	}

	if dstPath != "/" {
		if err := dst.Mkdir(ctx, dstPath); err != nil {
			return err
		}
	}
	if len(st.Metadata) > 0 {
		if err := dst.UpdateMetadata(ctx, dstPath, st.Metadata); err != nil {
			return err
		}
	}
	names, err := src.Readdir(ctx, srcPath, false)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := copyBetween(ctx, src, path.Join(srcPath, name), dst, path.Join(dstPath, name)); err != nil {
			return err
		}
	}
	return nil
}

// remove deletes the entry at p whatever its type.
func remove(ctx context.Context, c drive.Checkout, p string) error {
	st, err := c.Stat(ctx, p)
	if err != nil {
		return err
	}
	switch st.Type {
	case types.EntryDirectory:
		return c.Rmdir(ctx, p, true)
	case types.EntryMount:
		return c.Unmount(ctx, p)
	}
	return c.Unlink(ctx, p)
}
