package gateway

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5/util"
	"go.uber.org/zap"

	"drivegate/pkg/drive"
	"drivegate/pkg/errs"
	"drivegate/pkg/permission"
	"drivegate/pkg/types"
)

// Diff lists the changes that turn the left checkout into the right one.
// Privileged only.
func (g *Gateway) Diff(ctx context.Context, actor types.Actor, left, right string, opts DiffOptions) ([]types.Change, error) {
	return run(ctx, g, call{actor: actor, action: "diff", target: left + " .. " + right, timeout: opts.Timeout},
		func(ctx context.Context) ([]types.Change, error) {
			if err := permission.RequirePrivileged(actor, "diff"); err != nil {
				return nil, err
			}
			l, err := g.resolve(ctx, actor, left, nil)
			if err != nil {
				return nil, err
			}
			r, err := g.resolve(ctx, actor, right, nil)
			if err != nil {
				return nil, err
			}
			return g.engine.Diff(ctx, l.Checkout, r.Checkout, opts.Prefix)
		})
}

// Merge applies the changes from src onto the live checkout of dst.
// Privileged only.
func (g *Gateway) Merge(ctx context.Context, actor types.Actor, src, dst string, opts MergeOptions) ([]types.Change, error) {
	return run(ctx, g, call{actor: actor, action: "merge", target: src + " -> " + dst, timeout: opts.Timeout},
		func(ctx context.Context) ([]types.Change, error) {
			if err := permission.RequirePrivileged(actor, "merge"); err != nil {
				return nil, err
			}
			s, err := g.resolve(ctx, actor, src, nil)
			if err != nil {
				return nil, err
			}
			d, err := g.resolve(ctx, actor, dst, nil)
			if err != nil {
				return nil, err
			}
			if err := assertMutable(d); err != nil {
				return nil, err
			}
			if err := step(ctx, "merge"); err != nil {
				return nil, err
			}
			return g.engine.Merge(ctx, s.Checkout, d.Checkout, drive.MergeOptions{Prefix: opts.Prefix, DryRun: opts.DryRun})
		})
}

// ImportFromFilesystem copies a host directory tree into the drive at dst.
// Privileged only.
func (g *Gateway) ImportFromFilesystem(ctx context.Context, actor types.Actor, src, dst string, opts TransferOptions) (*TransferStats, error) {
	return run(ctx, g, call{actor: actor, action: "importFromFilesystem", target: src + " -> " + dst, timeout: opts.Timeout},
		func(ctx context.Context) (*TransferStats, error) {
			if err := permission.RequirePrivileged(actor, "importFromFilesystem"); err != nil {
				return nil, err
			}
			d, err := g.resolve(ctx, actor, dst, nil)
			if err != nil {
				return nil, err
			}
			if err := assertMutable(d); err != nil {
				return nil, err
			}

			stats := &TransferStats{}
			err = g.importPath(ctx, src, d.Checkout, d.Path, opts, stats)
			g.logger.Info("Imported from filesystem",
				zap.String("src", src),
				zap.String("dst", d.Key().URL()),
				zap.Int("files", stats.Files),
				zap.Int("skipped", stats.Skipped),
				zap.Bool("dry_run", opts.DryRun),
				zap.Error(err))
			return stats, err
		})
}

func (g *Gateway) importPath(ctx context.Context, hostPath string, dst drive.Checkout, drivePath string, opts TransferOptions, stats *TransferStats) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := g.hostFS.Lstat(hostPath)
	if err != nil {
		return err
	}

	existing, statErr := dst.Stat(ctx, drivePath)
	exists := statErr == nil
	if statErr != nil && !errors.Is(statErr, fs.ErrNotExist) {
		return statErr
	}

	switch {
	case info.IsDir():
		if !exists {
			if !opts.DryRun {
				if err := dst.Mkdir(ctx, drivePath); err != nil {
					return err
				}
			}
		} else if !existing.IsDirectory() {
			return errs.InvalidPath("cannot import directory %s over file %s", hostPath, drivePath)
		}
		stats.Directories++

		children, err := g.hostFS.ReadDir(hostPath)
		if err != nil {
			return err
		}
		for _, child := range children {
			if opts.IgnoreHidden && strings.HasPrefix(child.Name(), ".") {
				continue
			}
			if err := g.importPath(ctx, g.hostFS.Join(hostPath, child.Name()), dst, path.Join(drivePath, child.Name()), opts, stats); err != nil {
				return err
			}
		}
		return nil

	case info.Mode()&os.ModeSymlink != 0:
		target, err := g.hostFS.Readlink(hostPath)
		if err != nil {
			return err
		}
		if exists {
			stats.Skipped++
			return nil
		}
		if !opts.DryRun {
			if err := dst.Symlink(ctx, target, drivePath); err != nil {
				return err
			}
		}
		stats.Files++
		return nil
	}

	if exists && !opts.Overwrite {
		stats.Skipped++
		return nil
	}
	data, err := util.ReadFile(g.hostFS, hostPath)
	if err != nil {
		return err
	}
	if !opts.DryRun {
		if err := dst.WriteFile(ctx, drivePath, data, drive.WriteOptions{}); err != nil {
			return err
		}
	}
	stats.Files++
	stats.Bytes += int64(len(data))
	return nil
}

// ExportToFilesystem copies the tree at src onto the host filesystem.
// Privileged only.
func (g *Gateway) ExportToFilesystem(ctx context.Context, actor types.Actor, src, dst string, opts TransferOptions) (*TransferStats, error) {
	return run(ctx, g, call{actor: actor, action: "exportToFilesystem", target: src + " -> " + dst, timeout: opts.Timeout},
		func(ctx context.Context) (*TransferStats, error) {
			if err := permission.RequirePrivileged(actor, "exportToFilesystem"); err != nil {
				return nil, err
			}
			s, err := g.resolve(ctx, actor, src, nil)
			if err != nil {
				return nil, err
			}

			stats := &TransferStats{}
			err = g.exportPath(ctx, s.Checkout, s.Path, dst, opts, stats)
			g.logger.Info("Exported to filesystem",
				zap.String("src", s.Key().URL()),
				zap.String("dst", dst),
				zap.Int("files", stats.Files),
				zap.Int("skipped", stats.Skipped),
				zap.Bool("dry_run", opts.DryRun),
				zap.Error(err))
			return stats, err
		})
}

func (g *Gateway) exportPath(ctx context.Context, src drive.Checkout, drivePath, hostPath string, opts TransferOptions, stats *TransferStats) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, err := src.Stat(ctx, drivePath)
	if err != nil {
		return err
	}

	if st.IsDirectory() {
		if !opts.DryRun {
			if err := g.hostFS.MkdirAll(hostPath, 0o755); err != nil {
				return err
			}
		}
		stats.Directories++

		names, err := src.Readdir(ctx, drivePath, false)
		if err != nil {
			return err
		}
		for _, name := range names {
			if opts.IgnoreHidden && strings.HasPrefix(name, ".") {
				continue
			}
			if err := g.exportPath(ctx, src, path.Join(drivePath, name), g.hostFS.Join(hostPath, name), opts, stats); err != nil {
				return err
			}
		}
		return nil
	}

	if _, err := g.hostFS.Lstat(hostPath); err == nil && !opts.Overwrite {
		stats.Skipped++
		return nil
	}

	if st.Type == types.EntrySymlink {
		if !opts.DryRun {
			_ = g.hostFS.Remove(hostPath)
			if err := g.hostFS.Symlink(st.Linkname, hostPath); err != nil {
				return err
			}
		}
		stats.Files++
		return nil
	}

	data, err := src.ReadFile(ctx, drivePath)
	if err != nil {
		return err
	}
	if !opts.DryRun {
		if err := util.WriteFile(g.hostFS, hostPath, data, 0o644); err != nil {
			return err
		}
	}
	stats.Files++
	stats.Bytes += int64(len(data))
	return nil
}

// ExportToDrive copies the tree at src into the drive at dst, skipping
// existing entries unless opts.Overwrite is set. Privileged only.
func (g *Gateway) ExportToDrive(ctx context.Context, actor types.Actor, src, dst string, opts TransferOptions) (*TransferStats, error) {
	return run(ctx, g, call{actor: actor, action: "exportToDrive", target: src + " -> " + dst, timeout: opts.Timeout},
		func(ctx context.Context) (*TransferStats, error) {
			if err := permission.RequirePrivileged(actor, "exportToDrive"); err != nil {
				return nil, err
			}
			s, err := g.resolve(ctx, actor, src, nil)
			if err != nil {
				return nil, err
			}
			d, err := g.resolve(ctx, actor, dst, nil)
			if err != nil {
				return nil, err
			}
			if err := assertMutable(d); err != nil {
				return nil, err
			}

			stats := &TransferStats{}
			return stats, exportEntry(ctx, s.Checkout, s.Path, d.Checkout, d.Path, opts, stats)
		})
}

func exportEntry(ctx context.Context, src drive.Checkout, srcPath string, dst drive.Checkout, dstPath string, opts TransferOptions, stats *TransferStats) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, err := src.Stat(ctx, srcPath)
	if err != nil {
		return err
	}
	existing, statErr := dst.Stat(ctx, dstPath)
	exists := statErr == nil
	if statErr != nil && !errors.Is(statErr, fs.ErrNotExist) {
		return statErr
	}

	if st.Type == types.EntryDirectory {
		if !exists && !opts.DryRun {
			if err := dst.Mkdir(ctx, dstPath); err != nil {
				return err
			}
		} else if exists && !existing.IsDirectory() {
			return errs.InvalidPath("cannot export directory %s over file %s", srcPath, dstPath)
		}
		stats.Directories++

		names, err := src.Readdir(ctx, srcPath, false)
		if err != nil {
			return err
		}
		for _, name := range names {
			if opts.IgnoreHidden && strings.HasPrefix(name, ".") {
				continue
			}
			if err := exportEntry(ctx, src, path.Join(srcPath, name), dst, path.Join(dstPath, name), opts, stats); err != nil {
				return err
			}
		}
		return nil
	}

	if exists && (!opts.Overwrite || existing.IsDirectory()) {
		stats.Skipped++
		return nil
	}
	if !opts.DryRun {
		if exists {
			if err := remove(ctx, dst, dstPath); err != nil {
				return err
			}
		}
		if err := copyBetween(ctx, src, srcPath, dst, dstPath); err != nil {
			return err
		}
	}
	stats.Files++
	stats.Bytes += st.Size
	return nil
}
