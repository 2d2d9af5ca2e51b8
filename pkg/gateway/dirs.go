package gateway

import (
	"context"
	"path"

	"drivegate/pkg/drive"
	"drivegate/pkg/types"
)

// Readdir lists the entries of a directory. Recursive listings name nested
// entries by their slash separated path relative to url.
func (g *Gateway) Readdir(ctx context.Context, actor types.Actor, url string, opts ReaddirOptions) ([]types.DirEntry, error) {
	return run(ctx, g, call{actor: actor, action: "readdir", target: url, timeout: opts.Timeout},
		func(ctx context.Context) ([]types.DirEntry, error) {
			t, err := g.resolve(ctx, actor, url, opts.Version)
			if err != nil {
				return nil, err
			}
			names, err := t.Checkout.Readdir(ctx, t.Path, opts.Recursive)
			if err != nil {
				return nil, err
			}

			entries := make([]types.DirEntry, 0, len(names))
			for _, name := range names {
				entry := types.DirEntry{Name: name}
				if opts.IncludeStats {
					st, err := t.Checkout.Stat(ctx, path.Join(t.Path, name))
					if err != nil {
						return nil, err
					}
					entry.Stat = &st
				}
				entries = append(entries, entry)
			}
			return entries, nil
		})
}

func (g *Gateway) Mkdir(ctx context.Context, actor types.Actor, url string, opts OpOptions) error {
	return g.mutate(ctx, actor, "mkdir", url, opts.Timeout, types.ActionWrite, writableDirPath,
		func(ctx context.Context, c drive.Checkout, p string) error {
			return c.Mkdir(ctx, p)
		})
}

func (g *Gateway) Rmdir(ctx context.Context, actor types.Actor, url string, opts RmdirOptions) error {
	return g.mutate(ctx, actor, "rmdir", url, opts.Timeout, types.ActionDelete, writableDirPath,
		func(ctx context.Context, c drive.Checkout, p string) error {
			return c.Rmdir(ctx, p, opts.Recursive)
		})
}

// Symlink creates linkname pointing at target. target is stored verbatim
// and may be relative to the link's directory.
func (g *Gateway) Symlink(ctx context.Context, actor types.Actor, target, linkname string, opts OpOptions) error {
	return g.mutate(ctx, actor, "symlink", linkname, opts.Timeout, types.ActionWrite, writableFilePath,
		func(ctx context.Context, c drive.Checkout, p string) error {
			return c.Symlink(ctx, target, p)
		})
}

// Mount attaches the drive named by mountURL at url. The mounted drive is
// loaded so reads can pass through the mount point.
func (g *Gateway) Mount(ctx context.Context, actor types.Actor, url, mountURL string, opts MountOptions) error {
	_, err := run(ctx, g, call{actor: actor, action: "mount", target: url + " <- " + mountURL, timeout: opts.Timeout},
		func(ctx context.Context) (struct{}, error) {
			t, err := g.resolve(ctx, actor, url, nil)
			if err != nil {
				return struct{}{}, err
			}
			if err := assertMutable(t); err != nil {
				return struct{}{}, err
			}
			p, err := writableFilePath(t.Path, actor)
			if err != nil {
				return struct{}{}, err
			}
			m, err := g.resolve(ctx, actor, mountURL, opts.Version)
			if err != nil {
				return struct{}{}, err
			}
			if err := g.authorize(ctx, actor, types.ActionWrite, t.Drive); err != nil {
				return struct{}{}, err
			}

			info := types.MountInfo{Key: m.Key()}
			if m.Version != nil {
				info.Version = *m.Version
			}
			if err := step(ctx, "mount "+p); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, t.Checkout.Mount(ctx, p, info)
		})
	return err
}

func (g *Gateway) Unmount(ctx context.Context, actor types.Actor, url string, opts OpOptions) error {
	return g.mutate(ctx, actor, "unmount", url, opts.Timeout, types.ActionDelete, writableDirPath,
		func(ctx context.Context, c drive.Checkout, p string) error {
			return c.Unmount(ctx, p)
		})
}
