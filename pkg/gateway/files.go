package gateway

import (
	"context"
	"time"

	"drivegate/pkg/drive"
	"drivegate/pkg/types"
)

func (g *Gateway) Stat(ctx context.Context, actor types.Actor, url string, opts StatOptions) (types.Stat, error) {
	return run(ctx, g, call{actor: actor, action: "stat", target: url, timeout: opts.Timeout},
		func(ctx context.Context) (types.Stat, error) {
			t, err := g.resolve(ctx, actor, url, opts.Version)
			if err != nil {
				return types.Stat{}, err
			}
			return t.Checkout.Stat(ctx, t.Path)
		})
}

// ReadFile returns the file content rendered in opts.Encoding.
func (g *Gateway) ReadFile(ctx context.Context, actor types.Actor, url string, opts ReadOptions) ([]byte, error) {
	return run(ctx, g, call{actor: actor, action: "readFile", target: url, timeout: opts.Timeout},
		func(ctx context.Context) ([]byte, error) {
			t, err := g.resolve(ctx, actor, url, opts.Version)
			if err != nil {
				return nil, err
			}
			data, err := t.Checkout.ReadFile(ctx, t.Path)
			if err != nil {
				return nil, err
			}
			return encode(data, opts.Encoding)
		})
}

// WriteFile writes data, encoded as opts.Encoding, to the file at url.
// Quota is charged on the decoded length.
func (g *Gateway) WriteFile(ctx context.Context, actor types.Actor, url string, data []byte, opts WriteOptions) error {
	raw, decodeErr := decode(data, opts.Encoding)
	var size *int64
	if decodeErr == nil {
		size = sizeOf(len(raw))
	}

	_, err := run(ctx, g, call{actor: actor, action: "writeFile", target: url, size: size, timeout: opts.Timeout},
		func(ctx context.Context) (struct{}, error) {
			if decodeErr != nil {
				return struct{}{}, decodeErr
			}
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
			if err := g.authorizeGrowth(ctx, actor, t.Drive, int64(len(raw))); err != nil {
				return struct{}{}, err
			}

			if err := step(ctx, "write "+p); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, t.Checkout.WriteFile(ctx, p, raw, drive.WriteOptions{Metadata: opts.Metadata})
		})
	return err
}

func (g *Gateway) Unlink(ctx context.Context, actor types.Actor, url string, opts OpOptions) error {
	return g.mutate(ctx, actor, "unlink", url, opts.Timeout, types.ActionDelete, writableFilePath,
		func(ctx context.Context, c drive.Checkout, p string) error {
			return c.Unlink(ctx, p)
		})
}

// UpdateMetadata merges metadata into the entry's existing metadata.
func (g *Gateway) UpdateMetadata(ctx context.Context, actor types.Actor, url string, metadata map[string]string, opts OpOptions) error {
	return g.mutate(ctx, actor, "updateMetadata", url, opts.Timeout, types.ActionWrite, writableDirPath,
		func(ctx context.Context, c drive.Checkout, p string) error {
			return c.UpdateMetadata(ctx, p, metadata)
		})
}

func (g *Gateway) DeleteMetadata(ctx context.Context, actor types.Actor, url string, keys []string, opts OpOptions) error {
	return g.mutate(ctx, actor, "deleteMetadata", url, opts.Timeout, types.ActionDelete, writableDirPath,
		func(ctx context.Context, c drive.Checkout, p string) error {
			return c.DeleteMetadata(ctx, p, keys)
		})
}

// Copy copies a file or directory tree. Source and destination may live in
// different drives; the destination must be writable and is charged for
// the copied bytes.
func (g *Gateway) Copy(ctx context.Context, actor types.Actor, src, dst string, opts OpOptions) error {
	_, err := run(ctx, g, call{actor: actor, action: "copy", target: src + " -> " + dst, timeout: opts.Timeout},
		func(ctx context.Context) (struct{}, error) {
			s, d, dstPath, err := g.resolvePair(ctx, actor, src, dst)
			if err != nil {
				return struct{}{}, err
			}
			size, err := planCopy(ctx, s.Checkout, s.Path, dstPath, actor, false)
			if err != nil {
				return struct{}{}, err
			}
			if err := g.authorizeGrowth(ctx, actor, d.Drive, size); err != nil {
				return struct{}{}, err
			}

			if err := step(ctx, "copy "+s.Path); err != nil {
				return struct{}{}, err
			}
			if sameCheckout(s, d) {
				return struct{}{}, d.Checkout.Copy(ctx, s.Path, dstPath)
			}
			return struct{}{}, copyBetween(ctx, s.Checkout, s.Path, d.Checkout, dstPath)
		})
	return err
}

// Rename moves a file or directory tree. Across drives it copies to the
// destination and then removes the source, after every check on both
// endpoints has passed.
func (g *Gateway) Rename(ctx context.Context, actor types.Actor, src, dst string, opts OpOptions) error {
	_, err := run(ctx, g, call{actor: actor, action: "rename", target: src + " -> " + dst, timeout: opts.Timeout},
		func(ctx context.Context) (struct{}, error) {
			s, d, dstPath, err := g.resolvePair(ctx, actor, src, dst)
			if err != nil {
				return struct{}{}, err
			}
			if err := assertMutable(s); err != nil {
				return struct{}{}, err
			}
			srcPath, err := writableDirPath(s.Path, actor)
			if err != nil {
				return struct{}{}, err
			}
			size, err := planCopy(ctx, s.Checkout, srcPath, dstPath, actor, true)
			if err != nil {
				return struct{}{}, err
			}

			if sameCheckout(s, d) {
				if err := g.authorize(ctx, actor, types.ActionWrite, d.Drive); err != nil {
					return struct{}{}, err
				}
				if err := step(ctx, "rename "+srcPath); err != nil {
					return struct{}{}, err
				}
				return struct{}{}, d.Checkout.Rename(ctx, srcPath, dstPath)
			}

			if err := g.authorizeGrowth(ctx, actor, d.Drive, size); err != nil {
				return struct{}{}, err
			}
			if err := g.authorize(ctx, actor, types.ActionDelete, s.Drive); err != nil {
				return struct{}{}, err
			}

			if err := step(ctx, "move "+srcPath); err != nil {
				return struct{}{}, err
			}
			if err := copyBetween(ctx, s.Checkout, srcPath, d.Checkout, dstPath); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, remove(ctx, s.Checkout, srcPath)
		})
	return err
}

// resolvePair resolves both endpoints of a copy or rename and checks the
// destination. The returned path is the cleaned destination path.
func (g *Gateway) resolvePair(ctx context.Context, actor types.Actor, src, dst string) (*drive.Target, *drive.Target, string, error) {
	s, err := g.resolve(ctx, actor, src, nil)
	if err != nil {
		return nil, nil, "", err
	}
	d, err := g.resolve(ctx, actor, dst, nil)
	if err != nil {
		return nil, nil, "", err
	}
	if err := assertMutable(d); err != nil {
		return nil, nil, "", err
	}

	st, err := s.Checkout.Stat(ctx, s.Path)
	if err != nil {
		return nil, nil, "", err
	}
	check := writableDirPath
	if !st.IsDirectory() {
		check = writableFilePath
	}
	dstPath, err := check(d.Path, actor)
	if err != nil {
		return nil, nil, "", err
	}
	return s, d, dstPath, nil
}

func sameCheckout(a, b *drive.Target) bool {
	return a.Key() == b.Key() && !a.Historic && !b.Historic
}

type pathCheck func(p string, actor types.Actor) (string, error)

// mutate runs the common flow of single-path mutations that do not grow
// the drive.
func (g *Gateway) mutate(ctx context.Context, actor types.Actor, action, url string, timeout time.Duration,
	kind types.ActionKind, check pathCheck, op func(ctx context.Context, c drive.Checkout, p string) error) error {
	_, err := run(ctx, g, call{actor: actor, action: action, target: url, timeout: timeout},
		func(ctx context.Context) (struct{}, error) {
			t, err := g.resolve(ctx, actor, url, nil)
			if err != nil {
				return struct{}{}, err
			}
			if err := assertMutable(t); err != nil {
				return struct{}{}, err
			}
			p, err := check(t.Path, actor)
			if err != nil {
				return struct{}{}, err
			}
			if err := g.authorize(ctx, actor, kind, t.Drive); err != nil {
				return struct{}{}, err
			}

			if err := step(ctx, action+" "+p); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, op(ctx, t.Checkout, p)
		})
	return err
}
