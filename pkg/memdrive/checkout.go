package memdrive

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"strings"

	"drivegate/pkg/drive"
	"drivegate/pkg/errs"
	"drivegate/pkg/types"
)

// Checkout is a view of a Drive. A nil version follows the latest version.
type Checkout struct {
	drive   *Drive
	version *types.Version
}

var _ drive.Checkout = (*Checkout)(nil)

func (c *Checkout) Version() types.Version {
	if c.version != nil {
		return *c.version
	}
	return c.drive.Version()
}

// Historic reports whether the checkout is pinned to a version.
func (c *Checkout) Historic() bool {
	return c.version != nil
}

func (c *Checkout) tree() tree {
	if c.version != nil {
		t, _ := c.drive.at(*c.version)
		return t
	}
	return c.drive.latest()
}

// mounted returns the checkout of the drive mounted above p and the path
// relative to it, when p lies strictly below a mount point.
func (c *Checkout) mounted(t tree, p string) (*Checkout, string, bool, error) {
	at, nd, ok := t.mountAt(p)
	if !ok || at == p {
		return nil, "", false, nil
	}
	sub, err := c.mountCheckout(p, nd)
	if err != nil {
		return nil, "", false, err
	}
	return sub, clean(strings.TrimPrefix(p, at)), true, nil
}

// mountCheckout opens the drive referenced by a mount node. The mounted
// drive must already be loaded.
func (c *Checkout) mountCheckout(p string, nd *node) (*Checkout, error) {
	target, ok := c.drive.engine.lookup(nd.stat.Mount.Key)
	if !ok {
		return nil, pathError("mount", p, fs.ErrNotExist)
	}
	sub := &Checkout{drive: target}
	if nd.stat.Mount.Version != 0 {
		v := nd.stat.Mount.Version
		sub.version = &v
	}
	return sub, nil
}

func (c *Checkout) Stat(ctx context.Context, p string) (types.Stat, error) {
	p = clean(p)
	t := c.tree()
	if sub, rel, ok, err := c.mounted(t, p); err != nil || ok {
		if err != nil {
			return types.Stat{}, err
		}
		return sub.Stat(ctx, rel)
	}
	nd, ok := t[p]
	if !ok {
		return types.Stat{}, pathError("stat", p, fs.ErrNotExist)
	}
	return nd.stat, nil
}

func (c *Checkout) ReadFile(ctx context.Context, p string) ([]byte, error) {
	p = clean(p)
	t := c.tree()
	if sub, rel, ok, err := c.mounted(t, p); err != nil || ok {
		if err != nil {
			return nil, err
		}
		return sub.ReadFile(ctx, rel)
	}
	_, nd, err := t.follow("readFile", p)
	if err != nil {
		return nil, err
	}
	if nd.stat.Type != types.EntryFile {
		return nil, pathError("readFile", p, errIsDir)
	}
	return append([]byte(nil), nd.data...), nil
}

func (c *Checkout) Readdir(ctx context.Context, p string, recursive bool) ([]string, error) {
	p = clean(p)
	t := c.tree()
	if sub, rel, ok, err := c.mounted(t, p); err != nil || ok {
		if err != nil {
			return nil, err
		}
		return sub.Readdir(ctx, rel, recursive)
	}
	nd, ok := t[p]
	if !ok {
		return nil, pathError("readdir", p, fs.ErrNotExist)
	}
	switch nd.stat.Type {
	case types.EntryMount:
		sub, err := c.mountCheckout(p, nd)
		if err != nil {
			return nil, err
		}
		return sub.Readdir(ctx, "/", recursive)
	case types.EntryDirectory:
	default:
		return nil, pathError("readdir", p, errNotDir)
	}

	prefix := p
	if prefix != "/" {
		prefix += "/"
	}
	var names []string
	for _, child := range t.children(p, recursive) {
		names = append(names, strings.TrimPrefix(child, prefix))
	}
	return names, nil
}

func (c *Checkout) Watch(ctx context.Context, pattern string) (<-chan types.Event, error) {
	return c.drive.watch(ctx, pattern), nil
}

func (c *Checkout) mutate(fn func(t tree) ([]string, error)) error {
	if c.version != nil {
		return errs.ArchiveNotWritable("cannot modify %s at historic version %d", c.drive.key.URL(), *c.version)
	}
	return c.drive.commit(fn)
}

func (c *Checkout) now() types.Stat {
	ts := c.drive.engine.clock()
	return types.Stat{Mtime: ts, Ctime: ts}
}

func (c *Checkout) WriteFile(_ context.Context, p string, data []byte, opts drive.WriteOptions) error {
	p = clean(p)
	st := c.now()
	return c.mutate(func(t tree) ([]string, error) {
		if err := t.parentDir("writeFile", p); err != nil {
			return nil, err
		}
		if old, ok := t[p]; ok {
			if old.stat.Type != types.EntryFile && old.stat.Type != types.EntrySymlink {
				return nil, pathError("writeFile", p, errIsDir)
			}
			if old.stat.Type == types.EntryFile {
				st.Ctime = old.stat.Ctime
			}
		}
		st.Type = types.EntryFile
		st.Size = int64(len(data))
		st.Metadata = copyMetadata(opts.Metadata)
		t[p] = &node{stat: st, data: append([]byte(nil), data...)}
		return []string{p}, nil
	})
}

func (c *Checkout) Unlink(_ context.Context, p string) error {
	p = clean(p)
	return c.mutate(func(t tree) ([]string, error) {
		nd, ok := t[p]
		if !ok {
			return nil, pathError("unlink", p, fs.ErrNotExist)
		}
		if nd.stat.Type == types.EntryDirectory || nd.stat.Type == types.EntryMount {
			return nil, pathError("unlink", p, errIsDir)
		}
		delete(t, p)
		return []string{p}, nil
	})
}

func (c *Checkout) Mkdir(_ context.Context, p string) error {
	p = clean(p)
	st := c.now()
	return c.mutate(func(t tree) ([]string, error) {
		if _, ok := t[p]; ok {
			return nil, pathError("mkdir", p, fs.ErrExist)
		}
		if err := t.parentDir("mkdir", p); err != nil {
			return nil, err
		}
		st.Type = types.EntryDirectory
		t[p] = &node{stat: st}
		return []string{p}, nil
	})
}

func (c *Checkout) Rmdir(_ context.Context, p string, recursive bool) error {
	p = clean(p)
	return c.mutate(func(t tree) ([]string, error) {
		if p == "/" {
			return nil, pathError("rmdir", p, fs.ErrPermission)
		}
		nd, ok := t[p]
		if !ok {
			return nil, pathError("rmdir", p, fs.ErrNotExist)
		}
		if nd.stat.Type != types.EntryDirectory {
			return nil, pathError("rmdir", p, errNotDir)
		}
		children := t.children(p, true)
		if len(children) > 0 && !recursive {
			return nil, pathError("rmdir", p, errNotEmpty)
		}
		t.removeTree(p)
		return append([]string{p}, children...), nil
	})
}

func (c *Checkout) Copy(_ context.Context, src, dst string) error {
	src, dst = clean(src), clean(dst)
	now := c.drive.engine.clock()
	return c.mutate(func(t tree) ([]string, error) {
		if err := checkMove(t, "copy", src, dst); err != nil {
			return nil, err
		}
		t.copyTree(src, dst, now)
		return append([]string{dst}, t.children(dst, true)...), nil
	})
}

func (c *Checkout) Rename(_ context.Context, src, dst string) error {
	src, dst = clean(src), clean(dst)
	now := c.drive.engine.clock()
	return c.mutate(func(t tree) ([]string, error) {
		if err := checkMove(t, "rename", src, dst); err != nil {
			return nil, err
		}
		removed := append([]string{src}, t.children(src, true)...)
		t.copyTree(src, dst, now)
		t.removeTree(src)
		return append(removed, append([]string{dst}, t.children(dst, true)...)...), nil
	})
}

func checkMove(t tree, op, src, dst string) error {
	if src == "/" {
		return pathError(op, src, fs.ErrPermission)
	}
	if _, ok := t[src]; !ok {
		return pathError(op, src, fs.ErrNotExist)
	}
	if dst == src || strings.HasPrefix(dst, src+"/") {
		return pathError(op, dst, fmt.Errorf("cannot %s %s into itself", op, src))
	}
	if existing, ok := t[dst]; ok && existing.stat.Type != types.EntryFile {
		return pathError(op, dst, fs.ErrExist)
	}
	return t.parentDir(op, dst)
}

func (c *Checkout) Symlink(_ context.Context, target, linkname string) error {
	linkname = clean(linkname)
	st := c.now()
	return c.mutate(func(t tree) ([]string, error) {
		if _, ok := t[linkname]; ok {
			return nil, pathError("symlink", linkname, fs.ErrExist)
		}
		if err := t.parentDir("symlink", linkname); err != nil {
			return nil, err
		}
		st.Type = types.EntrySymlink
		st.Linkname = target
		t[linkname] = &node{stat: st}
		return []string{linkname}, nil
	})
}

func (c *Checkout) Mount(_ context.Context, p string, mount types.MountInfo) error {
	p = clean(p)
	st := c.now()
	return c.mutate(func(t tree) ([]string, error) {
		if _, ok := t[p]; ok {
			return nil, pathError("mount", p, fs.ErrExist)
		}
		if err := t.parentDir("mount", p); err != nil {
			return nil, err
		}
		st.Type = types.EntryMount
		m := mount
		st.Mount = &m
		t[p] = &node{stat: st}
		return []string{p}, nil
	})
}

func (c *Checkout) Unmount(_ context.Context, p string) error {
	p = clean(p)
	return c.mutate(func(t tree) ([]string, error) {
		nd, ok := t[p]
		if !ok {
			return nil, pathError("unmount", p, fs.ErrNotExist)
		}
		if nd.stat.Type != types.EntryMount {
			return nil, pathError("unmount", p, errNotMount)
		}
		delete(t, p)
		return []string{p}, nil
	})
}

func (c *Checkout) UpdateMetadata(_ context.Context, p string, metadata map[string]string) error {
	p = clean(p)
	return c.mutate(func(t tree) ([]string, error) {
		nd, ok := t[p]
		if !ok {
			return nil, pathError("updateMetadata", p, fs.ErrNotExist)
		}
		cp := *nd
		cp.stat.Metadata = copyMetadata(nd.stat.Metadata)
		if cp.stat.Metadata == nil {
			cp.stat.Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			cp.stat.Metadata[k] = v
		}
		t[p] = &cp
		return []string{p}, nil
	})
}

func (c *Checkout) DeleteMetadata(_ context.Context, p string, keys []string) error {
	p = clean(p)
	return c.mutate(func(t tree) ([]string, error) {
		nd, ok := t[p]
		if !ok {
			return nil, pathError("deleteMetadata", p, fs.ErrNotExist)
		}
		cp := *nd
		cp.stat.Metadata = copyMetadata(nd.stat.Metadata)
		for _, k := range keys {
			delete(cp.stat.Metadata, k)
		}
		if len(cp.stat.Metadata) == 0 {
			cp.stat.Metadata = nil
		}
		t[p] = &cp
		return []string{p}, nil
	})
}

func (c *Checkout) UpdateManifest(ctx context.Context, manifest types.Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return c.WriteFile(ctx, types.ManifestPath, data, drive.WriteOptions{})
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
