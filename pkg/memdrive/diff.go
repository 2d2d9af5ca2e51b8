package memdrive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"

	"drivegate/pkg/drive"
	"drivegate/pkg/errs"
	"drivegate/pkg/paths"
	"drivegate/pkg/types"
)

// seed writes files into the checkout in a single version, creating parent
// directories as needed.
func (c *Checkout) seed(files map[string][]byte) error {
	if len(files) == 0 {
		return nil
	}
	st := c.now()
	return c.mutate(func(t tree) ([]string, error) {
		var changed []string
		for p, data := range files {
			p = clean(p)
			changed = append(changed, mkdirAll(t, path.Dir(p), st)...)
			fst := st
			fst.Type = types.EntryFile
			fst.Size = int64(len(data))
			t[p] = &node{stat: fst, data: append([]byte(nil), data...)}
			changed = append(changed, p)
		}
		return changed, nil
	})
}

// Seed writes files into a loaded drive, bypassing the gateway.
func (e *Engine) Seed(key types.DriveKey, files map[string][]byte) error {
	d, ok := e.lookup(key)
	if !ok {
		return fmt.Errorf("seed %s: %w", key, ErrDriveNotFound)
	}
	return (&Checkout{drive: d}).seed(files)
}

func mkdirAll(t tree, dir string, st types.Stat) []string {
	var created []string
	for cur := dir; ; cur = path.Dir(cur) {
		if _, ok := t[cur]; ok {
			break
		}
		dst := st
		dst.Type = types.EntryDirectory
		t[cur] = &node{stat: dst}
		created = append(created, cur)
		if cur == "/" {
			break
		}
	}
	return created
}

func sameNode(a, b *node) bool {
	if a.stat.Type != b.stat.Type {
		return false
	}
	switch a.stat.Type {
	case types.EntryFile:
		return bytes.Equal(a.data, b.data)
	case types.EntrySymlink:
		return a.stat.Linkname == b.stat.Linkname
	case types.EntryMount:
		return *a.stat.Mount == *b.stat.Mount
	}
	return true
}

// diffTrees lists the changes that turn left into right below prefix.
func diffTrees(left, right tree, prefix string) []types.Change {
	var changes []types.Change
	for p, rn := range right {
		if p == "/" || !paths.IsWithin(p, prefix) {
			continue
		}
		ln, ok := left[p]
		switch {
		case !ok:
			changes = append(changes, types.Change{Change: types.ChangeAdd, Type: rn.stat.Type, Path: p})
		case !sameNode(ln, rn):
			changes = append(changes, types.Change{Change: types.ChangeModify, Type: rn.stat.Type, Path: p})
		}
	}
	for p, ln := range left {
		if p == "/" || !paths.IsWithin(p, prefix) {
			continue
		}
		if _, ok := right[p]; !ok {
			changes = append(changes, types.Change{Change: types.ChangeDelete, Type: ln.stat.Type, Path: p})
		}
	}
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Path != changes[j].Path {
			return changes[i].Path < changes[j].Path
		}
		return changes[i].Change < changes[j].Change
	})
	return changes
}

func (e *Engine) checkout(c drive.Checkout) (*Checkout, error) {
	mc, ok := c.(*Checkout)
	if !ok || mc.drive.engine != e {
		return nil, fmt.Errorf("checkout does not belong to this engine")
	}
	return mc, nil
}

// Diff lists the changes that turn left into right.
func (e *Engine) Diff(_ context.Context, left, right drive.Checkout, prefix string) ([]types.Change, error) {
	l, err := e.checkout(left)
	if err != nil {
		return nil, err
	}
	r, err := e.checkout(right)
	if err != nil {
		return nil, err
	}
	return diffTrees(l.tree(), r.tree(), clean(prefix)), nil
}

// Merge makes dst match src below opts.Prefix and returns the applied
// changes. With DryRun nothing is written.
func (e *Engine) Merge(_ context.Context, src, dst drive.Checkout, opts drive.MergeOptions) ([]types.Change, error) {
	s, err := e.checkout(src)
	if err != nil {
		return nil, err
	}
	d, err := e.checkout(dst)
	if err != nil {
		return nil, err
	}
	if d.version != nil || !d.drive.writable {
		return nil, errs.ArchiveNotWritable("merge destination %s is not writable", d.drive.key.URL())
	}

	prefix := clean(opts.Prefix)
	srcTree := s.tree()
	changes := diffTrees(d.tree(), srcTree, prefix)
	if opts.DryRun || len(changes) == 0 {
		return changes, nil
	}

	err = d.mutate(func(t tree) ([]string, error) {
		changed := make([]string, 0, len(changes))
		for _, ch := range changes {
			if ch.Change == types.ChangeDelete {
				delete(t, ch.Path)
			} else {
				t[ch.Path] = srcTree[ch.Path]
			}
			changed = append(changed, ch.Path)
		}
		return changed, nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}
