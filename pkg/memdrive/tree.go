package memdrive

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"drivegate/pkg/types"
)

// node is an immutable tree entry. Mutations replace nodes, never edit them,
// so snapshots can share them.
type node struct {
	stat types.Stat
	data []byte
}

// tree maps clean absolute paths to nodes. "/" is always a directory.
type tree map[string]*node

func newTree(now time.Time) tree {
	return tree{"/": {stat: types.Stat{Type: types.EntryDirectory, Mtime: now, Ctime: now}}}
}

func (t tree) clone() tree {
	out := make(tree, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

func (t tree) size() int64 {
	var n int64
	for _, nd := range t {
		if nd.stat.Type == types.EntryFile {
			n += nd.stat.Size
		}
	}
	return n
}

func clean(p string) string {
	return path.Clean("/" + p)
}

func pathError(op, p string, err error) error {
	return &fs.PathError{Op: op, Path: p, Err: err}
}

var (
	errIsDir    = fmt.Errorf("is a directory")
	errNotDir   = fmt.Errorf("not a directory")
	errNotEmpty = fmt.Errorf("directory not empty")
	errNotMount = fmt.Errorf("not a mount")
	errLoop     = fmt.Errorf("too many levels of symbolic links")
)

// parentDir requires the parent of p to be an existing directory.
func (t tree) parentDir(op, p string) error {
	if p == "/" {
		return pathError(op, p, fs.ErrExist)
	}
	parent, ok := t[path.Dir(p)]
	if !ok {
		return pathError(op, p, fs.ErrNotExist)
	}
	if parent.stat.Type != types.EntryDirectory {
		return pathError(op, p, errNotDir)
	}
	return nil
}

// children lists the paths below dir, immediate ones only unless recursive.
func (t tree) children(dir string, recursive bool) []string {
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	var out []string
	for p := range t {
		if p == dir || !strings.HasPrefix(p, prefix) {
			continue
		}
		rel := p[len(prefix):]
		if !recursive && strings.Contains(rel, "/") {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// mountAt returns the closest mount entry above or at p.
func (t tree) mountAt(p string) (string, *node, bool) {
	for cur := p; ; cur = path.Dir(cur) {
		if nd, ok := t[cur]; ok && nd.stat.Type == types.EntryMount {
			return cur, nd, true
		}
		if cur == "/" {
			return "", nil, false
		}
	}
}

// follow resolves symlinks in the final element of p.
func (t tree) follow(op, p string) (string, *node, error) {
	for hops := 0; hops < 8; hops++ {
		nd, ok := t[p]
		if !ok {
			return p, nil, pathError(op, p, fs.ErrNotExist)
		}
		if nd.stat.Type != types.EntrySymlink {
			return p, nd, nil
		}
		target := nd.stat.Linkname
		if !strings.HasPrefix(target, "/") {
			target = path.Join(path.Dir(p), target)
		}
		p = clean(target)
	}
	return p, nil, pathError(op, p, errLoop)
}

// copyTree copies src (file or directory subtree) to dst inside t.
func (t tree) copyTree(src, dst string, now time.Time) {
	rewrite := func(p string) string {
		return dst + strings.TrimPrefix(p, src)
	}
	if dst == "/" {
		rewrite = func(p string) string { return clean(strings.TrimPrefix(p, src)) }
	}
	for _, p := range append([]string{src}, t.children(src, true)...) {
		nd := t[p]
		cp := *nd
		cp.stat.Ctime = now
		cp.stat.Mtime = now
		t[rewrite(p)] = &cp
	}
}

// removeTree deletes p and everything beneath it.
func (t tree) removeTree(p string) {
	for _, c := range t.children(p, true) {
		delete(t, c)
	}
	delete(t, p)
}
