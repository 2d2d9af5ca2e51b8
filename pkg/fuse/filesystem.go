// Package fuse exposes one drive as a read-only FUSE filesystem. All reads
// go through a gateway client, so the mount sees exactly what the
// connected origin is allowed to see.
package fuse

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"
	"syscall"
	"time"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"drivegate/pkg/errs"
	"drivegate/pkg/gateway"
	"drivegate/pkg/types"
)

// Source is the subset of the gateway client the filesystem reads through.
type Source interface {
	Stat(ctx context.Context, url string, opts gateway.StatOptions) (types.Stat, error)
	ReadFile(ctx context.Context, url string, opts gateway.ReadOptions) ([]byte, error)
	Readdir(ctx context.Context, url string, opts gateway.ReaddirOptions) ([]types.DirEntry, error)
}

// Options configures a mount.
type Options struct {
	// Version pins the mount to a historic version of the drive.
	Version *types.Version
	// CacheTTL bounds how long stat results are reused. Defaults to 5s.
	CacheTTL time.Duration
	Debug    bool
	Logger   *zap.Logger
}

const defaultCacheTTL = 5 * time.Second

// mount is shared by every node of one mounted drive.
type mount struct {
	src     Source
	base    string
	version *types.Version
	logger  *zap.Logger
	cache   *statCache
}

func newMount(src Source, driveURL string, opts Options) *mount {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if !strings.HasSuffix(driveURL, "/") {
		driveURL += "/"
	}
	return &mount{
		src:     src,
		base:    driveURL,
		version: opts.Version,
		logger:  opts.Logger,
		cache:   newStatCache(opts.CacheTTL, time.Now),
	}
}

func (m *mount) url(p string) string {
	return m.base + strings.TrimPrefix(p, "/")
}

func (m *mount) stat(ctx context.Context, p string) (types.Stat, error) {
	if st, ok := m.cache.get(p); ok {
		return st, nil
	}
	st, err := m.src.Stat(ctx, m.url(p), gateway.StatOptions{Version: m.version})
	if err != nil {
		return types.Stat{}, err
	}
	m.cache.put(p, st)
	return st, nil
}

// Mount serves the drive at driveURL on dir until the returned server is
// unmounted.
func Mount(dir string, src Source, driveURL string, opts Options) (*fuse.Server, error) {
	m := newMount(src, driveURL, opts)
	root := &Dir{mnt: m, path: "/"}

	ttl := time.Second
	server, err := gofs.Mount(dir, root, &gofs.Options{
		EntryTimeout: &ttl,
		AttrTimeout:  &ttl,
		MountOptions: fuse.MountOptions{
			FsName:  "drivegate",
			Name:    "hyper",
			Debug:   opts.Debug,
			Options: []string{"ro"},
		},
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("Mounted drive", zap.String("url", m.base), zap.String("dir", dir))
	return server, nil
}

// Dir is a directory node. Mount points read as directories.
type Dir struct {
	gofs.Inode
	mnt  *mount
	path string
}

var (
	_ gofs.NodeGetattrer = (*Dir)(nil)
	_ gofs.NodeLookuper  = (*Dir)(nil)
	_ gofs.NodeReaddirer = (*Dir)(nil)
	_ gofs.NodeStatfser  = (*Dir)(nil)
)

func (d *Dir) Getattr(ctx context.Context, _ gofs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	st, err := d.mnt.stat(ctx, d.path)
	if err != nil {
		d.mnt.logger.Debug("Stat failed", zap.String("path", d.path), zap.Error(err))
		return toErrno(err)
	}
	fillAttr(&out.Attr, st)
	return 0
}

func (d *Dir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	p := path.Join(d.path, name)
	st, err := d.mnt.stat(ctx, p)
	if err != nil {
		d.mnt.logger.Debug("Lookup failed", zap.String("path", p), zap.Error(err))
		return nil, toErrno(err)
	}
	fillAttr(&out.Attr, st)

	node := d.mnt.node(p, st)
	return d.NewInode(ctx, node, gofs.StableAttr{Mode: modeOf(st.Type)}), 0
}

func (d *Dir) Readdir(ctx context.Context) (gofs.DirStream, syscall.Errno) {
	entries, err := d.mnt.src.Readdir(ctx, d.mnt.url(d.path), gateway.ReaddirOptions{
		IncludeStats: true,
		Version:      d.mnt.version,
	})
	if err != nil {
		d.mnt.logger.Error("Failed to list directory", zap.String("path", d.path), zap.Error(err))
		return nil, toErrno(err)
	}

	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(syscall.S_IFREG)
		if e.Stat != nil {
			mode = modeOf(e.Stat.Type)
			d.mnt.cache.put(path.Join(d.path, e.Name), *e.Stat)
		}
		out = append(out, fuse.DirEntry{Name: e.Name, Mode: mode})
	}
	return gofs.NewListDirStream(out), 0
}

func (m *mount) node(p string, st types.Stat) gofs.InodeEmbedder {
	switch st.Type {
	case types.EntryDirectory, types.EntryMount:
		return &Dir{mnt: m, path: p}
	case types.EntrySymlink:
		return &Symlink{mnt: m, path: p, target: st.Linkname}
	}
	return &File{mnt: m, path: p}
}

func modeOf(t types.EntryType) uint32 {
	switch t {
	case types.EntryDirectory, types.EntryMount:
		return syscall.S_IFDIR
	case types.EntrySymlink:
		return syscall.S_IFLNK
	}
	return syscall.S_IFREG
}

func fillAttr(attr *fuse.Attr, st types.Stat) {
	mode := modeOf(st.Type)
	switch mode {
	case syscall.S_IFDIR:
		attr.Mode = mode | 0o555
		attr.Nlink = 2
	case syscall.S_IFLNK:
		attr.Mode = mode | 0o777
		attr.Nlink = 1
		attr.Size = uint64(len(st.Linkname))
	default:
		attr.Mode = mode | 0o444
		attr.Nlink = 1
		attr.Size = uint64(st.Size)
	}
	mtime, ctime := st.Mtime, st.Ctime
	attr.SetTimes(&mtime, &mtime, &ctime)
	attr.Uid = uint32(os.Getuid())
	attr.Gid = uint32(os.Getgid())
}

func toErrno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, fs.ErrNotExist):
		return syscall.ENOENT
	case errs.IsDenial(err):
		return syscall.EACCES
	case errs.Is(err, errs.CodeTimeout), errors.Is(err, context.DeadlineExceeded):
		return syscall.ETIMEDOUT
	case errs.Is(err, errs.CodeInvalidPath), errs.Is(err, errs.CodeInvalidURL):
		return syscall.EINVAL
	}
	return syscall.EIO
}

type cachedStat struct {
	stat types.Stat
	at   time.Time
}

// statCache remembers stat results by drive path for a short time.
type statCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cachedStat
}

func newStatCache(ttl time.Duration, now func() time.Time) *statCache {
	return &statCache{ttl: ttl, now: now, entries: make(map[string]cachedStat)}
}

func (c *statCache) get(p string) (types.Stat, bool) {
	c.mu.RLock()
	e, ok := c.entries[p]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.at) > c.ttl {
		return types.Stat{}, false
	}
	return e.stat, true
}

func (c *statCache) put(p string, st types.Stat) {
	c.mu.Lock()
	c.entries[p] = cachedStat{stat: st, at: c.now()}
	c.mu.Unlock()
}
