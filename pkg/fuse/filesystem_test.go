package fuse

import (
	"context"
	"fmt"
	"io/fs"
	"syscall"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivegate/pkg/errs"
	"drivegate/pkg/gateway"
	"drivegate/pkg/types"
)

const driveURL = "hyper://0101010101010101010101010101010101010101010101010101010101010101/"

type fakeSource struct {
	files map[string]types.Stat
	data  map[string][]byte
	stats int
	reads []gateway.ReadOptions
}

func newFakeSource() *fakeSource {
	mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return &fakeSource{
		files: map[string]types.Stat{
			driveURL:                {Type: types.EntryDirectory, Mtime: mtime, Ctime: mtime},
			driveURL + "readme.md":  {Type: types.EntryFile, Size: 11, Mtime: mtime, Ctime: mtime},
			driveURL + "docs":       {Type: types.EntryDirectory, Mtime: mtime, Ctime: mtime},
			driveURL + "latest":     {Type: types.EntrySymlink, Linkname: "/readme.md"},
			driveURL + "vendor/lib": {Type: types.EntryMount},
		},
		data: map[string][]byte{
			driveURL + "readme.md": []byte("hello world"),
		},
	}
}

func (f *fakeSource) Stat(_ context.Context, url string, _ gateway.StatOptions) (types.Stat, error) {
	f.stats++
	st, ok := f.files[url]
	if !ok {
		return types.Stat{}, fmt.Errorf("stat %s: %w", url, fs.ErrNotExist)
	}
	return st, nil
}

func (f *fakeSource) ReadFile(_ context.Context, url string, opts gateway.ReadOptions) ([]byte, error) {
	f.reads = append(f.reads, opts)
	data, ok := f.data[url]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", url, fs.ErrNotExist)
	}
	return data, nil
}

func (f *fakeSource) Readdir(_ context.Context, url string, _ gateway.ReaddirOptions) ([]types.DirEntry, error) {
	if url != driveURL {
		return nil, errs.UserDenied("no")
	}
	readme := f.files[driveURL+"readme.md"]
	docs := f.files[driveURL+"docs"]
	return []types.DirEntry{
		{Name: "docs", Stat: &docs},
		{Name: "readme.md", Stat: &readme},
	}, nil
}

func TestDirGetattr(t *testing.T) {
	src := newFakeSource()
	root := &Dir{mnt: newMount(src, driveURL, Options{}), path: "/"}

	var out fuse.AttrOut
	require.Equal(t, syscall.Errno(0), root.Getattr(context.Background(), nil, &out))
	assert.Equal(t, uint32(syscall.S_IFDIR|0o555), out.Mode)
	assert.Equal(t, uint64(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).Unix()), out.Mtime)

	missing := &Dir{mnt: root.mnt, path: "/nope"}
	assert.Equal(t, syscall.ENOENT, missing.Getattr(context.Background(), nil, &out))
}

func TestReaddirFillsCache(t *testing.T) {
	src := newFakeSource()
	root := &Dir{mnt: newMount(src, driveURL, Options{}), path: "/"}

	stream, errno := root.Readdir(context.Background())
	require.Equal(t, syscall.Errno(0), errno)

	var names []string
	for stream.HasNext() {
		e, errno := stream.Next()
		require.Equal(t, syscall.Errno(0), errno)
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"docs", "readme.md"}, names)

	before := src.stats
	file := &File{mnt: root.mnt, path: "/readme.md"}
	var out fuse.AttrOut
	require.Equal(t, syscall.Errno(0), file.Getattr(context.Background(), nil, &out))
	assert.Equal(t, uint64(11), out.Size)
	assert.Equal(t, before, src.stats)

	denied := &Dir{mnt: root.mnt, path: "/docs"}
	_, errno = denied.Readdir(context.Background())
	assert.Equal(t, syscall.EACCES, errno)
}

func TestFileRead(t *testing.T) {
	src := newFakeSource()
	v := types.Version(3)
	file := &File{mnt: newMount(src, driveURL, Options{Version: &v}), path: "/readme.md"}
	ctx := context.Background()

	_, _, errno := file.Open(ctx, syscall.O_RDWR)
	assert.Equal(t, syscall.EROFS, errno)

	fh, _, errno := file.Open(ctx, syscall.O_RDONLY)
	require.Equal(t, syscall.Errno(0), errno)
	require.Len(t, src.reads, 1)
	assert.Equal(t, gateway.EncodingBinary, src.reads[0].Encoding)
	assert.Equal(t, &v, src.reads[0].Version)

	tests := []struct {
		name string
		off  int64
		size int
		want string
	}{
		{"Start", 0, 5, "hello"},
		{"Middle", 6, 100, "world"},
		{"PastEnd", 20, 4, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, errno := file.Read(ctx, fh, make([]byte, tt.size), tt.off)
			require.Equal(t, syscall.Errno(0), errno)
			data, status := res.Bytes(make([]byte, tt.size))
			require.Equal(t, fuse.OK, status)
			assert.Equal(t, tt.want, string(data))
		})
	}

	gone := &File{mnt: file.mnt, path: "/gone.txt"}
	_, _, errno = gone.Open(ctx, syscall.O_RDONLY)
	assert.Equal(t, syscall.ENOENT, errno)
}

func TestSymlinkAndMountNodes(t *testing.T) {
	src := newFakeSource()
	m := newMount(src, driveURL, Options{})

	link, ok := m.node("/latest", src.files[driveURL+"latest"]).(*Symlink)
	require.True(t, ok)
	target, errno := link.Readlink(context.Background())
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, "/readme.md", string(target))

	var out fuse.AttrOut
	require.Equal(t, syscall.Errno(0), link.Getattr(context.Background(), nil, &out))
	assert.Equal(t, uint32(syscall.S_IFLNK|0o777), out.Mode)
	assert.Equal(t, uint64(len("/readme.md")), out.Size)

	_, ok = m.node("/vendor/lib", src.files[driveURL+"vendor/lib"]).(*Dir)
	assert.True(t, ok)
}

func TestStatCacheExpires(t *testing.T) {
	now := time.Unix(100, 0)
	c := newStatCache(time.Second, func() time.Time { return now })

	c.put("/a", types.Stat{Size: 1})
	st, ok := c.get("/a")
	require.True(t, ok)
	assert.Equal(t, int64(1), st.Size)

	now = now.Add(2 * time.Second)
	_, ok = c.get("/a")
	assert.False(t, ok)
}

func TestToErrno(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want syscall.Errno
	}{
		{"Nil", nil, 0},
		{"NotExist", fmt.Errorf("x: %w", fs.ErrNotExist), syscall.ENOENT},
		{"Denied", errs.UserDenied("no"), syscall.EACCES},
		{"Protected", errs.ProtectedFileNotWritable("/index.json"), syscall.EACCES},
		{"Timeout", errs.Timeout("slow"), syscall.ETIMEDOUT},
		{"InvalidPath", errs.InvalidPath("bad"), syscall.EINVAL},
		{"Other", assert.AnError, syscall.EIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toErrno(tt.err))
		})
	}
}

func TestURLJoin(t *testing.T) {
	m := newMount(newFakeSource(), "hyper://abc", Options{})
	assert.Equal(t, "hyper://abc/", m.url("/"))
	assert.Equal(t, "hyper://abc/docs/a.md", m.url("/docs/a.md"))
}
