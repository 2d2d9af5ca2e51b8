package fuse

import (
	"context"
	"syscall"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"drivegate/pkg/gateway"
)

// File is a regular file node. Its content is fetched once per open.
type File struct {
	gofs.Inode
	mnt  *mount
	path string
}

var (
	_ gofs.NodeGetattrer = (*File)(nil)
	_ gofs.NodeOpener    = (*File)(nil)
	_ gofs.NodeReader    = (*File)(nil)
)

type fileHandle struct {
	data []byte
}

func (f *File) Getattr(ctx context.Context, _ gofs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	st, err := f.mnt.stat(ctx, f.path)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(&out.Attr, st)
	return 0
}

func (f *File) Open(ctx context.Context, flags uint32) (gofs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC|syscall.O_APPEND) != 0 {
		return nil, 0, syscall.EROFS
	}
	data, err := f.mnt.src.ReadFile(ctx, f.mnt.url(f.path), gateway.ReadOptions{
		Encoding: gateway.EncodingBinary,
		Version:  f.mnt.version,
	})
	if err != nil {
		f.mnt.logger.Error("Failed to read file", zap.String("path", f.path), zap.Error(err))
		return nil, 0, toErrno(err)
	}
	return &fileHandle{data: data}, fuse.FOPEN_KEEP_CACHE, 0
}

func (f *File) Read(_ context.Context, fh gofs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h, ok := fh.(*fileHandle)
	if !ok {
		return nil, syscall.EBADF
	}
	if off >= int64(len(h.data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(h.data)) {
		end = int64(len(h.data))
	}
	return fuse.ReadResultData(h.data[off:end]), 0
}

// Symlink is a symbolic link node.
type Symlink struct {
	gofs.Inode
	mnt    *mount
	path   string
	target string
}

var (
	_ gofs.NodeGetattrer  = (*Symlink)(nil)
	_ gofs.NodeReadlinker = (*Symlink)(nil)
)

func (s *Symlink) Getattr(ctx context.Context, _ gofs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	st, err := s.mnt.stat(ctx, s.path)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(&out.Attr, st)
	return 0
}

func (s *Symlink) Readlink(context.Context) ([]byte, syscall.Errno) {
	return []byte(s.target), 0
}
