package fuse

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
)

// Statfs reports fixed figures; a drive has no meaningful free space.
func (d *Dir) Statfs(_ context.Context, out *fuse.StatfsOut) syscall.Errno {
	const blockSize = 4096

	out.Bsize = blockSize
	out.Frsize = blockSize
	out.NameLen = 255
	return 0
}
