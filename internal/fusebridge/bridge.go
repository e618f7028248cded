// Package fusebridge adapts cryptofs.Operations onto a real mount
// point via github.com/hanwen/go-fuse/v2, using a single node type
// wired through gofuse.Inode (NewInode on lookup and create, a
// sliceDirStream for readdir) that dispatches by path into
// cryptofs.Operations rather than a per-artifact-kind tree, since
// every path in this filesystem resolves through the same
// PathResolver regardless of what it names.
package fusebridge

import (
	"context"
	"path"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cryptofs/cryptofs"
	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"
)

// Options configures the mount.
type Options struct {
	Mountpoint string
	Ops        *cryptofs.Operations
	AllowOther bool
	Log        *logrus.Entry
}

// Mount mounts the filesystem at options.Mountpoint. The caller must
// call Unmount on the returned server when done.
func Mount(options Options) (*fuse.Server, error) {
	root := &node{ops: options.Ops, path: "/", log: options.Log}

	entryTimeout := time.Second
	attrTimeout := time.Second

	return gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout: &entryTimeout,
		AttrTimeout:  &attrTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "cryptofs",
			Name:       "cryptofs",
			AllowOther: options.AllowOther,
		},
	})
}

// node is the single gofuse.InodeEmbedder this bridge uses for every
// file, directory, and symlink; it carries only the path it was
// looked up at and reaches every real operation through ops.
type node struct {
	gofuse.Inode
	ops  *cryptofs.Operations
	path string
	log  *logrus.Entry
}

var (
	_ gofuse.InodeEmbedder  = (*node)(nil)
	_ gofuse.NodeLookuper   = (*node)(nil)
	_ gofuse.NodeGetattrer  = (*node)(nil)
	_ gofuse.NodeSetattrer  = (*node)(nil)
	_ gofuse.NodeOpener     = (*node)(nil)
	_ gofuse.NodeCreater    = (*node)(nil)
	_ gofuse.NodeMkdirer    = (*node)(nil)
	_ gofuse.NodeUnlinker   = (*node)(nil)
	_ gofuse.NodeRmdirer    = (*node)(nil)
	_ gofuse.NodeReaddirer  = (*node)(nil)
	_ gofuse.NodeReader     = (*node)(nil)
	_ gofuse.NodeWriter     = (*node)(nil)
	_ gofuse.NodeFlusher    = (*node)(nil)
	_ gofuse.NodeReleaser   = (*node)(nil)
	_ gofuse.NodeSymlinker  = (*node)(nil)
	_ gofuse.NodeReadlinker = (*node)(nil)
)

func (n *node) childPath(name string) string {
	return path.Join(n.path, name)
}

// callerContext would normally carry the requesting uid/gid through to
// Create/Mkdir/Symlink, but none of the node interfaces this bridge
// implements surface the raw fuse.InHeader that holds them, so new
// inodes are minted with the zero Context and ownership defaults to
// root; a production mount would need a lower-level raw FUSE server
// to thread that through.
func callerContext(ctx context.Context) cryptofs.Context {
	return cryptofs.Context{}
}

func fillAttr(out *fuse.Attr, st cryptofs.Stat) {
	out.Mode = st.Mode
	out.Uid = st.UID
	out.Gid = st.GID
	out.Nlink = st.Nlink
	out.Size = uint64(st.Size)
	out.Atime = uint64(st.Atime.Sec)
	out.Atimensec = uint32(st.Atime.Nsec)
	out.Mtime = uint64(st.Mtime.Sec)
	out.Mtimensec = uint32(st.Mtime.Nsec)
	out.Ctime = uint64(st.Ctime.Sec)
	out.Ctimensec = uint32(st.Ctime.Nsec)
}

// stMode derives the syscall S_IFxxx bits go-fuse's StableAttr wants
// from the header type, mirroring cryptofs.modeForType for the part
// of the bridge that builds Inode entries rather than DirEntry rows.
func stMode(typ cryptofs.InodeType) uint32 {
	switch typ {
	case cryptofs.DirectoryType:
		return syscall.S_IFDIR
	case cryptofs.SymlinkType:
		return syscall.S_IFLNK
	default:
		return syscall.S_IFREG
	}
}

// toErrno translates a cryptofs error into the syscall.Errno go-fuse
// wants back from a node method, logging the way
// cryptofs.ToErrno does at the process boundary but returning the
// positive kernel-facing form instead of a negative libc one.
func toErrno(log *logrus.Entry, op string, err error) syscall.Errno {
	if err == nil {
		return 0
	}
	switch cryptofs.KindOf(err) {
	case cryptofs.NotFound:
		return syscall.ENOENT
	case cryptofs.Exists:
		return syscall.EEXIST
	case cryptofs.NotADirectory:
		return syscall.ENOTDIR
	case cryptofs.NotPermitted:
		return syscall.EACCES
	case cryptofs.InvalidArgument:
		return syscall.EINVAL
	case cryptofs.BadFD:
		return syscall.EBADF
	case cryptofs.ReadOnly:
		return syscall.EROFS
	case cryptofs.NotEmpty:
		return syscall.ENOTEMPTY
	case cryptofs.IO, cryptofs.Corrupted:
		if log != nil {
			log.WithField("op", op).WithError(err).Warn("io error")
		}
		return syscall.EIO
	default:
		if log != nil {
			log.WithField("op", op).WithError(err).Error("unexpected error")
		}
		return syscall.EACCES
	}
}

func (n *node) child(name string, typ cryptofs.InodeType) *node {
	return &node{ops: n.ops, path: n.childPath(name), log: n.log}
}

// Lookup implements gofuse.NodeLookuper by Getattr-ing the candidate
// path: a miss surfaces NOT_FOUND, which maps straight to ENOENT.
func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	childPath := n.childPath(name)
	st, err := n.ops.Getattr(childPath)
	if err != nil {
		return nil, toErrno(n.log, "lookup", err)
	}
	fillAttr(&out.Attr, st)
	child := n.child(name, st.Type)
	inode := n.NewInode(ctx, child, gofuse.StableAttr{Mode: stMode(st.Type)})
	return inode, 0
}

func (n *node) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	st, err := n.ops.Getattr(n.path)
	if err != nil {
		return toErrno(n.log, "getattr", err)
	}
	fillAttr(&out.Attr, st)
	return 0
}

func (n *node) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if in.Valid&fuse.FATTR_MODE != 0 {
		if err := n.ops.Chmod(n.path, in.Mode); err != nil {
			return toErrno(n.log, "setattr.chmod", err)
		}
	}
	if in.Valid&(fuse.FATTR_UID|fuse.FATTR_GID) != 0 {
		st, err := n.ops.Getattr(n.path)
		if err != nil {
			return toErrno(n.log, "setattr.chown", err)
		}
		uid, gid := st.UID, st.GID
		if in.Valid&fuse.FATTR_UID != 0 {
			uid = in.Uid
		}
		if in.Valid&fuse.FATTR_GID != 0 {
			gid = in.Gid
		}
		if err := n.ops.Chown(n.path, uid, gid); err != nil {
			return toErrno(n.log, "setattr.chown", err)
		}
	}
	if in.Valid&fuse.FATTR_SIZE != 0 {
		if err := n.ops.Truncate(n.path, int64(in.Size)); err != nil {
			return toErrno(n.log, "setattr.truncate", err)
		}
	}
	st, err := n.ops.Getattr(n.path)
	if err != nil {
		return toErrno(n.log, "setattr", err)
	}
	fillAttr(&out.Attr, st)
	return 0
}

// fileHandle carries the uint64 token cryptofs.Operations.Open /
// Opendir hand back, so Read/Write/Flush/Release don't need to
// re-resolve the path on every call.
type fileHandle struct {
	token  uint64
	closed int32
}

func (n *node) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	token, err := n.ops.Open(n.path, int(flags))
	if err != nil {
		return nil, 0, toErrno(n.log, "open", err)
	}
	return &fileHandle{token: token}, 0, 0
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	childPath := n.childPath(name)
	token, err := n.ops.Create(callerContext(ctx), childPath, mode)
	if err != nil {
		return nil, nil, 0, toErrno(n.log, "create", err)
	}
	st, err := n.ops.Getattr(childPath)
	if err != nil {
		return nil, nil, 0, toErrno(n.log, "create.getattr", err)
	}
	fillAttr(&out.Attr, st)
	child := n.child(name, cryptofs.RegularFileType)
	inode := n.NewInode(ctx, child, gofuse.StableAttr{Mode: stMode(cryptofs.RegularFileType)})
	return inode, &fileHandle{token: token}, 0, 0
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	childPath := n.childPath(name)
	if err := n.ops.Mkdir(callerContext(ctx), childPath, mode); err != nil {
		return nil, toErrno(n.log, "mkdir", err)
	}
	st, err := n.ops.Getattr(childPath)
	if err != nil {
		return nil, toErrno(n.log, "mkdir.getattr", err)
	}
	fillAttr(&out.Attr, st)
	child := n.child(name, cryptofs.DirectoryType)
	inode := n.NewInode(ctx, child, gofuse.StableAttr{Mode: stMode(cryptofs.DirectoryType)})
	return inode, 0
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.log, "unlink", n.ops.Unlink(n.childPath(name)))
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.log, "rmdir", n.ops.Rmdir(n.childPath(name)))
}

func (n *node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	childPath := n.childPath(name)
	if err := n.ops.Symlink(callerContext(ctx), target, childPath); err != nil {
		return nil, toErrno(n.log, "symlink", err)
	}
	st, err := n.ops.Getattr(childPath)
	if err != nil {
		return nil, toErrno(n.log, "symlink.getattr", err)
	}
	fillAttr(&out.Attr, st)
	child := n.child(name, cryptofs.SymlinkType)
	inode := n.NewInode(ctx, child, gofuse.StableAttr{Mode: stMode(cryptofs.SymlinkType)})
	return inode, 0
}

func (n *node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	buf := make([]byte, 4096)
	written, err := n.ops.Readlink(n.path, buf)
	if err != nil {
		return nil, toErrno(n.log, "readlink", err)
	}
	return buf[:written], 0
}

func (n *node) Opendir(ctx context.Context) syscall.Errno {
	token, err := n.ops.Opendir(n.path)
	if err != nil {
		return toErrno(n.log, "opendir", err)
	}
	// go-fuse's Opendir contract only validates access; the directory
	// stream itself is rebuilt per Readdir call below, so release the
	// token immediately rather than stash it on the node.
	return toErrno(n.log, "opendir", n.ops.Releasedir(token))
}

func (n *node) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	token, err := n.ops.Opendir(n.path)
	if err != nil {
		return nil, toErrno(n.log, "readdir", err)
	}
	defer n.ops.Releasedir(token)

	entries, err := n.ops.Readdir(token)
	if err != nil {
		return nil, toErrno(n.log, "readdir", err)
	}
	fuseEntries := make([]fuse.DirEntry, 0, len(entries)+2)
	fuseEntries = append(fuseEntries, fuse.DirEntry{Name: ".", Mode: syscall.S_IFDIR})
	fuseEntries = append(fuseEntries, fuse.DirEntry{Name: "..", Mode: syscall.S_IFDIR})
	for _, e := range entries {
		fuseEntries = append(fuseEntries, fuse.DirEntry{Name: e.Name, Mode: e.Mode})
	}
	return &sliceDirStream{entries: fuseEntries}, 0
}

func (n *node) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	fh, ok := f.(*fileHandle)
	if !ok {
		return nil, syscall.EBADF
	}
	read, err := n.ops.Read(fh.token, dest, off)
	if err != nil {
		return nil, toErrno(n.log, "read", err)
	}
	return fuse.ReadResultData(dest[:read]), 0
}

func (n *node) Write(ctx context.Context, f gofuse.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	fh, ok := f.(*fileHandle)
	if !ok {
		return 0, syscall.EBADF
	}
	written, err := n.ops.Write(fh.token, data, off)
	if err != nil {
		return 0, toErrno(n.log, "write", err)
	}
	return uint32(written), 0
}

func (n *node) Flush(ctx context.Context, f gofuse.FileHandle) syscall.Errno {
	fh, ok := f.(*fileHandle)
	if !ok {
		return syscall.EBADF
	}
	return toErrno(n.log, "flush", n.ops.Flush(fh.token))
}

func (n *node) Release(ctx context.Context, f gofuse.FileHandle) syscall.Errno {
	fh, ok := f.(*fileHandle)
	if !ok {
		return syscall.EBADF
	}
	if !atomic.CompareAndSwapInt32(&fh.closed, 0, 1) {
		return 0
	}
	return toErrno(n.log, "release", n.ops.Release(fh.token))
}

// sliceDirStream implements gofuse.DirStream over a precomputed slice;
// a fixed-snapshot directory stream needs nothing domain-specific.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
