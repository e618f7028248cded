package cryptofs

import (
	"os"

	"github.com/sirupsen/logrus"
)

// DirEntry is what readdir emits for one directory entry: a name plus
// the POSIX mode bits derived from InodeType.
type DirEntry struct {
	Name string
	Mode uint32
}

func modeForType(typ InodeType) uint32 {
	switch typ {
	case DirectoryType:
		return 0o40000
	case SymlinkType:
		return 0o120000
	default:
		return 0o100000
	}
}

// Context carries the caller identity every mutating operation needs
// for ownership, the way a FUSE callback's request context does.
type Context struct {
	UID uint32
	GID uint32
}

// Operations is the public filesystem surface: it composes
// PathResolver + FileTable + inode methods, one method per POSIX verb
// dispatching into the lower layers. Failures are returned as typed
// *Error values; converting them to an errno and logging them is left
// to the caller (see errors.go's ToErrno). log is used only to report
// a failed close of a released inode.
type Operations struct {
	table    *FileTable
	resolver *PathResolver
	handles  *HandleTable
	log      *logrus.Entry
}

// NewOperations wires a FileTable/PathResolver pair into the public
// surface. log may be nil to disable logging.
func NewOperations(table *FileTable, rootID ID, log *logrus.Entry) *Operations {
	return &Operations{
		table:    table,
		resolver: NewPathResolver(table, rootID),
		handles:  NewHandleTable(),
		log:      log,
	}
}

func (o *Operations) release(inode Inode) {
	if err := o.table.Close(inode); err != nil && o.log != nil {
		o.log.WithField("id", inode.ID().String()).WithError(err).Warn("close failed")
	}
}

// Getattr implements getattr.
func (o *Operations) Getattr(path string) (Stat, error) {
	inode, err := o.resolver.OpenAll(path)
	if err != nil {
		return Stat{}, err
	}
	defer o.release(inode)
	fb, ok := asFileBase(inode)
	if !ok {
		return Stat{}, NewError(Unexpected, "Operations.getattr", nil)
	}
	fb.Lock()
	st := fb.statLocked()
	fb.mu.Unlock()
	if err := inode.Flush(); err != nil {
		return Stat{}, err
	}
	return st, nil
}

// Opendir implements opendir: require DIRECTORY, mint a
// token.
func (o *Operations) Opendir(path string) (uint64, error) {
	inode, err := o.resolver.OpenAll(path)
	if err != nil {
		return 0, err
	}
	if inode.Type() != DirectoryType {
		o.release(inode)
		return 0, NewError(NotADirectory, "Operations.opendir", nil).WithPath(path)
	}
	return o.handles.Mint(inode), nil
}

// Readdir implements readdir.
func (o *Operations) Readdir(token uint64) ([]DirEntry, error) {
	inode, err := o.handles.Lookup(token)
	if err != nil {
		return nil, err
	}
	dir, ok := inode.(*Directory)
	if !ok {
		return nil, NewError(NotADirectory, "Operations.readdir", nil)
	}
	dir.Lock()
	defer dir.Unlock()
	var out []DirEntry
	err = dir.IterateOverEntries(func(name string, id ID, typ InodeType) bool {
		out = append(out, DirEntry{Name: name, Mode: modeForType(typ)})
		return true
	})
	return out, err
}

// Releasedir implements releasedir.
func (o *Operations) Releasedir(token uint64) error {
	return o.Release(token)
}

// Create implements create.
func (o *Operations) Create(ctx Context, path string, mode uint32) (uint64, error) {
	if o.table.IsReadOnly() {
		return 0, NewError(ReadOnly, "Operations.create", nil).WithPath(path)
	}
	inode, err := o.resolver.Create(path, RegularFileType)
	if err != nil {
		return 0, err
	}
	fb, _ := asFileBase(inode)
	fb.Lock()
	fb.hdr.UID = ctx.UID
	fb.hdr.GID = ctx.GID
	fb.hdr.Nlink = 1
	fb.hdr.Mode = (mode & 0o777) | 0o100000
	fb.dirty = true
	fb.mu.Unlock()
	if err := inode.Flush(); err != nil {
		o.release(inode)
		return 0, err
	}
	return o.handles.Mint(inode), nil
}

// Open implements open.
func (o *Operations) Open(path string, flags int) (uint64, error) {
	writeIntent := flags&(os.O_WRONLY|os.O_RDWR) != 0
	if writeIntent && o.table.IsReadOnly() {
		return 0, NewError(ReadOnly, "Operations.open", nil).WithPath(path)
	}
	inode, err := o.resolver.OpenAll(path)
	if err != nil {
		return 0, err
	}
	rf, ok := inode.(*RegularFile)
	if !ok {
		o.release(inode)
		return 0, NewError(NotPermitted, "Operations.open", nil).WithPath(path)
	}
	if flags&os.O_TRUNC != 0 {
		rf.Lock()
		err := rf.Truncate(0)
		rf.Unlock()
		if err != nil {
			o.release(inode)
			return 0, err
		}
	}
	return o.handles.Mint(inode), nil
}

// Release implements release: flush then return to the
// table.
func (o *Operations) Release(token uint64) error {
	inode, err := o.handles.Release(token)
	if err != nil {
		return err
	}
	flushErr := inode.Flush()
	closeErr := o.table.Close(inode)
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Read implements read.
func (o *Operations) Read(token uint64, buf []byte, off int64) (int, error) {
	inode, err := o.handles.Lookup(token)
	if err != nil {
		return 0, err
	}
	rf, ok := inode.(*RegularFile)
	if !ok {
		return 0, NewError(NotPermitted, "Operations.read", nil)
	}
	rf.Lock()
	defer rf.Unlock()
	return rf.Read(buf, off)
}

// Write implements write.
func (o *Operations) Write(token uint64, buf []byte, off int64) (int, error) {
	inode, err := o.handles.Lookup(token)
	if err != nil {
		return 0, err
	}
	rf, ok := inode.(*RegularFile)
	if !ok {
		return 0, NewError(NotPermitted, "Operations.write", nil)
	}
	rf.Lock()
	defer rf.Unlock()
	return rf.Write(buf, off)
}

// Flush implements flush.
func (o *Operations) Flush(token uint64) error {
	inode, err := o.handles.Lookup(token)
	if err != nil {
		return err
	}
	rf, ok := inode.(*RegularFile)
	if !ok {
		return NewError(NotPermitted, "Operations.flush", nil)
	}
	return rf.Flush()
}

// Truncate implements truncate (by path).
func (o *Operations) Truncate(path string, size int64) error {
	inode, err := o.resolver.OpenAll(path)
	if err != nil {
		return err
	}
	defer o.release(inode)
	rf, ok := inode.(*RegularFile)
	if !ok {
		return NewError(NotPermitted, "Operations.truncate", nil).WithPath(path)
	}
	rf.Lock()
	err = rf.Truncate(size)
	rf.Unlock()
	if err != nil {
		return err
	}
	return rf.Flush()
}

// Ftruncate implements ftruncate (by token).
func (o *Operations) Ftruncate(token uint64, size int64) error {
	inode, err := o.handles.Lookup(token)
	if err != nil {
		return err
	}
	rf, ok := inode.(*RegularFile)
	if !ok {
		return NewError(NotPermitted, "Operations.ftruncate", nil)
	}
	rf.Lock()
	err = rf.Truncate(size)
	rf.Unlock()
	if err != nil {
		return err
	}
	return rf.Flush()
}

// Unlink implements unlink.
func (o *Operations) Unlink(path string) error {
	if o.table.IsReadOnly() {
		return NewError(ReadOnly, "Operations.unlink", nil).WithPath(path)
	}
	return o.resolver.Remove(path)
}

// Mkdir implements mkdir.
func (o *Operations) Mkdir(ctx Context, path string, mode uint32) error {
	if o.table.IsReadOnly() {
		return NewError(ReadOnly, "Operations.mkdir", nil).WithPath(path)
	}
	inode, err := o.resolver.Create(path, DirectoryType)
	if err != nil {
		return err
	}
	fb, _ := asFileBase(inode)
	fb.Lock()
	fb.hdr.UID = ctx.UID
	fb.hdr.GID = ctx.GID
	fb.hdr.Nlink = 1
	fb.hdr.Mode = (mode & 0o777) | 0o40000
	fb.dirty = true
	fb.mu.Unlock()
	err = inode.Flush()
	o.release(inode)
	return err
}

// Rmdir implements rmdir, rejecting non-empty directories with
// NotEmpty rather than orphaning their entries.
func (o *Operations) Rmdir(path string) error {
	if o.table.IsReadOnly() {
		return NewError(ReadOnly, "Operations.rmdir", nil).WithPath(path)
	}
	inode, err := o.resolver.OpenAll(path)
	if err != nil {
		return err
	}
	dir, ok := inode.(*Directory)
	if !ok {
		o.release(inode)
		return NewError(NotADirectory, "Operations.rmdir", nil).WithPath(path)
	}
	dir.Lock()
	empty, err := dir.IsEmpty()
	dir.Unlock()
	o.release(inode)
	if err != nil {
		return err
	}
	if !empty {
		return NewError(NotEmpty, "Operations.rmdir", nil).WithPath(path)
	}
	return o.resolver.Remove(path)
}

// Chmod implements chmod.
func (o *Operations) Chmod(path string, mode uint32) error {
	inode, err := o.resolver.OpenAll(path)
	if err != nil {
		return err
	}
	defer o.release(inode)
	fb, _ := asFileBase(inode)
	fb.SetMode(mode)
	return inode.Flush()
}

// Chown implements chown.
func (o *Operations) Chown(path string, uid, gid uint32) error {
	inode, err := o.resolver.OpenAll(path)
	if err != nil {
		return err
	}
	defer o.release(inode)
	fb, _ := asFileBase(inode)
	fb.SetOwner(uid, gid)
	return inode.Flush()
}

// Symlink implements symlink.
func (o *Operations) Symlink(ctx Context, target, linkPath string) error {
	if o.table.IsReadOnly() {
		return NewError(ReadOnly, "Operations.symlink", nil).WithPath(linkPath)
	}
	inode, err := o.resolver.Create(linkPath, SymlinkType)
	if err != nil {
		return err
	}
	sl, _ := inode.(*Symlink)
	fb, _ := asFileBase(inode)
	fb.Lock()
	fb.hdr.UID = ctx.UID
	fb.hdr.GID = ctx.GID
	fb.hdr.Nlink = 1
	fb.hdr.Mode = 0o120000 | 0o755
	fb.dirty = true
	fb.mu.Unlock()
	if err := sl.Set(target); err != nil {
		o.release(inode)
		return err
	}
	err = inode.Flush()
	o.release(inode)
	return err
}

// Readlink implements readlink: copies
// min(len(target), size-1) bytes into buf and zero-terminates.
func (o *Operations) Readlink(path string, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, NewError(InvalidArgument, "Operations.readlink", nil).WithPath(path)
	}
	inode, err := o.resolver.OpenAll(path)
	if err != nil {
		return 0, err
	}
	defer o.release(inode)
	sl, ok := inode.(*Symlink)
	if !ok {
		return 0, NewError(NotPermitted, "Operations.readlink", nil).WithPath(path)
	}
	target, err := sl.Get()
	if err != nil {
		return 0, err
	}
	n := len(target)
	if n > len(buf)-1 {
		n = len(buf) - 1
	}
	copy(buf, target[:n])
	buf[n] = 0
	return n, nil
}

// asFileBase performs the checked downcast to *FileBase for operations
// that only need header access and don't care about the concrete
// payload type.
func asFileBase(inode Inode) (*FileBase, bool) {
	switch v := inode.(type) {
	case *RegularFile:
		return v.FileBase, true
	case *Directory:
		return v.FileBase, true
	case *Symlink:
		return v.FileBase, true
	default:
		return nil, false
	}
}
