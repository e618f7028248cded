package cryptofs

import (
	"container/list"
	"sync"
	"time"

	"github.com/cryptofs/cryptofs/internal/seal"
)

// Storage is the id-keyed shape FileTable needs from the backing
// store: open the two backing streams for an id, or create them
// fresh, or remove them. Implemented by the adapter
// NewBlockstoreStorage returns, over internal/blockstore and
// github.com/absfs/absfs.
type Storage interface {
	OpenExisting(id ID) (data, meta seal.Backing, err error)
	Create(id ID) (data, meta seal.Backing, err error)
	Remove(id ID) error
}

// Inode is the common contract every typed inode (RegularFile,
// Directory, Symlink) satisfies via its embedded *FileBase, letting
// FileTable manage any of them uniformly as a tagged variant: Type()
// is the tag, and Operations performs the checked downcast to the
// concrete type.
type Inode interface {
	ID() ID
	Type() InodeType
	Flush() error
	Unlink()
	IsRemoved() bool
	Lock()
	Unlock()
}

type tableEntry struct {
	inode     Inode
	refcount  int
	idleSince time.Time
	idleElem  *list.Element
}

// FileTable is the process-wide cache: id → live inode with
// refcounts, OpenAs/CreateAs/Close, a bounded per-type idle queue, and
// lazy on-disk unlink, guarded by an explicit mutex rather than
// scope-exit guards.
type FileTable struct {
	mu      sync.Mutex
	entries map[ID]*tableEntry
	idle    map[InodeType]*list.List // idleElem.Value = ID

	storage   Storage
	engine    seal.Engine
	suite     seal.CipherSuite
	key       []byte
	chunkSize uint32

	idleCapacityPerType int
	readOnly            bool
}

// NewFileTable constructs an empty table bound to storage and the
// cryptographic parameters every inode it mints will share.
func NewFileTable(storage Storage, cfg *Config) (*FileTable, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	salt, err := cfg.KeyProvider.GenerateSalt()
	if err != nil {
		return nil, NewError(IO, "FileTable.init", err)
	}
	key, err := cfg.KeyProvider.DeriveKey(salt)
	if err != nil {
		return nil, NewError(IO, "FileTable.init", err)
	}
	engine, err := seal.NewEngine(cfg.Cipher, key)
	if err != nil {
		return nil, NewError(InvalidArgument, "FileTable.init", err)
	}
	return &FileTable{
		entries:             make(map[ID]*tableEntry),
		idle:                make(map[InodeType]*list.List),
		storage:             storage,
		engine:              engine,
		suite:               cfg.Cipher,
		key:                 key,
		chunkSize:           cfg.ChunkSize,
		idleCapacityPerType: cfg.IdleCapacityPerType,
		readOnly:            cfg.ReadOnly,
	}, nil
}

// IsReadOnly surfaces the mount-time read-only policy flag.
func (t *FileTable) IsReadOnly() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readOnly
}

func (t *FileTable) newFileBase(id ID, hdr header, data, meta seal.Backing) *FileBase {
	tweak, _ := seal.DeriveTweak(t.key, id)
	return newFileBase(id, hdr, data, meta, t.engine, t.suite, t.key, tweak, t.chunkSize)
}

func (t *FileTable) wrap(fb *FileBase) (Inode, error) {
	switch fb.hdr.Type {
	case RegularFileType:
		return openRegularFile(fb)
	case DirectoryType:
		return newDirectory(fb), nil
	case SymlinkType:
		return newSymlink(fb), nil
	default:
		return nil, NewError(Corrupted, "FileTable.open_as", nil).WithPath(fb.id.String())
	}
}

// OpenAs bumps refcount on an already cached instance, or loads it
// from storage. Fails INVALID_ARGUMENT on a cached type mismatch
// (corruption signal, since callers already verified the expected
// type via the parent directory) and NOT_FOUND if the backing streams
// are absent.
func (t *FileTable) OpenAs(id ID, typ InodeType) (Inode, error) {
	t.mu.Lock()
	if e, ok := t.entries[id]; ok {
		if e.inode.Type() != typ {
			t.mu.Unlock()
			return nil, NewError(InvalidArgument, "FileTable.open_as", nil).WithPath(id.String())
		}
		if e.refcount == 0 && e.idleElem != nil {
			t.idle[e.inode.Type()].Remove(e.idleElem)
			e.idleElem = nil
		}
		e.refcount++
		t.mu.Unlock()
		return e.inode, nil
	}
	t.mu.Unlock()

	data, meta, err := t.storage.OpenExisting(id)
	if err != nil {
		return nil, NewError(NotFound, "FileTable.open_as", err).WithPath(id.String())
	}
	fb := t.newFileBase(id, header{}, data, meta)
	hdr, err := readHeaderBlock(meta, t.engine)
	if err != nil {
		return nil, NewError(Corrupted, "FileTable.open_as", err).WithPath(id.String())
	}
	fb.hdr = *hdr
	if fb.hdr.Type != typ {
		return nil, NewError(InvalidArgument, "FileTable.open_as", nil).WithPath(id.String())
	}
	inode, err := t.wrap(fb)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok {
		// Lost the race with a concurrent opener; keep theirs.
		e.refcount++
		return e.inode, nil
	}
	t.entries[id] = &tableEntry{inode: inode, refcount: 1}
	return inode, nil
}

// CreateAs mints the two backing streams, constructs an inode with a
// fresh header, and inserts it with refcount 1. Fails EXISTS if the
// streams already exist.
func (t *FileTable) CreateAs(id ID, typ InodeType) (Inode, error) {
	data, meta, err := t.storage.Create(id)
	if err != nil {
		return nil, NewError(Exists, "FileTable.create_as", err).WithPath(id.String())
	}
	now := timespecNow()
	hdr := header{Type: typ, Nlink: 1, Atime: now, Mtime: now, Ctime: now, Birthtime: now}
	fb := t.newFileBase(id, hdr, data, meta)
	fb.dirty = true

	var inode Inode
	switch typ {
	case RegularFileType:
		inode, err = createRegularFile(fb)
	case DirectoryType:
		inode = newDirectory(fb)
	case SymlinkType:
		inode = newSymlink(fb)
	default:
		err = invalidArgf("FileTable.create_as", "unknown type %v", typ)
	}
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = &tableEntry{inode: inode, refcount: 1}
	return inode, nil
}

// Close decrements refcount; if it drops to zero and the removal flag
// is set, the backing streams are deleted immediately; otherwise the
// inode is flushed and enqueued in the per-type idle queue, evicting
// the oldest entry past idleCapacityPerType.
func (t *FileTable) Close(inode Inode) error {
	id := inode.ID()

	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	e.refcount--
	if e.refcount > 0 {
		t.mu.Unlock()
		return nil
	}

	removed := inode.IsRemoved()
	if removed {
		delete(t.entries, id)
		t.mu.Unlock()
		return t.storage.Remove(id)
	}
	t.mu.Unlock()

	if err := inode.Flush(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Re-check: another opener may have raced us between unlock/flush
	// and relock.
	e, ok = t.entries[id]
	if !ok || e.refcount > 0 {
		return nil
	}
	q, ok := t.idle[inode.Type()]
	if !ok {
		q = list.New()
		t.idle[inode.Type()] = q
	}
	e.idleSince = time.Now()
	e.idleElem = q.PushBack(id)

	for q.Len() > t.idleCapacityPerType {
		front := q.Front()
		q.Remove(front)
		evictID := front.Value.(ID)
		if victim, ok := t.entries[evictID]; ok && victim.refcount == 0 {
			delete(t.entries, evictID)
		}
	}
	return nil
}
