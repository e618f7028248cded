package cryptofs

import (
	"fmt"
	"sync"

	"github.com/cryptofs/cryptofs/internal/seal"
)

// FileBase is the abstract inode contract: header accessors, flush,
// unlink, and a per-inode lock every operation acquires, generalized
// to cover any inode type rather than only regular files, with the
// lock embedded directly on the inode struct.
type FileBase struct {
	mu sync.Mutex

	id      ID
	hdr     header
	dirty   bool
	removed bool

	dataBacking seal.Backing
	metaBacking seal.Backing
	engine      seal.Engine
	suite       seal.CipherSuite
	key         []byte
	tweak       []byte
	chunkSize   uint32
}

func newFileBase(id ID, hdr header, data, meta seal.Backing, engine seal.Engine, suite seal.CipherSuite, key, tweak []byte, chunkSize uint32) *FileBase {
	return &FileBase{
		id: id, hdr: hdr, dataBacking: data, metaBacking: meta, engine: engine,
		suite: suite, key: key, tweak: tweak, chunkSize: chunkSize,
	}
}

// payloadMeta returns the meta backing stream with the header region
// sliced off, the region RegularFile's chunk index lives in.
func (f *FileBase) payloadMeta() seal.Backing {
	return &offsetBacking{Backing: f.metaBacking, base: headerRegionSize}
}

func (f *FileBase) sealParams() seal.Params {
	return seal.Params{Suite: f.suite, Key: f.key, Tweak: f.tweak, ChunkSize: f.chunkSize}
}

// ID returns the inode's stable identifier.
func (f *FileBase) ID() ID { return f.id }

// Type is constant after construction.
func (f *FileBase) Type() InodeType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hdr.Type
}

// Lock/Unlock expose the per-inode lock to PathResolver/Operations,
// which must hold it for the duration of a user-visible operation.
func (f *FileBase) Lock()   { f.mu.Lock() }
func (f *FileBase) Unlock() { f.mu.Unlock() }

// Stat holds an inode's POSIX-style attribute fields, as returned by
// FileBase.Stat.
type Stat struct {
	Type      InodeType
	Mode      uint32
	UID       uint32
	GID       uint32
	Nlink     uint32
	Size      int64
	Atime     Timespec
	Mtime     Timespec
	Ctime     Timespec
	Birthtime Timespec
}

func (f *FileBase) statLocked() Stat {
	return Stat{
		Type: f.hdr.Type, Mode: f.hdr.Mode, UID: f.hdr.UID, GID: f.hdr.GID,
		Nlink: f.hdr.Nlink, Size: f.hdr.Size,
		Atime: f.hdr.Atime, Mtime: f.hdr.Mtime, Ctime: f.hdr.Ctime, Birthtime: f.hdr.Birthtime,
	}
}

// Stat returns the inode's current attributes, locking internally.
func (f *FileBase) Stat() Stat {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statLocked()
}

// SetMode overlays the permission bits, preserving S_IFMT, for the
// chmod operation.
func (f *FileBase) SetMode(perm uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hdr.Mode = (f.hdr.Mode &^ 0o777) | (perm & 0o777)
	f.hdr.Ctime = timespecNow()
	f.dirty = true
}

// SetOwner sets uid/gid per the chown operation.
func (f *FileBase) SetOwner(uid, gid uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hdr.UID = uid
	f.hdr.GID = gid
	f.hdr.Ctime = timespecNow()
	f.dirty = true
}

func (f *FileBase) touchLocked() {
	now := timespecNow()
	f.hdr.Mtime = now
	f.hdr.Ctime = now
	f.dirty = true
}

func (f *FileBase) setSizeLocked(size int64) {
	f.hdr.Size = size
	f.touchLocked()
}

// flushHeaderLocked persists the header block if dirty. Caller holds
// the lock.
func (f *FileBase) flushHeaderLocked() error {
	if !f.dirty {
		return nil
	}
	if err := writeHeaderBlock(f.metaBacking, f.engine, &f.hdr); err != nil {
		return NewError(IO, "FileBase.flush", err).WithPath(f.id.String())
	}
	f.dirty = false
	return nil
}

// Flush persists any dirty header to the underlying streams. Safe to
// call on a clean inode. Subtypes (RegularFile/Directory/Symlink)
// wrap this to also flush their payload.
func (f *FileBase) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushHeaderLocked()
}

// Unlink sets the removal flag; backing streams are deleted only when
// FileTable releases the last handle.
func (f *FileBase) Unlink() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = true
}

// IsRemoved reports whether Unlink has been called.
func (f *FileBase) IsRemoved() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removed
}

// writeHeaderBlock seals hdr and writes it into the fixed-size header
// region reserved at the front of the meta stream, leaving the rest
// of the stream (the chunk index, for regular files) untouched. Uses
// a magic+version+payload framing sealed as an authenticated-
// encryption record rather than a plaintext struct dump.
func writeHeaderBlock(meta seal.Backing, engine seal.Engine, hdr *header) error {
	plaintext := hdr.encode()
	nonce, err := seal.GenerateNonce(engine)
	if err != nil {
		return err
	}
	ct, err := engine.Encrypt(nonce, plaintext)
	if err != nil {
		return fmt.Errorf("cryptofs: seal header: %w", err)
	}
	record := make([]byte, 4+len(nonce)+len(ct))
	n := uint32(len(nonce) + len(ct))
	record[0], record[1], record[2], record[3] = byte(n), byte(n>>8), byte(n>>16), byte(n>>24)
	copy(record[4:], nonce)
	copy(record[4+len(nonce):], ct)
	if len(record) > headerRegionSize {
		return fmt.Errorf("cryptofs: encoded header %d bytes exceeds reserved region %d", len(record), headerRegionSize)
	}
	padded := make([]byte, headerRegionSize)
	copy(padded, record)
	_, err = meta.WriteAt(padded, 0)
	return err
}

func readHeaderBlock(meta seal.Backing, engine seal.Engine) (*header, error) {
	region := make([]byte, headerRegionSize)
	if _, err := meta.ReadAt(region, 0); err != nil {
		return nil, fmt.Errorf("cryptofs: read header region: %w", err)
	}
	n := uint32(region[0]) | uint32(region[1])<<8 | uint32(region[2])<<16 | uint32(region[3])<<24
	if int(n) > headerRegionSize-4 {
		return nil, fmt.Errorf("cryptofs: corrupt header length %d", n)
	}
	nonceSize := engine.NonceSize()
	if int(n) < nonceSize {
		return nil, fmt.Errorf("cryptofs: corrupt header record")
	}
	nonce := region[4 : 4+nonceSize]
	ct := region[4+nonceSize : 4+int(n)]
	plaintext, err := engine.Decrypt(nonce, ct)
	if err != nil {
		return nil, fmt.Errorf("cryptofs: authenticate header: %w", seal.ErrAuthFailed)
	}
	return decodeHeader(plaintext)
}
