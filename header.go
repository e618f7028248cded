package cryptofs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cryptofs/cryptofs/internal/seal"
)

// headerMagic identifies a valid inode header via a leading
// magic-byte check.
const headerMagic = 0x43525054 // "CRPT"

const headerVersion = 1

// InodeType tags which concrete kind a FileBase carries: a tagged
// variant rather than a class hierarchy.
type InodeType uint8

const (
	RegularFileType InodeType = iota + 1
	DirectoryType
	SymlinkType
)

func (t InodeType) String() string {
	switch t {
	case RegularFileType:
		return "REGULAR_FILE"
	case DirectoryType:
		return "DIRECTORY"
	case SymlinkType:
		return "SYMLINK"
	default:
		return "UNKNOWN"
	}
}

// Timespec is a second+nanosecond resolution timestamp.
type Timespec struct {
	Sec  int64
	Nsec int32
}

func timespecNow() Timespec {
	now := time.Now()
	return Timespec{Sec: now.Unix(), Nsec: int32(now.Nanosecond())}
}

// header is the fixed-layout common inode header, stored encrypted at
// the front of the meta stream, carrying the POSIX attribute fields
// alongside the type/mode tag.
type header struct {
	Type      InodeType
	Mode      uint32
	UID       uint32
	GID       uint32
	Nlink     uint32
	Atime     Timespec
	Mtime     Timespec
	Ctime     Timespec
	Birthtime Timespec
	Size      int64
}

func (h *header) encode() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(headerMagic))
	binary.Write(&buf, binary.LittleEndian, uint8(headerVersion))
	binary.Write(&buf, binary.LittleEndian, uint8(h.Type))
	binary.Write(&buf, binary.LittleEndian, h.Mode)
	binary.Write(&buf, binary.LittleEndian, h.UID)
	binary.Write(&buf, binary.LittleEndian, h.GID)
	binary.Write(&buf, binary.LittleEndian, h.Nlink)
	for _, ts := range []Timespec{h.Atime, h.Mtime, h.Ctime, h.Birthtime} {
		binary.Write(&buf, binary.LittleEndian, ts.Sec)
		binary.Write(&buf, binary.LittleEndian, ts.Nsec)
	}
	binary.Write(&buf, binary.LittleEndian, h.Size)
	return buf.Bytes()
}

func decodeHeader(b []byte) (*header, error) {
	buf := bytes.NewReader(b)
	var magic uint32
	if err := binary.Read(buf, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("cryptofs: read header magic: %w", err)
	}
	if magic != headerMagic {
		return nil, fmt.Errorf("cryptofs: bad header magic %#x", magic)
	}
	var version, typ uint8
	binary.Read(buf, binary.LittleEndian, &version)
	binary.Read(buf, binary.LittleEndian, &typ)
	if version != headerVersion {
		return nil, fmt.Errorf("cryptofs: unsupported header version %d", version)
	}
	h := &header{Type: InodeType(typ)}
	binary.Read(buf, binary.LittleEndian, &h.Mode)
	binary.Read(buf, binary.LittleEndian, &h.UID)
	binary.Read(buf, binary.LittleEndian, &h.GID)
	binary.Read(buf, binary.LittleEndian, &h.Nlink)
	for _, ts := range []*Timespec{&h.Atime, &h.Mtime, &h.Ctime, &h.Birthtime} {
		binary.Read(buf, binary.LittleEndian, &ts.Sec)
		binary.Read(buf, binary.LittleEndian, &ts.Nsec)
	}
	binary.Read(buf, binary.LittleEndian, &h.Size)
	return h, nil
}

// headerRegionSize is the fixed space reserved for the encrypted
// header blob at the front of the meta stream; the chunk index (for
// regular files) or nothing (for directories/symlinks, which keep
// their payload in the data stream) follows it.
const headerRegionSize = 256

// offsetBacking shifts every access to an underlying seal.Backing by
// a fixed number of bytes, letting FileBase reserve the header region
// at the front of the meta stream while RegularFile's chunk index
// lives immediately after it untouched by header rewrites.
type offsetBacking struct {
	seal.Backing
	base int64
}

func (o *offsetBacking) ReadAt(p []byte, off int64) (int, error) {
	return o.Backing.ReadAt(p, off+o.base)
}

func (o *offsetBacking) WriteAt(p []byte, off int64) (int, error) {
	return o.Backing.WriteAt(p, off+o.base)
}

func (o *offsetBacking) Truncate(size int64) error {
	return o.Backing.Truncate(size + o.base)
}

func (o *offsetBacking) Size() (int64, error) {
	sz, err := o.Backing.Size()
	if err != nil {
		return 0, err
	}
	sz -= o.base
	if sz < 0 {
		sz = 0
	}
	return sz, nil
}
