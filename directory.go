package cryptofs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/cryptofs/cryptofs/internal/seal"
)

// dirEntry is one (name, id, type) triple that round-trips through an
// encrypted blob rather than staying in-memory only.
type dirEntry struct {
	name string
	id   ID
	typ  InodeType
}

// Directory is a name→(id,type) table persisted as a single encrypted
// blob: a linear scan with no hash index, since directories in this
// system stay small, rewritten to the encrypted data stream on every
// flush rather than held purely in memory.
type Directory struct {
	*FileBase

	entriesMu sync.RWMutex
	entries   []dirEntry
	loaded    bool
}

func newDirectory(fb *FileBase) *Directory {
	return &Directory{FileBase: fb}
}

func (d *Directory) ensureLoadedLocked() error {
	if d.loaded {
		return nil
	}
	pt, err := seal.ReadBlob(d.dataBacking, d.engine)
	if err != nil {
		if seal.IsAuthFailure(err) {
			return NewError(Corrupted, "Directory.load", err).WithPath(d.id.String())
		}
		return NewError(IO, "Directory.load", err).WithPath(d.id.String())
	}
	entries, err := decodeDirEntries(pt)
	if err != nil {
		return NewError(Corrupted, "Directory.load", err).WithPath(d.id.String())
	}
	d.entries = entries
	d.loaded = true
	return nil
}

// GetEntry returns the (id,type) bound to name, or ok=false if absent.
// Caller must hold the inode lock.
func (d *Directory) GetEntry(name string) (id ID, typ InodeType, ok bool, err error) {
	if err := d.ensureLoadedLocked(); err != nil {
		return ID{}, 0, false, err
	}
	d.entriesMu.RLock()
	defer d.entriesMu.RUnlock()
	for _, e := range d.entries {
		if e.name == name {
			return e.id, e.typ, true, nil
		}
	}
	return ID{}, 0, false, nil
}

// AddEntry returns false iff name already exists; the directory's
// link count is not changed. Caller must hold the inode lock.
func (d *Directory) AddEntry(name string, id ID, typ InodeType) (bool, error) {
	if err := validateEntryName(name); err != nil {
		return false, err
	}
	if err := d.ensureLoadedLocked(); err != nil {
		return false, err
	}
	d.entriesMu.Lock()
	defer d.entriesMu.Unlock()
	for _, e := range d.entries {
		if e.name == name {
			return false, nil
		}
	}
	d.entries = append(d.entries, dirEntry{name: name, id: id, typ: typ})
	d.touchLocked()
	return true, nil
}

// RemoveEntry removes and returns the entry bound to name, or
// ok=false if absent. Caller must hold the inode lock.
func (d *Directory) RemoveEntry(name string) (id ID, typ InodeType, ok bool, err error) {
	if err := d.ensureLoadedLocked(); err != nil {
		return ID{}, 0, false, err
	}
	d.entriesMu.Lock()
	defer d.entriesMu.Unlock()
	for i, e := range d.entries {
		if e.name == name {
			d.entries = append(d.entries[:i], d.entries[i+1:]...)
			d.touchLocked()
			return e.id, e.typ, true, nil
		}
	}
	return ID{}, 0, false, nil
}

// IsEmpty reports whether the directory has no entries, used by rmdir
// to reject removing a non-empty directory with NotEmpty. Caller must
// hold the inode lock.
func (d *Directory) IsEmpty() (bool, error) {
	if err := d.ensureLoadedLocked(); err != nil {
		return false, err
	}
	d.entriesMu.RLock()
	defer d.entriesMu.RUnlock()
	return len(d.entries) == 0, nil
}

// IterateOverEntries visits each entry exactly once as of the start
// of the call (a snapshot is taken under the directory lock), so
// concurrent mutation during iteration never changes what a single
// call observes. visit returning false stops iteration early. Caller
// must hold the inode lock.
func (d *Directory) IterateOverEntries(visit func(name string, id ID, typ InodeType) bool) error {
	if err := d.ensureLoadedLocked(); err != nil {
		return err
	}
	d.entriesMu.RLock()
	snapshot := make([]dirEntry, len(d.entries))
	copy(snapshot, d.entries)
	d.entriesMu.RUnlock()

	for _, e := range snapshot {
		if !visit(e.name, e.id, e.typ) {
			return nil
		}
	}
	return nil
}

// Flush persists the header and the entry table. A dirty flag set by a
// header-only change (chmod/chown) still requires loading the entry
// table first: re-encoding an unloaded (nil) entries slice would
// overwrite the on-disk table with an empty one.
func (d *Directory) Flush() error {
	d.mu.Lock()
	dirty := d.dirty
	if dirty {
		if err := d.ensureLoadedLocked(); err != nil {
			d.mu.Unlock()
			return err
		}
		d.entriesMu.RLock()
		encoded := encodeDirEntries(d.entries)
		d.entriesMu.RUnlock()
		if err := seal.WriteBlob(d.dataBacking, d.engine, encoded); err != nil {
			d.mu.Unlock()
			return NewError(IO, "Directory.flush", err).WithPath(d.id.String())
		}
	}
	d.mu.Unlock()
	return d.FileBase.Flush()
}

func validateEntryName(name string) *Error {
	if name == "" {
		return invalidArgf("Directory.add_entry", "empty name")
	}
	if strings.ContainsAny(name, "/\x00") {
		return invalidArgf("Directory.add_entry", "name %q contains / or NUL", name)
	}
	return nil
}

// encodeDirEntries/decodeDirEntries give the directory payload the
// same length-prefixed framing style as the chunk index
// (internal/seal/chunkformat.go): count, then per-entry
// [name-len][name][id 16 bytes][type byte].
func encodeDirEntries(entries []dirEntry) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(entries)))
	for _, e := range entries {
		nameBytes := []byte(e.name)
		binary.Write(&buf, binary.LittleEndian, uint16(len(nameBytes)))
		buf.Write(nameBytes)
		buf.Write(e.id[:])
		buf.WriteByte(byte(e.typ))
	}
	return buf.Bytes()
}

func decodeDirEntries(data []byte) ([]dirEntry, error) {
	if len(data) == 0 {
		return nil, nil
	}
	buf := bytes.NewReader(data)
	var count uint32
	if err := binary.Read(buf, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("cryptofs: read directory entry count: %w", err)
	}
	entries := make([]dirEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		var nameLen uint16
		if err := binary.Read(buf, binary.LittleEndian, &nameLen); err != nil {
			return nil, fmt.Errorf("cryptofs: read directory entry %d name length: %w", i, err)
		}
		nameBytes := make([]byte, nameLen)
		if _, err := buf.Read(nameBytes); err != nil {
			return nil, fmt.Errorf("cryptofs: read directory entry %d name: %w", i, err)
		}
		var idBytes [16]byte
		if _, err := buf.Read(idBytes[:]); err != nil {
			return nil, fmt.Errorf("cryptofs: read directory entry %d id: %w", i, err)
		}
		typByte, err := buf.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("cryptofs: read directory entry %d type: %w", i, err)
		}
		entries = append(entries, dirEntry{name: string(nameBytes), id: ID(idBytes), typ: InodeType(typByte)})
	}
	return entries, nil
}
