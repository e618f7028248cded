// Package blockstore implements the backing storage service: opening
// the two backing streams for an inode id under a two-level
// hex-prefix directory, over a github.com/absfs/absfs filesystem.
package blockstore

import (
	"fmt"
	"os"

	"github.com/absfs/absfs"
)

const (
	dataSuffix = ".data"
	metaSuffix = ".meta"
)

// Blockstore adapts an absfs.FileSystem into backing-stream storage
// keyed by hex id strings; cryptofs.NewBlockstoreStorage wraps it as
// the ID-keyed Storage that cryptofs.FileTable consumes.
type Blockstore struct {
	fs absfs.FileSystem
}

// New wraps base, an absfs.FileSystem (e.g. github.com/absfs/memfs
// for tests, or a disk-backed implementation for a real mount).
func New(base absfs.FileSystem) *Blockstore {
	return &Blockstore{fs: base}
}

func shardPath(idHex, suffix string) string {
	return "/" + idHex[:2] + "/" + idHex[2:] + suffix
}

func (b *Blockstore) ensureShardDir(idHex string) error {
	dir := "/" + idHex[:2]
	if err := b.fs.MkdirAll(dir, 0o755); err != nil && !os.IsExist(err) {
		return fmt.Errorf("blockstore: mkdir %s: %w", dir, err)
	}
	return nil
}

// OpenExisting opens both backing streams for id, failing if either
// is absent.
func (b *Blockstore) OpenExisting(idHex string) (data, meta Stream, err error) {
	df, err := b.fs.OpenFile(shardPath(idHex, dataSuffix), os.O_RDWR, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("blockstore: open data stream: %w", err)
	}
	mf, err := b.fs.OpenFile(shardPath(idHex, metaSuffix), os.O_RDWR, 0o600)
	if err != nil {
		df.Close()
		return nil, nil, fmt.Errorf("blockstore: open meta stream: %w", err)
	}
	return &fileStream{File: df}, &fileStream{File: mf}, nil
}

// Create creates both backing streams for id, failing if either
// already exists.
func (b *Blockstore) Create(idHex string) (data, meta Stream, err error) {
	if err := b.ensureShardDir(idHex); err != nil {
		return nil, nil, err
	}
	flags := os.O_RDWR | os.O_CREATE | os.O_EXCL
	df, err := b.fs.OpenFile(shardPath(idHex, dataSuffix), flags, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("blockstore: create data stream: %w", err)
	}
	mf, err := b.fs.OpenFile(shardPath(idHex, metaSuffix), flags, 0o600)
	if err != nil {
		df.Close()
		b.fs.Remove(shardPath(idHex, dataSuffix))
		return nil, nil, fmt.Errorf("blockstore: create meta stream: %w", err)
	}
	return &fileStream{File: df}, &fileStream{File: mf}, nil
}

// Remove deletes both backing streams for id, best-effort: errors from
// a stream that was never created are ignored.
func (b *Blockstore) Remove(idHex string) error {
	err1 := b.fs.Remove(shardPath(idHex, dataSuffix))
	err2 := b.fs.Remove(shardPath(idHex, metaSuffix))
	if err1 != nil && !os.IsNotExist(err1) {
		return fmt.Errorf("blockstore: remove data stream: %w", err1)
	}
	if err2 != nil && !os.IsNotExist(err2) {
		return fmt.Errorf("blockstore: remove meta stream: %w", err2)
	}
	return nil
}

// Stream is the random-access contract a single backing file
// provides, matching internal/seal.Backing so a *fileStream can be
// passed straight into the sealing layer.
type Stream interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Truncate(size int64) error
	Size() (int64, error)
	Sync() error
	Close() error
}

type fileStream struct {
	absfs.File
}

func (f *fileStream) Size() (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (f *fileStream) Sync() error {
	return f.File.Sync()
}
