package cryptofs

import (
	"testing"

	"github.com/absfs/memfs"
	"github.com/cryptofs/cryptofs/internal/blockstore"
	"github.com/cryptofs/cryptofs/internal/seal"
)

// newTestTable builds a FileTable over an in-memory absfs.FileSystem,
// with the root directory already minted, for use by every _test.go
// file in this package.
func newTestTable(t *testing.T) *FileTable {
	t.Helper()
	memFS, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("memfs.NewFS: %v", err)
	}
	storage := NewBlockstoreStorage(blockstore.New(memFS))
	cfg := &Config{
		KeyProvider: seal.NewArgon2idKeyProvider([]byte("correct horse battery staple"), seal.Argon2idParams{
			Memory:      8 * 1024,
			Iterations:  1,
			Parallelism: 1,
		}),
	}
	table, err := NewFileTable(storage, cfg)
	if err != nil {
		t.Fatalf("NewFileTable: %v", err)
	}
	root, err := table.CreateAs(RootID, DirectoryType)
	if err != nil {
		t.Fatalf("CreateAs(root): %v", err)
	}
	fb, _ := asFileBase(root)
	fb.Lock()
	fb.hdr.Mode = 0o40000 | 0o755
	fb.hdr.Nlink = 1
	fb.dirty = true
	fb.mu.Unlock()
	if err := root.Flush(); err != nil {
		t.Fatalf("flush root: %v", err)
	}
	if err := table.Close(root); err != nil {
		t.Fatalf("close root: %v", err)
	}
	return table
}

func newTestTableReadOnly(t *testing.T, readOnly bool) *FileTable {
	t.Helper()
	table := newTestTable(t)
	table.readOnly = readOnly
	return table
}

func newTestOperations(t *testing.T) *Operations {
	t.Helper()
	return NewOperations(newTestTable(t), RootID, nil)
}

var testCtx = Context{UID: 1000, GID: 1000}
