package cryptofs

import (
	"bytes"
	"os"
	"testing"
)

func TestOperations_CreateWriteReadRoundTrip(t *testing.T) {
	ops := newTestOperations(t)

	token, err := ops.Create(testCtx, "/greeting.txt", 0o644)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	payload := []byte("hello from the other side")
	n, err := ops.Write(token, payload, 0)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("Write = %d, want %d", n, len(payload))
	}

	if err := ops.Release(token); err != nil {
		t.Fatalf("Release: %v", err)
	}

	token2, err := ops.Open("/greeting.txt", os.O_RDONLY)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ops.Release(token2)

	buf := make([]byte, len(payload))
	n, err = ops.Read(token2, buf, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != len(payload) || !bytes.Equal(buf[:n], payload) {
		t.Errorf("Read = %q, want %q", buf[:n], payload)
	}
}

func TestOperations_SparseWrite(t *testing.T) {
	ops := newTestOperations(t)

	token, err := ops.Create(testCtx, "/sparse.bin", 0o644)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer ops.Release(token)

	if _, err := ops.Write(token, []byte("end"), 50); err != nil {
		t.Fatalf("Write: %v", err)
	}

	st, err := ops.Getattr("/sparse.bin")
	if err != nil {
		t.Fatalf("Getattr: %v", err)
	}
	if st.Size != 53 {
		t.Errorf("Size = %d, want 53", st.Size)
	}

	buf := make([]byte, 50)
	if _, err := ops.Read(token, buf, 0); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}
}

func TestOperations_RemoveWhileOpenStaysReadableUntilRelease(t *testing.T) {
	ops := newTestOperations(t)

	token, err := ops.Create(testCtx, "/ephemeral.txt", 0o644)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := ops.Write(token, []byte("still here"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := ops.Unlink("/ephemeral.txt"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}

	if _, err := ops.Getattr("/ephemeral.txt"); !Is(err, NotFound) {
		t.Errorf("Getattr after unlink = %v, want NotFound", KindOf(err))
	}

	buf := make([]byte, len("still here"))
	n, err := ops.Read(token, buf, 0)
	if err != nil {
		t.Fatalf("Read on still-open unlinked handle: %v", err)
	}
	if string(buf[:n]) != "still here" {
		t.Errorf("Read on unlinked handle = %q, want %q", buf[:n], "still here")
	}

	if err := ops.Release(token); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestOperations_SymlinkRoundTrip(t *testing.T) {
	ops := newTestOperations(t)

	if err := ops.Symlink(testCtx, "/target/path", "/link"); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	buf := make([]byte, 64)
	n, err := ops.Readlink("/link", buf)
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if string(buf[:n]) != "/target/path" {
		t.Errorf("Readlink = %q, want %q", buf[:n], "/target/path")
	}
}

func TestOperations_ReadOnlyRejectsMutation(t *testing.T) {
	table := newTestTableReadOnly(t, true)
	ops := NewOperations(table, RootID, nil)

	if _, err := ops.Create(testCtx, "/nope.txt", 0o644); !Is(err, ReadOnly) {
		t.Errorf("Create on read-only mount = %v, want ReadOnly", KindOf(err))
	}
	if err := ops.Mkdir(testCtx, "/nope", 0o755); !Is(err, ReadOnly) {
		t.Errorf("Mkdir on read-only mount = %v, want ReadOnly", KindOf(err))
	}
	if err := ops.Unlink("/nope.txt"); !Is(err, ReadOnly) {
		t.Errorf("Unlink on read-only mount = %v, want ReadOnly", KindOf(err))
	}
}

func TestOperations_DirectoryTraversal(t *testing.T) {
	ops := newTestOperations(t)

	if err := ops.Mkdir(testCtx, "/sub", 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	token, err := ops.Create(testCtx, "/sub/file.txt", 0o644)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ops.Release(token)

	dirToken, err := ops.Opendir("/sub")
	if err != nil {
		t.Fatalf("Opendir: %v", err)
	}
	defer ops.Releasedir(dirToken)

	entries, err := ops.Readdir(dirToken)
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "file.txt" {
		t.Errorf("Readdir = %+v, want one entry named file.txt", entries)
	}
}

func TestOperations_RmdirRejectsNonEmptyDirectory(t *testing.T) {
	ops := newTestOperations(t)

	if err := ops.Mkdir(testCtx, "/full", 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	token, err := ops.Create(testCtx, "/full/child.txt", 0o644)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ops.Release(token)

	if err := ops.Rmdir("/full"); !Is(err, NotEmpty) {
		t.Errorf("Rmdir(non-empty) = %v, want NotEmpty", KindOf(err))
	}

	if err := ops.Unlink("/full/child.txt"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if err := ops.Rmdir("/full"); err != nil {
		t.Errorf("Rmdir(empty) failed: %v", err)
	}
}

func TestOperations_ChmodChown(t *testing.T) {
	ops := newTestOperations(t)

	token, err := ops.Create(testCtx, "/owned.txt", 0o644)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ops.Release(token)

	if err := ops.Chmod("/owned.txt", 0o600); err != nil {
		t.Fatalf("Chmod: %v", err)
	}
	if err := ops.Chown("/owned.txt", 42, 7); err != nil {
		t.Fatalf("Chown: %v", err)
	}

	st, err := ops.Getattr("/owned.txt")
	if err != nil {
		t.Fatalf("Getattr: %v", err)
	}
	if st.Mode&0o777 != 0o600 {
		t.Errorf("Mode = %o, want %o", st.Mode&0o777, 0o600)
	}
	if st.UID != 42 || st.GID != 7 {
		t.Errorf("UID/GID = %d/%d, want 42/7", st.UID, st.GID)
	}
}

func TestOperations_ChmodDirectoryPreservesEntries(t *testing.T) {
	ops := newTestOperations(t)
	// Evict every inode on close so each OpenAll below loads a fresh
	// instance from storage.
	ops.table.idleCapacityPerType = 0

	if err := ops.Mkdir(testCtx, "/d", 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	token, err := ops.Create(testCtx, "/d/child.txt", 0o644)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := ops.Release(token); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// chmod/chown a directory whose handle has never loaded its entry
	// table (resolved fresh via OpenAll, not the handle that created it).
	if err := ops.Chmod("/d", 0o700); err != nil {
		t.Fatalf("Chmod: %v", err)
	}
	if err := ops.Chown("/d", 1, 1); err != nil {
		t.Fatalf("Chown: %v", err)
	}

	dirToken, err := ops.Opendir("/d")
	if err != nil {
		t.Fatalf("Opendir: %v", err)
	}
	defer ops.Releasedir(dirToken)
	entries, err := ops.Readdir(dirToken)
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "child.txt" {
		t.Fatalf("entries after chmod/chown = %+v, want [child.txt]", entries)
	}
}

func TestOperations_ChmodSymlinkPreservesTarget(t *testing.T) {
	ops := newTestOperations(t)
	// Evict every inode on close so each OpenAll below loads a fresh
	// instance from storage.
	ops.table.idleCapacityPerType = 0

	if err := ops.Symlink(testCtx, "/etc/hosts", "/link"); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	// chmod a symlink whose handle has never loaded its target (resolved
	// fresh via OpenAll, not the handle that created it).
	if err := ops.Chmod("/link", 0o700); err != nil {
		t.Fatalf("Chmod: %v", err)
	}

	buf := make([]byte, 64)
	n, err := ops.Readlink("/link", buf)
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if string(buf[:n]) != "/etc/hosts" {
		t.Fatalf("target after chmod = %q, want /etc/hosts", string(buf[:n]))
	}
}

func TestOperations_OpenTruncFlagTruncatesExisting(t *testing.T) {
	ops := newTestOperations(t)

	token, err := ops.Create(testCtx, "/trunc.txt", 0o644)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := ops.Write(token, []byte("original contents"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := ops.Release(token); err != nil {
		t.Fatalf("Release: %v", err)
	}

	token2, err := ops.Open("/trunc.txt", os.O_WRONLY|os.O_TRUNC)
	if err != nil {
		t.Fatalf("Open with O_TRUNC: %v", err)
	}
	defer ops.Release(token2)

	st, err := ops.Getattr("/trunc.txt")
	if err != nil {
		t.Fatalf("Getattr: %v", err)
	}
	if st.Size != 0 {
		t.Errorf("Size after O_TRUNC open = %d, want 0", st.Size)
	}
}

func TestOperations_BadFDOnUnknownToken(t *testing.T) {
	ops := newTestOperations(t)
	if _, err := ops.Read(9999, make([]byte, 1), 0); !Is(err, BadFD) {
		t.Errorf("Read(bad token) = %v, want BadFD", KindOf(err))
	}
}
