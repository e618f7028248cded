package cryptofs

import "testing"

func createSymlink(t *testing.T, table *FileTable) (*Symlink, ID) {
	t.Helper()
	id, err := NewID()
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	inode, err := table.CreateAs(id, SymlinkType)
	if err != nil {
		t.Fatalf("CreateAs: %v", err)
	}
	return inode.(*Symlink), id
}

func TestSymlink_SetThenGetRoundTrip(t *testing.T) {
	table := newTestTable(t)
	sl, _ := createSymlink(t, table)
	defer table.Close(sl)

	if err := sl.Set("/etc/passwd"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := sl.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "/etc/passwd" {
		t.Errorf("Get() = %q, want %q", got, "/etc/passwd")
	}

	st := sl.Stat()
	if st.Size != int64(len("/etc/passwd")) {
		t.Errorf("Stat().Size = %d, want %d", st.Size, len("/etc/passwd"))
	}
}

func TestSymlink_FlushPersistsAcrossClose(t *testing.T) {
	table := newTestTable(t)
	sl, id := createSymlink(t, table)

	if err := sl.Set("../relative/target"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := sl.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := table.Close(sl); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := table.OpenAs(id, SymlinkType)
	if err != nil {
		t.Fatalf("OpenAs: %v", err)
	}
	defer table.Close(reopened)
	sl2 := reopened.(*Symlink)

	got, err := sl2.Get()
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got != "../relative/target" {
		t.Errorf("Get() after reopen = %q, want %q", got, "../relative/target")
	}
}
