package cryptofs

import "testing"

func openRootDir(t *testing.T, table *FileTable) *Directory {
	t.Helper()
	inode, err := table.OpenAs(RootID, DirectoryType)
	if err != nil {
		t.Fatalf("OpenAs(root): %v", err)
	}
	return inode.(*Directory)
}

func TestDirectory_AddGetRemoveEntry(t *testing.T) {
	table := newTestTable(t)
	dir := openRootDir(t, table)
	defer table.Close(dir)

	id, err := NewID()
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}

	dir.Lock()
	added, err := dir.AddEntry("hello.txt", id, RegularFileType)
	dir.Unlock()
	if err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if !added {
		t.Fatal("AddEntry on a fresh name should report true")
	}

	dir.Lock()
	gotID, gotTyp, ok, err := dir.GetEntry("hello.txt")
	dir.Unlock()
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if !ok {
		t.Fatal("GetEntry should find the entry just added")
	}
	if gotID != id || gotTyp != RegularFileType {
		t.Errorf("GetEntry = (%v, %v), want (%v, %v)", gotID, gotTyp, id, RegularFileType)
	}

	dir.Lock()
	remID, remTyp, ok, err := dir.RemoveEntry("hello.txt")
	dir.Unlock()
	if err != nil {
		t.Fatalf("RemoveEntry: %v", err)
	}
	if !ok || remID != id || remTyp != RegularFileType {
		t.Errorf("RemoveEntry = (%v, %v, %v), want (%v, %v, true)", remID, remTyp, ok, id, RegularFileType)
	}

	dir.Lock()
	_, _, ok, err = dir.GetEntry("hello.txt")
	dir.Unlock()
	if err != nil {
		t.Fatalf("GetEntry after remove: %v", err)
	}
	if ok {
		t.Error("entry should no longer be found after RemoveEntry")
	}
}

func TestDirectory_AddEntry_DuplicateNameRejected(t *testing.T) {
	table := newTestTable(t)
	dir := openRootDir(t, table)
	defer table.Close(dir)

	id1, _ := NewID()
	id2, _ := NewID()

	dir.Lock()
	added, err := dir.AddEntry("dup", id1, RegularFileType)
	dir.Unlock()
	if err != nil || !added {
		t.Fatalf("first AddEntry failed: added=%v err=%v", added, err)
	}

	dir.Lock()
	added, err = dir.AddEntry("dup", id2, RegularFileType)
	dir.Unlock()
	if err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if added {
		t.Error("AddEntry should report false for an already-bound name")
	}
}

func TestDirectory_AddEntry_RejectsInvalidNames(t *testing.T) {
	table := newTestTable(t)
	dir := openRootDir(t, table)
	defer table.Close(dir)

	id, _ := NewID()
	for _, name := range []string{"", "a/b", "a\x00b"} {
		dir.Lock()
		_, err := dir.AddEntry(name, id, RegularFileType)
		dir.Unlock()
		if err == nil {
			t.Errorf("AddEntry(%q) should have failed", name)
		}
		if !Is(err, InvalidArgument) {
			t.Errorf("AddEntry(%q) error kind = %v, want InvalidArgument", name, KindOf(err))
		}
	}
}

func TestDirectory_IsEmpty(t *testing.T) {
	table := newTestTable(t)
	dir := openRootDir(t, table)
	defer table.Close(dir)

	dir.Lock()
	empty, err := dir.IsEmpty()
	dir.Unlock()
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if !empty {
		t.Error("freshly created directory should be empty")
	}

	id, _ := NewID()
	dir.Lock()
	dir.AddEntry("child", id, RegularFileType)
	dir.Unlock()

	dir.Lock()
	empty, err = dir.IsEmpty()
	dir.Unlock()
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if empty {
		t.Error("directory with one entry should not be empty")
	}
}

func TestDirectory_IterateOverEntries_VisitsEverySnapshotEntry(t *testing.T) {
	table := newTestTable(t)
	dir := openRootDir(t, table)
	defer table.Close(dir)

	names := []string{"a", "b", "c"}
	for _, n := range names {
		id, _ := NewID()
		dir.Lock()
		dir.AddEntry(n, id, RegularFileType)
		dir.Unlock()
	}

	seen := map[string]bool{}
	dir.Lock()
	err := dir.IterateOverEntries(func(name string, id ID, typ InodeType) bool {
		seen[name] = true
		return true
	})
	dir.Unlock()
	if err != nil {
		t.Fatalf("IterateOverEntries: %v", err)
	}
	for _, n := range names {
		if !seen[n] {
			t.Errorf("IterateOverEntries missed entry %q", n)
		}
	}
}

func TestDirectory_IterateOverEntries_StopsEarly(t *testing.T) {
	table := newTestTable(t)
	dir := openRootDir(t, table)
	defer table.Close(dir)

	for _, n := range []string{"a", "b", "c"} {
		id, _ := NewID()
		dir.Lock()
		dir.AddEntry(n, id, RegularFileType)
		dir.Unlock()
	}

	count := 0
	dir.Lock()
	err := dir.IterateOverEntries(func(name string, id ID, typ InodeType) bool {
		count++
		return false
	})
	dir.Unlock()
	if err != nil {
		t.Fatalf("IterateOverEntries: %v", err)
	}
	if count != 1 {
		t.Errorf("IterateOverEntries visited %d entries, want 1 after early stop", count)
	}
}

func TestDirectory_FlushPersistsAcrossReload(t *testing.T) {
	table := newTestTable(t)
	dir := openRootDir(t, table)

	id, _ := NewID()
	dir.Lock()
	dir.AddEntry("survivor", id, RegularFileType)
	dir.Unlock()

	if err := dir.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	// Evict on close so the reopen below reads the entry table back
	// from storage instead of returning the cached instance.
	table.idleCapacityPerType = 0
	if err := table.Close(dir); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := openRootDir(t, table)
	defer table.Close(reopened)

	reopened.Lock()
	gotID, gotTyp, ok, err := reopened.GetEntry("survivor")
	reopened.Unlock()
	if err != nil {
		t.Fatalf("GetEntry after reload: %v", err)
	}
	if !ok || gotID != id || gotTyp != RegularFileType {
		t.Errorf("GetEntry after reload = (%v, %v, %v), want (%v, %v, true)", gotID, gotTyp, ok, id, RegularFileType)
	}
}
