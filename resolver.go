package cryptofs

import "strings"

// PathResolver walks a '/'-separated path against Directory entries,
// opening intermediate directories via FileTable: walk all-but-last
// component, locking one directory at a time and releasing it via an
// explicit table.Close call before opening the next.
type PathResolver struct {
	table  *FileTable
	rootID ID
}

func NewPathResolver(table *FileTable, rootID ID) *PathResolver {
	return &PathResolver{table: table, rootID: rootID}
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// OpenBaseDir walks every component but the last, returning the final
// intermediate directory handle (locked and unlocked per component as
// it walks) and the last path component string. At most one inode
// lock is held at a time during the walk.
func (r *PathResolver) OpenBaseDir(path string) (*Directory, string, error) {
	rootInode, err := r.table.OpenAs(r.rootID, DirectoryType)
	if err != nil {
		return nil, "", err
	}
	root := rootInode.(*Directory)

	comps := splitPath(path)
	if len(comps) == 0 {
		return root, "", nil
	}

	current := root
	for i := 0; i < len(comps)-1; i++ {
		name := comps[i]
		current.Lock()
		id, typ, ok, err := current.GetEntry(name)
		current.Unlock()
		if err != nil {
			r.table.Close(current)
			return nil, "", err
		}
		if !ok {
			r.table.Close(current)
			return nil, "", NewError(NotFound, "PathResolver.open_base_dir", nil).WithPath(path)
		}
		if typ != DirectoryType {
			r.table.Close(current)
			return nil, "", NewError(NotADirectory, "PathResolver.open_base_dir", nil).WithPath(path)
		}
		next, err := r.table.OpenAs(id, DirectoryType)
		r.table.Close(current)
		if err != nil {
			return nil, "", err
		}
		current = next.(*Directory)
	}
	return current, comps[len(comps)-1], nil
}

// OpenAll resolves the full path to a handle of any inode type,
// releasing the intermediate directory handle OpenBaseDir returned.
func (r *PathResolver) OpenAll(path string) (Inode, error) {
	dir, last, err := r.OpenBaseDir(path)
	if err != nil {
		return nil, err
	}
	if last == "" {
		return dir, nil
	}
	dir.Lock()
	id, typ, ok, err := dir.GetEntry(last)
	dir.Unlock()
	if err != nil {
		r.table.Close(dir)
		return nil, err
	}
	if !ok {
		r.table.Close(dir)
		return nil, NewError(NotFound, "PathResolver.open_all", nil).WithPath(path)
	}
	inode, err := r.table.OpenAs(id, typ)
	r.table.Close(dir)
	return inode, err
}

// Create resolves the parent, mints a fresh id, creates the inode,
// then binds the name in the parent; on any failure after the inode
// exists but before it's reachable, the new inode is unlinked so its
// streams are destroyed on release.
func (r *PathResolver) Create(path string, typ InodeType) (Inode, error) {
	dir, last, err := r.OpenBaseDir(path)
	if err != nil {
		return nil, err
	}
	if last == "" {
		r.table.Close(dir)
		return nil, NewError(NotPermitted, "PathResolver.create", nil).WithPath(path)
	}

	id, err := NewID()
	if err != nil {
		r.table.Close(dir)
		return nil, NewError(IO, "PathResolver.create", err)
	}
	inode, err := r.table.CreateAs(id, typ)
	if err != nil {
		r.table.Close(dir)
		return nil, err
	}

	dir.Lock()
	added, addErr := dir.AddEntry(last, id, typ)
	dir.Unlock()
	if addErr == nil {
		addErr = dir.Flush()
	}
	r.table.Close(dir)

	if addErr != nil {
		inode.Unlink()
		r.table.Close(inode)
		return nil, addErr
	}
	if !added {
		inode.Unlink()
		r.table.Close(inode)
		return nil, NewError(Exists, "PathResolver.create", nil).WithPath(path)
	}
	return inode, nil
}

// Remove removes the directory entry before unlinking the child, so a
// crash or failure between the two steps never leaves a dangling name
// pointing at a removed inode.
func (r *PathResolver) Remove(path string) error {
	dir, last, err := r.OpenBaseDir(path)
	if err != nil {
		return err
	}
	if last == "" {
		r.table.Close(dir)
		return NewError(NotPermitted, "PathResolver.remove", nil).WithPath(path)
	}

	dir.Lock()
	id, typ, ok, err := dir.RemoveEntry(last)
	dir.Unlock()
	if err == nil && ok {
		err = dir.Flush()
	}
	r.table.Close(dir)
	if err != nil {
		return err
	}
	if !ok {
		return NewError(NotFound, "PathResolver.remove", nil).WithPath(path)
	}

	victim, err := r.table.OpenAs(id, typ)
	if err != nil {
		return err
	}
	victim.Unlink()
	return r.table.Close(victim)
}
