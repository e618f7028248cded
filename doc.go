// Package cryptofs implements the logical filesystem engine of a
// userspace encrypted filesystem: an in-memory object model of
// files/directories/symlinks keyed by stable 128-bit identifiers, a
// shared file table guaranteeing at-most-one in-memory instance per
// identifier, path resolution against directory objects, and a
// POSIX-style operation surface (getattr, create, open, read, write,
// truncate, unlink, mkdir, readdir, chmod, chown, symlink, readlink,
// release).
//
// # Overview
//
// Every inode's header and payload is encrypted at rest. Two backing
// streams per inode — data and meta — live under a two-level
// hex-prefix directory, named by the inode's 128-bit id. The
// cryptographic work (authenticated encryption, key derivation,
// chunking) is implemented in internal/seal; the backing directory
// abstraction is implemented in internal/blockstore over
// github.com/absfs/absfs.
//
// # Supported Cipher Suites
//
//   - AES-256-GCM
//   - ChaCha20-Poly1305
//
// Both provide authenticated encryption: reads fail with CORRUPTED
// rather than returning silently tampered data.
//
// # Basic Usage
//
//	memFS, err := memfs.NewFS()
//	storage := cryptofs.NewBlockstoreStorage(blockstore.New(memFS))
//	cfg := &cryptofs.Config{
//	    Cipher:      seal.AES256GCM,
//	    KeyProvider: seal.NewArgon2idKeyProvider([]byte("passphrase"), seal.Argon2idParams{}),
//	}
//	table, err := cryptofs.NewFileTable(storage, cfg)
//	root, err := table.CreateAs(cryptofs.RootID, cryptofs.DirectoryType)
//	table.Close(root)
//	ops := cryptofs.NewOperations(table, cryptofs.RootID, nil)
//
//	ops.Mkdir(ctx, "/a", 0o755)
//	token, _ := ops.Create(ctx, "/a/b", 0o644)
//	ops.Write(token, []byte("hello"), 0)
//	ops.Release(token)
//
// # Key Derivation
//
// Argon2id is recommended (memory-hard, resists GPU/ASIC attacks);
// PBKDF2 is supported as a legacy option.
//
// # Concurrency
//
// The file table's own lock guards only its id→entry map and idle
// queues and is never held across inode I/O. Each inode carries its
// own lock, held for the duration of a user-visible operation; at
// most one inode lock is held at a time during a path walk.
package cryptofs
