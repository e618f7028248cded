package cryptofs

import (
	"fmt"

	"github.com/cryptofs/cryptofs/internal/seal"
)

// Config is the mount-time configuration: read-only mode, idle pool
// capacity per inode type, the root directory's id, plus the
// key/cipher material the core needs to construct CryptoStreams.
type Config struct {
	// Cipher selects the AEAD suite sealing every inode's payload.
	Cipher seal.CipherSuite

	// KeyProvider derives the master key from a passphrase and salt.
	KeyProvider seal.KeyProvider

	// ChunkSize is the plaintext chunk size for regular files.
	// Defaults to seal.DefaultChunkSize.
	ChunkSize uint32

	// ReadOnly makes Create, Mkdir, Symlink, Unlink, Rmdir and an Open
	// with write intent fail with READ_ONLY. Chmod, Chown, Truncate,
	// Ftruncate and Write are not checked against it.
	ReadOnly bool

	// IdleCapacityPerType bounds each inode type's idle pool in
	// FileTable. Defaults to 128.
	IdleCapacityPerType int

	// RootID is carried in the configuration but is not read by
	// NewFileTable or NewOperations; the root directory that path
	// resolution uses is the id passed to NewOperations.
	RootID ID
}

// Validate fills in defaults and rejects inconsistent configuration.
func (c *Config) Validate() error {
	if c.KeyProvider == nil {
		return fmt.Errorf("cryptofs: config requires a KeyProvider")
	}
	if c.Cipher == 0 {
		c.Cipher = seal.AES256GCM
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = seal.DefaultChunkSize
	}
	if err := seal.ValidateChunkSize(c.ChunkSize); err != nil {
		return err
	}
	if c.IdleCapacityPerType <= 0 {
		c.IdleCapacityPerType = 128
	}
	return nil
}
