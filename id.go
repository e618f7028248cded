package cryptofs

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// ID is a 128-bit opaque inode identifier. Equality is by content.
type ID [16]byte

// RootID is the well-known constant identifying the root directory.
var RootID = ID{}

// NewID mints a fresh identifier using a random (v4) UUID as a
// collision-resistant handle. Safe for concurrent use.
func NewID() (ID, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return ID{}, fmt.Errorf("cryptofs: generate id: %w", err)
	}
	return ID(u), nil
}

// String returns the lowercase 32-character hex encoding used as the
// filename stem for the inode's two backing streams.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the all-zero root sentinel.
func (id ID) IsZero() bool {
	return id == ID{}
}

// ParseID decodes a 32-character hex string produced by String.
func ParseID(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("cryptofs: parse id %q: %w", s, err)
	}
	if len(b) != len(id) {
		return ID{}, fmt.Errorf("cryptofs: parse id %q: wrong length", s)
	}
	copy(id[:], b)
	return id, nil
}
