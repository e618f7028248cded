package cryptofs

import (
	"github.com/cryptofs/cryptofs/internal/blockstore"
	"github.com/cryptofs/cryptofs/internal/seal"
)

// blockstoreStorage adapts internal/blockstore's string-keyed
// Blockstore into the ID-keyed Storage contract FileTable consumes.
// Kept in the root package (rather than on Blockstore itself) to
// avoid internal/blockstore importing the root package just to learn
// the ID type.
type blockstoreStorage struct {
	bs *blockstore.Blockstore
}

// NewBlockstoreStorage wires a blockstore.Blockstore as FileTable's
// Storage.
func NewBlockstoreStorage(bs *blockstore.Blockstore) Storage {
	return &blockstoreStorage{bs: bs}
}

func (s *blockstoreStorage) OpenExisting(id ID) (seal.Backing, seal.Backing, error) {
	return s.bs.OpenExisting(id.String())
}

func (s *blockstoreStorage) Create(id ID) (seal.Backing, seal.Backing, error) {
	return s.bs.Create(id.String())
}

func (s *blockstoreStorage) Remove(id ID) error {
	return s.bs.Remove(id.String())
}
