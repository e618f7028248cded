package cryptofs

import "sync"

// HandleTable is the opaque handle registry: an integer token the host
// bridge can pass back without the core ever exposing a raw memory
// address across the boundary. Owned by Operations, not FileTable,
// following the same registry-with-mutex pattern as FileTable's own
// id→entry map.
type HandleTable struct {
	mu      sync.Mutex
	next    uint64
	handles map[uint64]Inode
}

func NewHandleTable() *HandleTable {
	return &HandleTable{handles: make(map[uint64]Inode)}
}

// Mint issues a fresh token bound to inode.
func (h *HandleTable) Mint(inode Inode) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	token := h.next
	h.handles[token] = inode
	return token
}

// Lookup resolves a token to its inode, failing BAD_FD if the token is
// unknown (already released, or never minted).
func (h *HandleTable) Lookup(token uint64) (Inode, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inode, ok := h.handles[token]
	if !ok {
		return nil, NewError(BadFD, "HandleTable.lookup", nil)
	}
	return inode, nil
}

// Release forgets a token, returning its inode so the caller can
// return it to FileTable.
func (h *HandleTable) Release(token uint64) (Inode, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	inode, ok := h.handles[token]
	if !ok {
		return nil, NewError(BadFD, "HandleTable.release", nil)
	}
	delete(h.handles, token)
	return inode, nil
}
