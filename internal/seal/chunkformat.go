package seal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// DefaultChunkSize is the plaintext chunk size used when a Config
	// doesn't specify one.
	DefaultChunkSize = 64 * 1024
	MinChunkSize     = 64
	MaxChunkSize     = 16 * 1024 * 1024
)

// ChunkIndex records the offset and plaintext size of every chunk of
// a RegularFile's payload. This filesystem rewrites the whole index
// in the inode's meta stream on every flush (directories get the same
// whole-blob treatment, see directory.go), so there is no need for a
// fixed reserved-space layout that would let the index grow in place
// inside a single shared file.
type ChunkIndex struct {
	ChunkSize      uint32
	ChunkOffsets   []uint64
	PlaintextSizes []uint32
}

// NewChunkIndex creates an empty index for the given chunk size.
func NewChunkIndex(chunkSize uint32) *ChunkIndex {
	return &ChunkIndex{ChunkSize: chunkSize}
}

// WriteTo encodes the index: chunk size, count, offsets, sizes.
func (h *ChunkIndex) WriteTo(w io.Writer) (int64, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, h.ChunkSize); err != nil {
		return 0, fmt.Errorf("seal: write chunk size: %w", err)
	}
	count := uint32(len(h.ChunkOffsets))
	if err := binary.Write(buf, binary.LittleEndian, count); err != nil {
		return 0, fmt.Errorf("seal: write chunk count: %w", err)
	}
	for _, offset := range h.ChunkOffsets {
		if err := binary.Write(buf, binary.LittleEndian, offset); err != nil {
			return 0, fmt.Errorf("seal: write chunk offset: %w", err)
		}
	}
	for _, size := range h.PlaintextSizes {
		if err := binary.Write(buf, binary.LittleEndian, size); err != nil {
			return 0, fmt.Errorf("seal: write plaintext size: %w", err)
		}
	}
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// ReadFrom decodes an index previously written by WriteTo.
func (h *ChunkIndex) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	if err := binary.Read(r, binary.LittleEndian, &h.ChunkSize); err != nil {
		return total, fmt.Errorf("seal: read chunk size: %w", err)
	}
	total += 4
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return total, fmt.Errorf("seal: read chunk count: %w", err)
	}
	total += 4
	h.ChunkOffsets = make([]uint64, count)
	for i := range h.ChunkOffsets {
		if err := binary.Read(r, binary.LittleEndian, &h.ChunkOffsets[i]); err != nil {
			return total, fmt.Errorf("seal: read chunk offset %d: %w", i, err)
		}
		total += 8
	}
	h.PlaintextSizes = make([]uint32, count)
	for i := range h.PlaintextSizes {
		if err := binary.Read(r, binary.LittleEndian, &h.PlaintextSizes[i]); err != nil {
			return total, fmt.Errorf("seal: read plaintext size %d: %w", i, err)
		}
		total += 4
	}
	return total, nil
}

// ChunkCount reports how many chunks are indexed.
func (h *ChunkIndex) ChunkCount() uint32 { return uint32(len(h.ChunkOffsets)) }

// AddChunk appends a newly written chunk's offset and plaintext size.
func (h *ChunkIndex) AddChunk(offset uint64, plaintextSize uint32) {
	h.ChunkOffsets = append(h.ChunkOffsets, offset)
	h.PlaintextSizes = append(h.PlaintextSizes, plaintextSize)
}

// SetChunk overwrites the entry for an existing chunk in place.
func (h *ChunkIndex) SetChunk(idx uint32, offset uint64, plaintextSize uint32) {
	h.ChunkOffsets[idx] = offset
	h.PlaintextSizes[idx] = plaintextSize
}

// Truncate drops every chunk from idx onward.
func (h *ChunkIndex) Truncate(idx uint32) {
	h.ChunkOffsets = h.ChunkOffsets[:idx]
	h.PlaintextSizes = h.PlaintextSizes[:idx]
}

// TotalPlaintextSize is the sum of every chunk's plaintext size.
func (h *ChunkIndex) TotalPlaintextSize() int64 {
	var total int64
	for _, size := range h.PlaintextSizes {
		total += int64(size)
	}
	return total
}

// ValidateChunkSize enforces that size falls within [MinChunkSize, MaxChunkSize].
func ValidateChunkSize(size uint32) error {
	if size < MinChunkSize {
		return fmt.Errorf("seal: chunk size %d below minimum %d", size, MinChunkSize)
	}
	if size > MaxChunkSize {
		return fmt.Errorf("seal: chunk size %d above maximum %d", size, MaxChunkSize)
	}
	return nil
}
