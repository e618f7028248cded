package cryptofs

import (
	"io"

	"github.com/cryptofs/cryptofs/internal/seal"
)

// RegularFile is a byte-addressable file over a CryptoStream, using
// chunked random-access reads/writes with Truncate fully implemented
// (growing with zero bytes, shrinking with a re-sealed last chunk).
type RegularFile struct {
	*FileBase
	stream *seal.Stream
}

func createRegularFile(fb *FileBase) (*RegularFile, error) {
	s, err := seal.Create(fb.dataBacking, fb.payloadMeta(), fb.sealParams())
	if err != nil {
		return nil, NewError(IO, "RegularFile.create", err).WithPath(fb.id.String())
	}
	return &RegularFile{FileBase: fb, stream: s}, nil
}

func openRegularFile(fb *FileBase) (*RegularFile, error) {
	s, err := seal.Open(fb.dataBacking, fb.payloadMeta(), fb.sealParams())
	if err != nil {
		return nil, NewError(Corrupted, "RegularFile.open", err).WithPath(fb.id.String())
	}
	return &RegularFile{FileBase: fb, stream: s}, nil
}

// Read returns 0 at/after EOF; short reads occur only at EOF. Caller
// must hold the inode lock.
func (r *RegularFile) Read(buf []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, invalidArgf("RegularFile.read", "negative offset %d", offset)
	}
	n, err := r.stream.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		if seal.IsAuthFailure(err) {
			return n, NewError(Corrupted, "RegularFile.read", err).WithPath(r.id.String())
		}
		return n, NewError(IO, "RegularFile.read", err).WithPath(r.id.String())
	}
	return n, nil
}

// Write extends the file if offset+len > size, zero-filling any hole.
// Caller must hold the inode lock.
func (r *RegularFile) Write(buf []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, invalidArgf("RegularFile.write", "negative offset %d", offset)
	}
	n, err := r.stream.WriteAt(buf, offset)
	if err != nil {
		return n, NewError(IO, "RegularFile.write", err).WithPath(r.id.String())
	}
	if offset+int64(n) > r.hdr.Size {
		r.setSizeLocked(offset + int64(n))
	} else {
		r.touchLocked()
	}
	return n, nil
}

// Truncate grows with zero bytes or shrinks discarding the tail,
// re-authenticating the new last block. Caller must hold the inode
// lock.
func (r *RegularFile) Truncate(newSize int64) error {
	if newSize < 0 {
		return invalidArgf("RegularFile.truncate", "negative size %d", newSize)
	}
	if err := r.stream.Truncate(newSize); err != nil {
		if seal.IsAuthFailure(err) {
			return NewError(Corrupted, "RegularFile.truncate", err).WithPath(r.id.String())
		}
		return NewError(IO, "RegularFile.truncate", err).WithPath(r.id.String())
	}
	r.setSizeLocked(newSize)
	return nil
}

// Size returns the current payload length.
func (r *RegularFile) Size() int64 {
	return r.stream.Size()
}

// Flush persists the header and the chunk index/pending chunk data.
func (r *RegularFile) Flush() error {
	if err := r.stream.Flush(); err != nil {
		return NewError(IO, "RegularFile.flush", err).WithPath(r.id.String())
	}
	return r.FileBase.Flush()
}
