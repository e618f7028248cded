package seal

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"
)

// memBacking is a minimal in-memory Backing used to exercise
// WriteBlob/ReadBlob and Stream without a real filesystem underneath.
type memBacking struct {
	data []byte
}

func (m *memBacking) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memBacking) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[off:], p)
	return len(p), nil
}

func (m *memBacking) Truncate(size int64) error {
	if size <= int64(len(m.data)) {
		m.data = m.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, m.data)
	m.data = grown
	return nil
}

func (m *memBacking) Size() (int64, error) { return int64(len(m.data)), nil }
func (m *memBacking) Sync() error          { return nil }
func (m *memBacking) Close() error         { return nil }

func TestWriteBlobReadBlob_RoundTrip(t *testing.T) {
	e := newTestEngine(t, AES256GCM)
	b := &memBacking{}

	payloads := [][]byte{
		[]byte("a single symlink target"),
		bytes.Repeat([]byte("entry"), 200),
		[]byte(""),
	}
	for _, pt := range payloads {
		if err := WriteBlob(b, e, pt); err != nil {
			t.Fatalf("WriteBlob: %v", err)
		}
		got, err := ReadBlob(b, e)
		if err != nil {
			t.Fatalf("ReadBlob: %v", err)
		}
		if !bytes.Equal(got, pt) {
			t.Errorf("round trip mismatch: got %q, want %q", got, pt)
		}
	}
}

func TestReadBlob_EmptyStreamYieldsNilNotError(t *testing.T) {
	e := newTestEngine(t, AES256GCM)
	b := &memBacking{}
	pt, err := ReadBlob(b, e)
	if err != nil {
		t.Fatalf("ReadBlob on empty stream: %v", err)
	}
	if pt != nil {
		t.Errorf("expected nil plaintext for an empty blob stream, got %q", pt)
	}
}

func TestReadBlob_TamperedCiphertextFails(t *testing.T) {
	e := newTestEngine(t, AES256GCM)
	b := &memBacking{}
	if err := WriteBlob(b, e, []byte("protect me")); err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	b.data[len(b.data)-1] ^= 0x01
	if _, err := ReadBlob(b, e); err == nil {
		t.Error("ReadBlob should fail to authenticate a tampered blob")
	}
}

func TestReadBlob_TruncatedStreamFails(t *testing.T) {
	e := newTestEngine(t, AES256GCM)
	b := &memBacking{data: make([]byte, e.NonceSize()-1)}
	rand.Read(b.data)
	if _, err := ReadBlob(b, e); err == nil {
		t.Error("ReadBlob should fail when shorter than a nonce")
	}
}
