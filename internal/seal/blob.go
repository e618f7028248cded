package seal

import (
	"fmt"
)

// WriteBlob seals plaintext as a single AEAD record (nonce || ciphertext)
// and writes it to b starting at offset 0, truncating b first. Used for
// payloads too small to benefit from chunking: symlink targets and
// whole directory tables, both of which this filesystem rewrites in
// full on every flush rather than chunk.
func WriteBlob(b Backing, engine Engine, plaintext []byte) error {
	nonce, err := GenerateNonce(engine)
	if err != nil {
		return err
	}
	ct, err := engine.Encrypt(nonce, plaintext)
	if err != nil {
		return fmt.Errorf("seal: seal blob: %w", err)
	}
	if err := b.Truncate(0); err != nil {
		return fmt.Errorf("seal: truncate blob stream: %w", err)
	}
	if _, err := b.WriteAt(nonce, 0); err != nil {
		return fmt.Errorf("seal: write blob nonce: %w", err)
	}
	if _, err := b.WriteAt(ct, int64(len(nonce))); err != nil {
		return fmt.Errorf("seal: write blob ciphertext: %w", err)
	}
	return b.Sync()
}

// ReadBlob opens a blob previously written by WriteBlob. An empty
// stream (size 0, a freshly created inode with no payload yet) yields
// an empty plaintext rather than an error.
func ReadBlob(b Backing, engine Engine) ([]byte, error) {
	size, err := b.Size()
	if err != nil {
		return nil, fmt.Errorf("seal: stat blob stream: %w", err)
	}
	if size == 0 {
		return nil, nil
	}
	nonceSize := engine.NonceSize()
	if size < int64(nonceSize) {
		return nil, fmt.Errorf("seal: blob stream shorter than nonce")
	}
	nonce := make([]byte, nonceSize)
	if _, err := b.ReadAt(nonce, 0); err != nil {
		return nil, fmt.Errorf("seal: read blob nonce: %w", err)
	}
	ct := make([]byte, size-int64(nonceSize))
	if _, err := b.ReadAt(ct, int64(nonceSize)); err != nil {
		return nil, fmt.Errorf("seal: read blob ciphertext: %w", err)
	}
	pt, err := engine.Decrypt(nonce, ct)
	if err != nil {
		return nil, fmt.Errorf("seal: authenticate blob: %w", ErrAuthFailed)
	}
	return pt, nil
}
