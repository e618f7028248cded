// Package seal implements an authenticated, random-access encrypted
// byte stream over a pair of backing streams.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// CipherSuite selects the AEAD primitive sealing every chunk.
type CipherSuite int

const (
	AES256GCM CipherSuite = iota + 1
	ChaCha20Poly1305
)

// Engine is the AEAD contract every chunk is sealed/opened through.
type Engine interface {
	Encrypt(nonce, plaintext []byte) ([]byte, error)
	Decrypt(nonce, ciphertext []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

// NewEngine constructs the Engine for the given suite and 32-byte key.
func NewEngine(suite CipherSuite, key []byte) (Engine, error) {
	switch suite {
	case AES256GCM:
		return newAESGCMEngine(key)
	case ChaCha20Poly1305:
		return newChaCha20Poly1305Engine(key)
	default:
		return nil, fmt.Errorf("seal: unknown cipher suite %d", suite)
	}
}

type aesGCMEngine struct {
	aead cipher.AEAD
}

func newAESGCMEngine(key []byte) (*aesGCMEngine, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("seal: AES-256-GCM requires a 32-byte key, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("seal: aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("seal: gcm: %w", err)
	}
	return &aesGCMEngine{aead: aead}, nil
}

func (e *aesGCMEngine) Encrypt(nonce, plaintext []byte) ([]byte, error) {
	if len(nonce) != e.NonceSize() {
		return nil, fmt.Errorf("seal: nonce must be %d bytes, got %d", e.NonceSize(), len(nonce))
	}
	return e.aead.Seal(nil, nonce, plaintext, nil), nil
}

func (e *aesGCMEngine) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != e.NonceSize() {
		return nil, fmt.Errorf("seal: nonce must be %d bytes, got %d", e.NonceSize(), len(nonce))
	}
	return e.aead.Open(nil, nonce, ciphertext, nil)
}

func (e *aesGCMEngine) NonceSize() int { return e.aead.NonceSize() }
func (e *aesGCMEngine) Overhead() int  { return e.aead.Overhead() }

type chachaEngine struct {
	aead cipher.AEAD
}

func newChaCha20Poly1305Engine(key []byte) (*chachaEngine, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("seal: chacha20poly1305 requires a %d-byte key, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("seal: chacha20poly1305: %w", err)
	}
	return &chachaEngine{aead: aead}, nil
}

func (e *chachaEngine) Encrypt(nonce, plaintext []byte) ([]byte, error) {
	if len(nonce) != e.NonceSize() {
		return nil, fmt.Errorf("seal: nonce must be %d bytes, got %d", e.NonceSize(), len(nonce))
	}
	return e.aead.Seal(nil, nonce, plaintext, nil), nil
}

func (e *chachaEngine) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != e.NonceSize() {
		return nil, fmt.Errorf("seal: nonce must be %d bytes, got %d", e.NonceSize(), len(nonce))
	}
	return e.aead.Open(nil, nonce, ciphertext, nil)
}

func (e *chachaEngine) NonceSize() int { return e.aead.NonceSize() }
func (e *chachaEngine) Overhead() int  { return e.aead.Overhead() }

// GenerateNonce fills a fresh random nonce of the engine's nonce size.
func GenerateNonce(e Engine) ([]byte, error) {
	nonce := make([]byte, e.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal: generate nonce: %w", err)
	}
	return nonce, nil
}
