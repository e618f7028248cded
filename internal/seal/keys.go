package seal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// HashFunc selects the PBKDF2 pseudorandom function.
type HashFunc int

const (
	SHA256 HashFunc = iota + 1
	SHA512
)

// Argon2idParams configures Argon2id key derivation.
type Argon2idParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltSize    int
	KeySize     int
}

// PBKDF2Params configures PBKDF2 key derivation, kept as a legacy
// fallback alongside Argon2id.
type PBKDF2Params struct {
	Iterations int
	KeySize    int
	SaltSize   int
	HashFunc   HashFunc
}

// KeyProvider derives a master key from a salt.
type KeyProvider interface {
	DeriveKey(salt []byte) ([]byte, error)
	GenerateSalt() ([]byte, error)
}

// PasswordKeyProvider derives keys from a passphrase via Argon2id
// (recommended) or PBKDF2 (legacy).
type PasswordKeyProvider struct {
	password     []byte
	useArgon2id  bool
	pbkdf2Params PBKDF2Params
	argon2Params Argon2idParams
}

// NewArgon2idKeyProvider builds a provider using Argon2id, filling in
// defaults of 64 MiB memory, 3 iterations, 4 lanes, and 32-byte salt
// and key if left unset.
func NewArgon2idKeyProvider(password []byte, params Argon2idParams) *PasswordKeyProvider {
	if params.Memory == 0 {
		params.Memory = 64 * 1024
	}
	if params.Iterations == 0 {
		params.Iterations = 3
	}
	if params.Parallelism == 0 {
		params.Parallelism = 4
	}
	if params.SaltSize == 0 {
		params.SaltSize = 32
	}
	if params.KeySize == 0 {
		params.KeySize = 32
	}
	return &PasswordKeyProvider{password: password, useArgon2id: true, argon2Params: params}
}

// NewPBKDF2KeyProvider builds a provider using PBKDF2.
func NewPBKDF2KeyProvider(password []byte, params PBKDF2Params) *PasswordKeyProvider {
	if params.Iterations == 0 {
		params.Iterations = 100_000
	}
	if params.SaltSize == 0 {
		params.SaltSize = 32
	}
	if params.KeySize == 0 {
		params.KeySize = 32
	}
	if params.HashFunc == 0 {
		params.HashFunc = SHA256
	}
	return &PasswordKeyProvider{password: password, useArgon2id: false, pbkdf2Params: params}
}

func (p *PasswordKeyProvider) DeriveKey(salt []byte) ([]byte, error) {
	if len(p.password) == 0 {
		return nil, errors.New("seal: password cannot be empty")
	}
	if len(salt) == 0 {
		return nil, errors.New("seal: salt cannot be empty")
	}

	if p.useArgon2id {
		return argon2.IDKey(
			p.password,
			salt,
			p.argon2Params.Iterations,
			p.argon2Params.Memory,
			p.argon2Params.Parallelism,
			uint32(p.argon2Params.KeySize),
		), nil
	}

	var hashFunc func() hash.Hash
	switch p.pbkdf2Params.HashFunc {
	case SHA256:
		hashFunc = sha256.New
	case SHA512:
		hashFunc = sha512.New
	default:
		return nil, fmt.Errorf("seal: unsupported hash function: %v", p.pbkdf2Params.HashFunc)
	}

	return pbkdf2.Key(p.password, salt, p.pbkdf2Params.Iterations, p.pbkdf2Params.KeySize, hashFunc), nil
}

func (p *PasswordKeyProvider) GenerateSalt() ([]byte, error) {
	saltSize := p.pbkdf2Params.SaltSize
	if p.useArgon2id {
		saltSize = p.argon2Params.SaltSize
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("seal: generate salt: %w", err)
	}
	return salt, nil
}
