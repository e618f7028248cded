package seal

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func newTestEngine(t *testing.T, suite CipherSuite) Engine {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	e, err := NewEngine(suite, key)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestEngine_EncryptDecryptRoundTrip(t *testing.T) {
	suites := []struct {
		name  string
		suite CipherSuite
	}{
		{"aes256gcm", AES256GCM},
		{"chacha20poly1305", ChaCha20Poly1305},
	}

	for _, s := range suites {
		t.Run(s.name, func(t *testing.T) {
			e := newTestEngine(t, s.suite)
			nonce := make([]byte, e.NonceSize())
			plaintexts := [][]byte{
				[]byte(""),
				[]byte("x"),
				bytes.Repeat([]byte("A"), 4096),
			}
			for _, pt := range plaintexts {
				ct, err := e.Encrypt(nonce, pt)
				if err != nil {
					t.Fatalf("Encrypt: %v", err)
				}
				if len(ct) != len(pt)+e.Overhead() {
					t.Errorf("ciphertext length = %d, want %d", len(ct), len(pt)+e.Overhead())
				}
				got, err := e.Decrypt(nonce, ct)
				if err != nil {
					t.Fatalf("Decrypt: %v", err)
				}
				if !bytes.Equal(got, pt) {
					t.Errorf("round trip mismatch: got %q, want %q", got, pt)
				}
			}
		})
	}
}

func TestEngine_TamperedCiphertextFailsAuth(t *testing.T) {
	e := newTestEngine(t, AES256GCM)
	nonce := make([]byte, e.NonceSize())
	ct, err := e.Encrypt(nonce, []byte("authenticate me"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	ct[len(ct)-1] ^= 0x01
	if _, err := e.Decrypt(nonce, ct); err == nil {
		t.Error("Decrypt should fail on tampered ciphertext")
	}
}

func TestEngine_WrongNonceFailsAuth(t *testing.T) {
	e := newTestEngine(t, ChaCha20Poly1305)
	nonce := make([]byte, e.NonceSize())
	ct, err := e.Encrypt(nonce, []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	wrongNonce := make([]byte, e.NonceSize())
	wrongNonce[0] = 0xff
	if _, err := e.Decrypt(wrongNonce, ct); err == nil {
		t.Error("Decrypt should fail with the wrong nonce")
	}
}

func TestEngine_RejectsWrongNonceSize(t *testing.T) {
	e := newTestEngine(t, AES256GCM)
	if _, err := e.Encrypt(make([]byte, e.NonceSize()+1), []byte("x")); err == nil {
		t.Error("Encrypt should reject a nonce of the wrong size")
	}
}

func TestNewEngine_RejectsWrongKeySize(t *testing.T) {
	tests := []struct {
		name  string
		suite CipherSuite
	}{
		{"aes256gcm", AES256GCM},
		{"chacha20poly1305", ChaCha20Poly1305},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEngine(tt.suite, make([]byte, 16)); err == nil {
				t.Error("NewEngine should reject an undersized key")
			}
		})
	}
}

func TestNewEngine_RejectsUnknownSuite(t *testing.T) {
	if _, err := NewEngine(CipherSuite(99), make([]byte, 32)); err == nil {
		t.Error("NewEngine should reject an unknown cipher suite")
	}
}

func TestGenerateNonce(t *testing.T) {
	e := newTestEngine(t, AES256GCM)
	n1, err := GenerateNonce(e)
	if err != nil {
		t.Fatalf("GenerateNonce: %v", err)
	}
	n2, err := GenerateNonce(e)
	if err != nil {
		t.Fatalf("GenerateNonce: %v", err)
	}
	if len(n1) != e.NonceSize() {
		t.Errorf("nonce length = %d, want %d", len(n1), e.NonceSize())
	}
	if bytes.Equal(n1, n2) {
		t.Error("two generated nonces were identical")
	}
}
