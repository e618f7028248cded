package seal

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestDeriveTweak_Deterministic(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var id [16]byte
	copy(id[:], []byte("some-inode-ident"))

	t1, err := DeriveTweak(key, id)
	if err != nil {
		t.Fatalf("DeriveTweak: %v", err)
	}
	t2, err := DeriveTweak(key, id)
	if err != nil {
		t.Fatalf("DeriveTweak: %v", err)
	}
	if !bytes.Equal(t1, t2) {
		t.Errorf("tweak is not deterministic:\nfirst:  %x\nsecond: %x", t1, t2)
	}
	if len(t1) != TweakSize {
		t.Errorf("tweak length = %d, want %d", len(t1), TweakSize)
	}
}

func TestDeriveTweak_DistinctIDs(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var id1, id2 [16]byte
	copy(id1[:], []byte("inode-one-------"))
	copy(id2[:], []byte("inode-two-------"))

	t1, err := DeriveTweak(key, id1)
	if err != nil {
		t.Fatalf("DeriveTweak: %v", err)
	}
	t2, err := DeriveTweak(key, id2)
	if err != nil {
		t.Fatalf("DeriveTweak: %v", err)
	}
	if bytes.Equal(t1, t2) {
		t.Error("distinct ids produced identical tweaks")
	}
}

func TestDeriveTweak_DistinctKeys(t *testing.T) {
	var id [16]byte
	copy(id[:], []byte("same-inode------"))

	key1 := bytes.Repeat([]byte{0x01}, 32)
	key2 := bytes.Repeat([]byte{0x02}, 32)

	t1, err := DeriveTweak(key1, id)
	if err != nil {
		t.Fatalf("DeriveTweak: %v", err)
	}
	t2, err := DeriveTweak(key2, id)
	if err != nil {
		t.Fatalf("DeriveTweak: %v", err)
	}
	if bytes.Equal(t1, t2) {
		t.Error("distinct keys produced identical tweaks")
	}
}

func TestDeriveTweak_InvalidKeySize(t *testing.T) {
	tests := []struct {
		name    string
		keySize int
	}{
		{"too short", 16},
		{"too long", 48},
		{"empty", 0},
	}
	var id [16]byte

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := make([]byte, tt.keySize)
			if _, err := DeriveTweak(key, id); err == nil {
				t.Error("DeriveTweak should have failed with invalid key size")
			}
		})
	}
}
