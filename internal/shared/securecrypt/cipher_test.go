package securecrypt

import (
	"bytes"
	"testing"
)

func TestCipher_RoundTrip(t *testing.T) {
	for _, algo := range []Algorithm{CHACHA20_POLY1305, AES_256_GCM} {
		c, err := NewCipherWithAlgo("secret", algo)
		if err != nil {
			t.Fatalf("%s: NewCipherWithAlgo() error: %v", algo, err)
		}
		plain := []byte(`{"username":"u","password":"p"}`)
		sealed, err := c.Encrypt(plain)
		if err != nil {
			t.Fatalf("%s: Encrypt() error: %v", algo, err)
		}
		if bytes.Contains(sealed, []byte("password")) {
			t.Errorf("%s: ciphertext leaks plaintext", algo)
		}
		opened, err := c.Decrypt(sealed)
		if err != nil {
			t.Fatalf("%s: Decrypt() error: %v", algo, err)
		}
		if !bytes.Equal(opened, plain) {
			t.Errorf("%s: got %q, want %q", algo, opened, plain)
		}
	}
}

func TestCipher_WrongSecret(t *testing.T) {
	a, _ := NewCipher("one")
	b, _ := NewCipher("two")
	sealed, err := a.Encrypt([]byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Decrypt(sealed); err == nil {
		t.Error("expected decryption with a different secret to fail")
	}
	if _, err := b.Decrypt([]byte{1, 2}); err == nil {
		t.Error("expected short ciphertext to fail")
	}
}

func TestNewCipher_EmptySecret(t *testing.T) {
	if _, err := NewCipher(""); err == nil {
		t.Error("expected error for empty secret")
	}
}
