package securecrypt

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

// Algorithm 定义了支持的加密算法类型
type Algorithm string

const (
	CHACHA20_POLY1305 Algorithm = "chacha20"
	AES_256_GCM       Algorithm = "aes-gcm"
)

type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates the default (XChaCha20-Poly1305) cipher for a secret.
func NewCipher(secret string) (*Cipher, error) {
	return NewCipherWithAlgo(secret, CHACHA20_POLY1305)
}

// NewCipherWithAlgo derives a 256-bit key from secret and builds the AEAD
// for algo. Unknown algorithms fall back to XChaCha20-Poly1305.
func NewCipherWithAlgo(secret string, algo Algorithm) (*Cipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty secret")
	}
	hash := sha256.Sum256([]byte("urproxy-storage-v1:" + secret))
	finalKey := hash[:]

	var aead cipher.AEAD
	var err error

	switch algo {
	case AES_256_GCM:
		aead, err = newAESGCMAEAD(finalKey)
	default:
		aead, err = newChaCha20AEAD(finalKey)
	}
	if err != nil {
		return nil, err
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext behind a random nonce prefix.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *Cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext is too short")
	}
	nonce, encryptedMessage := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, encryptedMessage, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}
