package securecrypt

import (
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// newChaCha20AEAD 使用 XChaCha20-Poly1305，Nonce 空间更大，适合随机 nonce。
func newChaCha20AEAD(key []byte) (cipher.AEAD, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create XChaCha20-Poly1305 instance: %w", err)
	}
	return aead, nil
}
