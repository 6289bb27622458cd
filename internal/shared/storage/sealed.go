package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"urproxy/internal/shared/securecrypt"
)

const sealedPrefix = "sealed:v1:"

// Sealed encrypts the values of selected keys before they reach the
// underlying store. Values written before sealing was enabled are read back
// as plaintext.
type Sealed struct {
	inner  Store
	cipher *securecrypt.Cipher
	keys   map[string]struct{}
}

func NewSealed(inner Store, c *securecrypt.Cipher, keys ...string) *Sealed {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return &Sealed{inner: inner, cipher: c, keys: set}
}

func (s *Sealed) sealed(key string) bool {
	_, ok := s.keys[key]
	return ok
}

func (s *Sealed) Get(ctx context.Context, key string) (string, error) {
	v, err := s.inner.Get(ctx, key)
	if err != nil || !s.sealed(key) || !strings.HasPrefix(v, sealedPrefix) {
		return v, err
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("corrupt sealed value for %s: %w", key, err)
	}
	plain, err := s.cipher.Decrypt(raw)
	if err != nil {
		return "", fmt.Errorf("failed to unseal %s: %w", key, err)
	}
	return string(plain), nil
}

func (s *Sealed) Set(ctx context.Context, key, value string) error {
	if !s.sealed(key) {
		return s.inner.Set(ctx, key, value)
	}
	ct, err := s.cipher.Encrypt([]byte(value))
	if err != nil {
		return fmt.Errorf("failed to seal %s: %w", key, err)
	}
	return s.inner.Set(ctx, key, sealedPrefix+base64.StdEncoding.EncodeToString(ct))
}

func (s *Sealed) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, key)
}

func (s *Sealed) Close() error {
	return s.inner.Close()
}
