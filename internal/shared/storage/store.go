// Package storage is the durable key-value store that survives restarts.
package storage

import (
	"context"
	"errors"
	"fmt"

	"urproxy/internal/shared/securecrypt"
	"urproxy/internal/shared/types"
)

// Well-known keys.
const (
	KeyProxyEnabled    = "proxy_enabled"
	KeyProxyConfig     = "proxy_config"
	KeyJWT             = "by_jwt"
	KeyNetworkName     = "network_name"
	KeyConnectLocation = "connect_location"
	KeyClientID        = "client_id"
	KeyClientJWT       = "by_client_jwt"
	KeyNetworkClientID = "network_client_id"
)

// ErrNotFound is returned by Get for a key that was never set or was removed.
var ErrNotFound = errors.New("storage: key not found")

// Store 定义了持久化键值存储的行为。值统一为字符串，结构化数据由调用方序列化为 JSON。
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// Open builds the store selected by cfg. Sensitive keys are sealed when a
// secret is configured.
func Open(cfg types.StorageConf) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Backend {
	case "", "file":
		s, err = NewFileStore(cfg.Path)
	case "sqlite":
		s, err = NewSQLiteStore(cfg.Path)
	case "memory":
		s = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Secret == "" {
		return s, nil
	}
	c, err := securecrypt.NewCipherWithAlgo(cfg.Secret, securecrypt.Algorithm(cfg.Cipher))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create storage cipher: %w", err)
	}
	return NewSealed(s, c, KeyProxyConfig, KeyJWT, KeyClientJWT), nil
}
