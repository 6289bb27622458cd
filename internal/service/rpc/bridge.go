package rpc

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"urproxy/internal/shared/logger"
	"urproxy/internal/shared/settings"
	"urproxy/internal/shared/storage"
	"urproxy/internal/shared/types"
)

// Notifier pushes a message to every open UI.
type Notifier interface {
	Broadcast(v interface{})
}

// Bridge accepts auth tokens from allow-listed web origins.
type Bridge struct {
	store    storage.Store
	notifier Notifier
	log      zerolog.Logger

	mu       sync.RWMutex
	defaults []string
	allowed  []string
}

// NewBridge creates a bridge allowing origins; notifier may be nil.
func NewBridge(store storage.Store, notifier Notifier, origins []string) *Bridge {
	return &Bridge{
		store:    store,
		notifier: notifier,
		log:      logger.WithComponent("RPC/Bridge"),
		defaults: append([]string(nil), origins...),
		allowed:  append([]string(nil), origins...),
	}
}

// OnSettingsUpdate replaces the allow-list from the "bridge" settings
// module; an empty list restores the configured defaults.
func (b *Bridge) OnSettingsUpdate(moduleKey string, newSettings interface{}) error {
	bs, ok := newSettings.(*settings.BridgeSettings)
	if !ok || bs == nil {
		return fmt.Errorf("unexpected settings type %T for module %s", newSettings, moduleKey)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(bs.AllowedOrigins) == 0 {
		b.allowed = append([]string(nil), b.defaults...)
	} else {
		b.allowed = append([]string(nil), bs.AllowedOrigins...)
	}
	return nil
}

// Allowed reports whether senderURL's host is an allowed domain or one of
// its subdomains.
func (b *Bridge) Allowed(senderURL string) bool {
	u, err := url.Parse(senderURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, domain := range b.allowed {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain != "" && (host == domain || strings.HasSuffix(host, "."+domain)) {
			return true
		}
	}
	return false
}

// HandleExternal processes a message from a web page. Unauthorized senders
// are rejected before anything is stored.
func (b *Bridge) HandleExternal(ctx context.Context, senderURL string, msg types.ExternalMessage) types.Response {
	if !b.Allowed(senderURL) {
		b.log.Error().Str("sender", senderURL).Msg("Message from unauthorized origin.")
		return failure(ErrUnauthorizedOrigin)
	}

	if msg.Type != types.MsgSetJWT || msg.JWT == "" {
		return failure(ErrUnknownMessageType)
	}

	if err := b.store.Set(ctx, storage.KeyJWT, msg.JWT); err != nil {
		b.log.Error().Err(err).Msg("Failed to store JWT.")
		return failure(err)
	}
	if msg.NetworkName != "" {
		if err := b.store.Set(ctx, storage.KeyNetworkName, msg.NetworkName); err != nil {
			b.log.Error().Err(err).Msg("Failed to store network name.")
			return failure(err)
		}
	}
	b.log.Info().Str("network", msg.NetworkName).Msg("JWT stored.")

	if b.notifier != nil {
		b.notifier.Broadcast(types.JWTNotice{Type: types.MsgJWTReceived, JWT: msg.JWT, NetworkName: msg.NetworkName})
	}
	return types.Response{Success: true}
}
