package proxymanager

import (
	"context"

	"urproxy/internal/shared/types"
)

// Reconcile resolves the live host setting against the durable record. It
// must run once, before any transition is accepted.
//
// The host is ground truth: other agents may have changed it. The durable
// record only says what this agent last intended.
func (m *Manager) Reconcile(ctx context.Context) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	m.mu.Lock()
	if m.reconciled {
		m.mu.Unlock()
		return ErrAlreadyReconciled
	}
	m.reconciled = true
	m.mu.Unlock()

	// writes below must not be abandoned halfway
	opCtx := context.WithoutCancel(ctx)

	live, err := m.host.Get(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("Error getting host proxy state, assuming direct.")
	}

	storedEnabled, stored, recErr := m.loadRecord(ctx)
	if recErr != nil {
		m.log.Warn().Err(recErr).Msg("Durable proxy record unreadable, ignoring it.")
		storedEnabled, stored = false, nil
	}

	if err == nil && live.Active() {
		cfg := configFromRule(*live.Rule)
		if stored != nil {
			m.mergeCredentials(cfg, stored)
		}
		if err := m.persist(opCtx, true, cfg); err != nil {
			m.log.Warn().Err(err).Msg("Failed to record reconciled proxy config.")
		}
		m.commit(types.ProxyState{Enabled: true, Config: cfg})
		m.log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("Restored proxy state from host settings.")
		return nil
	}

	if storedEnabled && stored != nil {
		m.log.Info().Str("host", stored.Host).Msg("Host is direct but a proxy was intended, re-applying.")
		if err := m.enableLocked(opCtx, *stored); err != nil {
			m.log.Error().Err(err).Msg("Failed to restore proxy state.")
		}
		return nil
	}

	m.commit(types.ProxyState{})
	m.log.Debug().Msg("No proxy active or intended.")
	return nil
}

// mergeCredentials copies stored credentials onto a host-derived config
// only when both point at the same endpoint.
func (m *Manager) mergeCredentials(cfg, stored *types.ProxyConfig) {
	if stored.Username == "" && stored.Password == "" {
		return
	}
	if stored.Host != cfg.Host || stored.EffectivePort() != cfg.EffectivePort() {
		m.log.Warn().
			Str("stored_host", stored.Host).
			Str("live_host", cfg.Host).
			Msg("Stored credentials belong to a different endpoint, dropping them.")
		return
	}
	cfg.Username = stored.Username
	cfg.Password = stored.Password
}
