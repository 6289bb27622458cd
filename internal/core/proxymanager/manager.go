// Package proxymanager owns the host proxy lifecycle: it turns a proxy
// config into a live host setting, mirrors it to durable storage, and
// reconciles the two at startup.
package proxymanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"urproxy/internal/shared/logger"
	"urproxy/internal/shared/settings"
	"urproxy/internal/shared/storage"
	"urproxy/internal/shared/types"
	"urproxy/internal/sys/hostproxy"
)

// Phase is the manager's lifecycle position.
type Phase int

const (
	PhaseUnknown Phase = iota // before Reconcile
	PhaseDisabled
	PhaseEnabled
)

func (p Phase) String() string {
	switch p {
	case PhaseDisabled:
		return "disabled"
	case PhaseEnabled:
		return "enabled"
	default:
		return "unknown"
	}
}

// Manager is the single lifecycle authority for the host proxy setting.
// Construct one per process and share it.
type Manager struct {
	host  hostproxy.Host
	store storage.Store
	log   zerolog.Logger

	// sem serializes transitions; a send acquires the slot.
	sem chan struct{}

	mu         sync.RWMutex
	state      types.ProxyState
	reconciled bool
	bypass     []string
	observers  []func(types.ProxyState)
}

// New creates a manager in the Unknown phase with a disabled state.
func New(host hostproxy.Host, store storage.Store) *Manager {
	return &Manager{
		host:  host,
		store: store,
		log:   logger.WithComponent("ProxyManager"),
		sem:   make(chan struct{}, 1),
	}
}

// State returns a copy of the current state. It never waits on a transition.
func (m *Manager) State() types.ProxyState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// Phase reports where the manager is in its lifecycle.
func (m *Manager) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case !m.reconciled:
		return PhaseUnknown
	case m.state.Enabled:
		return PhaseEnabled
	default:
		return PhaseDisabled
	}
}

// OnChange registers fn to be called after every committed state change.
func (m *Manager) OnChange(fn func(types.ProxyState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// OnSettingsUpdate applies extra bypass entries from the "proxy" settings
// module. They take effect on the next Enable.
func (m *Manager) OnSettingsUpdate(moduleKey string, newSettings interface{}) error {
	ps, ok := newSettings.(*settings.ProxySettings)
	if !ok || ps == nil {
		return fmt.Errorf("unexpected settings type %T for module %s", newSettings, moduleKey)
	}
	m.mu.Lock()
	m.bypass = append([]string(nil), ps.ExtraBypass...)
	m.mu.Unlock()
	return nil
}

// ActualState reads the live host setting without touching bookkeeping.
// A host error reads as disabled.
func (m *Manager) ActualState(ctx context.Context) types.ProxyState {
	v, err := m.host.Get(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("Error getting host proxy state.")
		return types.ProxyState{}
	}
	if !v.Active() {
		return types.ProxyState{}
	}
	return types.ProxyState{Enabled: true, Config: configFromRule(*v.Rule)}
}

// Enable routes the host through cfg. The state changes only after the
// host accepted the setting and the durable record was written.
func (m *Manager) Enable(ctx context.Context, cfg types.ProxyConfig) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	if !m.isReconciled() {
		return ErrNotReconciled
	}
	// Once the slot is held the transition runs to completion: a host call
	// cannot be taken back, and the bookkeeping after it must not be cut
	// short by the caller going away.
	return m.enableLocked(context.WithoutCancel(ctx), cfg)
}

// Disable returns the host to direct mode. The host call is always issued,
// even when the manager already believes it is disabled.
func (m *Manager) Disable(ctx context.Context) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	if !m.isReconciled() {
		return ErrNotReconciled
	}
	return m.disableLocked(context.WithoutCancel(ctx))
}

func (m *Manager) enableLocked(ctx context.Context, cfg types.ProxyConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	m.mu.RLock()
	bypass := m.bypass
	m.mu.RUnlock()

	prev := m.snapshotHost(ctx)
	if err := m.host.Set(ctx, hostproxy.Fixed(cfg, bypass...)); err != nil {
		m.log.Error().Err(err).Str("host", cfg.Host).Msg("Host rejected proxy enable.")
		return &HostError{Op: "set", Err: err}
	}

	if err := m.persist(ctx, true, &cfg); err != nil {
		return m.rollback(ctx, prev, err)
	}

	m.commit(types.ProxyState{Enabled: true, Config: cfg.Clone()})
	m.log.Info().Str("scheme", string(cfg.Scheme)).Str("host", cfg.Host).Int("port", cfg.Port).Msg("Proxy enabled.")
	return nil
}

func (m *Manager) disableLocked(ctx context.Context) error {
	prev := m.snapshotHost(ctx)
	if err := m.host.Set(ctx, hostproxy.Direct()); err != nil {
		m.log.Error().Err(err).Msg("Host rejected proxy disable.")
		return &HostError{Op: "set", Err: err}
	}

	if err := m.persist(ctx, false, nil); err != nil {
		return m.rollback(ctx, prev, err)
	}

	m.commit(types.ProxyState{})
	m.log.Info().Msg("Proxy disabled.")
	return nil
}

// snapshotHost captures the live value so a failed durable write can be
// rolled back. A read failure leaves nothing to roll back to.
func (m *Manager) snapshotHost(ctx context.Context) *hostproxy.Value {
	v, err := m.host.Get(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("Could not snapshot host proxy before transition.")
		return nil
	}
	return &v
}

// rollback restores the previous host value after a durable write failed,
// so host, memory and storage keep agreeing.
func (m *Manager) rollback(ctx context.Context, prev *hostproxy.Value, cause error) error {
	if prev == nil {
		m.log.Error().Err(cause).Msg("Durable write failed and no host snapshot to restore; next startup will reconcile.")
		return cause
	}
	if err := m.host.Set(ctx, *prev); err != nil {
		m.log.Error().Err(err).Msg("Failed to restore host proxy after durable write failure.")
		return errors.Join(cause, &HostError{Op: "set", Err: err})
	}
	m.log.Warn().Err(cause).Msg("Durable write failed, host proxy restored to previous value.")
	return cause
}

// persist writes the durable record. Disabling stores enabled=false and
// removes the config blob.
func (m *Manager) persist(ctx context.Context, enabled bool, cfg *types.ProxyConfig) error {
	if !enabled {
		if err := m.store.Set(ctx, storage.KeyProxyEnabled, "false"); err != nil {
			return &StorageError{Op: "set", Key: storage.KeyProxyEnabled, Err: err}
		}
		if err := m.store.Remove(ctx, storage.KeyProxyConfig); err != nil {
			return &StorageError{Op: "remove", Key: storage.KeyProxyConfig, Err: err}
		}
		return nil
	}

	// The flag goes first: if the blob write then fails, the previous blob
	// still describes the host value rollback restores.
	blob, err := json.Marshal(cfg)
	if err != nil {
		return &StorageError{Op: "encode", Key: storage.KeyProxyConfig, Err: err}
	}
	if err := m.store.Set(ctx, storage.KeyProxyEnabled, "true"); err != nil {
		return &StorageError{Op: "set", Key: storage.KeyProxyEnabled, Err: err}
	}
	if err := m.store.Set(ctx, storage.KeyProxyConfig, string(blob)); err != nil {
		return &StorageError{Op: "set", Key: storage.KeyProxyConfig, Err: err}
	}
	return nil
}

// loadRecord reads the durable record. A missing record is (false, nil, nil).
func (m *Manager) loadRecord(ctx context.Context) (bool, *types.ProxyConfig, error) {
	enabled, err := m.store.Get(ctx, storage.KeyProxyEnabled)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, nil, &StorageError{Op: "get", Key: storage.KeyProxyEnabled, Err: err}
	}
	blob, err := m.store.Get(ctx, storage.KeyProxyConfig)
	if errors.Is(err, storage.ErrNotFound) {
		return enabled == "true", nil, nil
	}
	if err != nil {
		return false, nil, &StorageError{Op: "get", Key: storage.KeyProxyConfig, Err: err}
	}
	var cfg types.ProxyConfig
	if err := json.Unmarshal([]byte(blob), &cfg); err != nil {
		return false, nil, &StorageError{Op: "decode", Key: storage.KeyProxyConfig, Err: err}
	}
	return enabled == "true", &cfg, nil
}

// commit is the only place state is assigned; enabled and config change
// together.
func (m *Manager) commit(s types.ProxyState) {
	if s.Enabled != (s.Config != nil) {
		panic("proxymanager: enabled/config invariant violated")
	}
	m.mu.Lock()
	m.state = s.Clone()
	observers := append([]func(types.ProxyState){}, m.observers...)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(s.Clone())
	}
}

func (m *Manager) isReconciled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reconciled
}

// acquire waits for the transition slot or the context, whichever first.
func (m *Manager) acquire(ctx context.Context) error {
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) release() {
	<-m.sem
}

func configFromRule(r hostproxy.Rule) *types.ProxyConfig {
	return &types.ProxyConfig{Scheme: r.Scheme, Host: r.Host, Port: r.Port}
}
