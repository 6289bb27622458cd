package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"urproxy/internal/core/health"
	"urproxy/internal/core/proxymanager"
	"urproxy/internal/sdk"
	"urproxy/internal/service/rpc"
	"urproxy/internal/service/web"
	"urproxy/internal/shared/globalstate"
	"urproxy/internal/shared/logger"
	"urproxy/internal/shared/settings"
	"urproxy/internal/shared/storage"
	"urproxy/internal/shared/types"
	"urproxy/internal/sys/hostproxy"
)

const shutdownTimeout = 5 * time.Second

// AppServer is the application's main struct. It owns one lifecycle manager
// and the surfaces that drive it.
type AppServer struct {
	cfg *types.Config

	settingsManager *settings.SettingsManager
	store           storage.Store
	host            hostproxy.Host

	manager *proxymanager.Manager
	handler *rpc.Handler
	bridge  *rpc.Bridge
	prober  *health.Prober

	hub    *web.Hub
	server *web.Server

	stopCh    chan struct{}
	waitGroup sync.WaitGroup
	stopOnce  sync.Once
}

// NewForPC builds the agent from ini configuration: the host backend and
// the durable store come from cfg, runtime settings live next to the ini.
func NewForPC(cfg *types.Config, configDir string) (*AppServer, error) {
	host, err := hostproxy.New(cfg.HostConf)
	if err != nil {
		return nil, fmt.Errorf("failed to open host proxy backend: %w", err)
	}
	store, err := storage.Open(cfg.StorageConf)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	s, err := New(cfg, host, store, filepath.Join(configDir, "settings.json"))
	if err != nil {
		store.Close()
		return nil, err
	}
	return s, nil
}

// New wires an AppServer around host and store. An empty settingsPath keeps
// runtime settings in memory, as the mobile facade does.
func New(cfg *types.Config, host hostproxy.Host, store storage.Store, settingsPath string) (*AppServer, error) {
	sm, err := settings.NewSettingsManager(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize settings manager: %w", err)
	}

	s := &AppServer{
		cfg:             cfg,
		settingsManager: sm,
		store:           store,
		host:            host,
		hub:             web.NewHub(),
		prober:          health.New(time.Duration(cfg.RemoteConf.Timeout)*time.Second, ""),
		stopCh:          make(chan struct{}),
	}
	s.manager = proxymanager.New(host, store)
	s.bridge = rpc.NewBridge(store, s.hub, cfg.BridgeConf.AllowedOrigins)

	var connector *rpc.Connector
	if cfg.RemoteConf.APIURL != "" {
		api := sdk.NewClient(cfg.RemoteConf.APIURL, time.Duration(cfg.RemoteConf.Timeout)*time.Second)
		connector = rpc.NewConnector(api, store, s.manager)
	}
	s.handler = rpc.NewHandler(s.manager, connector)

	s.wireSettings()
	s.manager.OnChange(s.onStateChange)

	webHandler := web.NewHandler(s.handler, s.bridge, s.manager, sm, s.prober)
	s.server = web.NewServer(cfg, webHandler, s.hub)
	return s, nil
}

// Start reconciles the host setting and then opens the RPC surface;
// nothing can request a transition before the manager knows the truth.
func (s *AppServer) Start(ctx context.Context) error {
	globalstate.GlobalStatus.Set(globalstate.StatusReconciling)
	if err := s.manager.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}
	logger.Info().Str("phase", s.manager.Phase().String()).Msg("Host proxy state reconciled.")

	go s.hub.Run()

	if s.cfg.LocalConf.WebPort > 0 {
		if err := s.server.Start(&s.waitGroup); err != nil {
			return err
		}
	} else {
		logger.Warn().Msg("RPC server is disabled (web_port is 0 or not set).")
	}

	if s.cfg.LocalConf.HealthInterval > 0 {
		s.waitGroup.Add(1)
		go s.healthCheckLoop(time.Duration(s.cfg.LocalConf.HealthInterval) * time.Second)
	}

	globalstate.GlobalStatus.Set(globalstate.StatusRunning)
	return nil
}

// Run starts the server and blocks until ctx is cancelled.
func (s *AppServer) Run(ctx context.Context) error {
	logger.Info().Str("mode", s.cfg.CommonConf.Mode).Msg("Starting urproxy agent...")
	if err := s.Start(ctx); err != nil {
		s.Stop()
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop gracefully shuts down the server. The host proxy setting is left as
// is: it is durable intent, and the next start reconciles it.
func (s *AppServer) Stop() {
	s.stopOnce.Do(func() {
		globalstate.GlobalStatus.Set(globalstate.StatusStopping)
		close(s.stopCh)

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("RPC server did not shut down cleanly.")
		}
		s.hub.Stop()
		s.waitGroup.Wait()

		if err := s.store.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close storage.")
		}
		logger.Info().Msg("urproxy agent stopped.")
	})
}

// Manager exposes the lifecycle manager to in-process callers.
func (s *AppServer) Manager() *proxymanager.Manager {
	return s.manager
}

// Handle runs one RPC message in-process.
func (s *AppServer) Handle(ctx context.Context, msg types.Message) types.Response {
	return s.handler.Handle(ctx, msg)
}

// Addr is the RPC server's listen address.
func (s *AppServer) Addr() string {
	return s.server.Addr()
}
