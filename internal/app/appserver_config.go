package app

import (
	"urproxy/internal/shared/logger"
	"urproxy/internal/shared/settings"
)

// wireSettings subscribes components to their settings modules and pushes
// the values loaded from settings.json once.
func (s *AppServer) wireSettings() {
	s.settingsManager.Register(settings.ModuleProxy, s.manager)
	s.settingsManager.Register(settings.ModuleBridge, s.bridge)
	s.settingsManager.NotifyAll()

	current := s.settingsManager.Get()
	logger.Debug().
		Strs("extra_bypass", current.Proxy.ExtraBypass).
		Strs("allowed_origins", current.Bridge.AllowedOrigins).
		Msg("[AppServer] Runtime settings applied.")
}

// SettingsManager exposes the runtime settings, e.g. for the mobile facade.
func (s *AppServer) SettingsManager() *settings.SettingsManager {
	return s.settingsManager
}
