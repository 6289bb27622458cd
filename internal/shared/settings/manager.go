package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// ErrUnknownModule is returned by Update for a module key nobody owns.
var ErrUnknownModule = errors.New("unknown settings module")

// SettingsManager 是运行时配置的核心管理器。
// Reads are lock-free through an atomic pointer; updates persist to disk and
// notify subscribers of the changed module.
type SettingsManager struct {
	filePath    string
	settings    atomic.Value // *RuntimeSettings
	subscribers map[string][]ConfigurableModule
	mu          sync.RWMutex
}

// NewSettingsManager loads filePath, creating it with defaults when missing.
// An empty path keeps everything in memory.
func NewSettingsManager(filePath string) (*SettingsManager, error) {
	sm := &SettingsManager{
		filePath:    filePath,
		subscribers: make(map[string][]ConfigurableModule),
	}

	if filePath == "" {
		sm.settings.Store(createDefaultSettings())
		return sm, nil
	}

	if err := sm.load(); err != nil {
		return nil, fmt.Errorf("failed to load initial settings: %w", err)
	}
	return sm, nil
}

func (sm *SettingsManager) load() error {
	data, err := os.ReadFile(sm.filePath)
	settings := &RuntimeSettings{}

	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read settings file: %w", err)
		}
		log.Warn().Str("path", sm.filePath).Msg("settings.json not found, creating with default values.")
		settings = createDefaultSettings()
		if err := sm.persist(settings); err != nil {
			return fmt.Errorf("failed to write default settings file: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, settings); err != nil {
			return fmt.Errorf("failed to parse settings.json: %w", err)
		}
		ensureDefaultModules(settings)
	}

	sm.settings.Store(settings)
	return nil
}

// Register subscribes module to updates of moduleKey.
func (sm *SettingsManager) Register(moduleKey string, module ConfigurableModule) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.subscribers[moduleKey] = append(sm.subscribers[moduleKey], module)
}

// Get 返回当前运行时配置的一个快照。
func (sm *SettingsManager) Get() *RuntimeSettings {
	return sm.settings.Load().(*RuntimeSettings)
}

// Update decodes newSettingsData onto a copy of moduleKey, persists the
// result, swaps it in and notifies subscribers synchronously.
func (sm *SettingsManager) Update(moduleKey string, newSettingsData json.RawMessage) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	newSettings := deepCopy(sm.Get())
	targetModule := getModuleByKey(newSettings, moduleKey)
	if targetModule == nil {
		return fmt.Errorf("%w: %s", ErrUnknownModule, moduleKey)
	}
	if err := json.Unmarshal(newSettingsData, targetModule); err != nil {
		return fmt.Errorf("failed to parse JSON for module %s: %w", moduleKey, err)
	}

	if sm.filePath != "" {
		if err := sm.persist(newSettings); err != nil {
			return fmt.Errorf("failed to save updated settings to disk: %w", err)
		}
	}
	sm.settings.Store(newSettings)

	sm.notifyLocked(moduleKey, targetModule)
	return nil
}

// NotifyAll pushes the current value of every module to its subscribers;
// used once at startup.
func (sm *SettingsManager) NotifyAll() {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	current := sm.Get()
	for _, key := range []string{ModuleProxy, ModuleBridge} {
		sm.notifyLocked(key, getModuleByKey(current, key))
	}
}

func (sm *SettingsManager) persist(settings *RuntimeSettings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(sm.filePath, data, 0644)
}

// notifyLocked must be called with sm.mu held (read or write).
func (sm *SettingsManager) notifyLocked(moduleKey string, newSettings interface{}) {
	subscribers := sm.subscribers[moduleKey]
	if len(subscribers) == 0 {
		return
	}
	log.Debug().Str("module", moduleKey).Int("subscribers", len(subscribers)).Msg("Notifying subscribers of settings update.")
	for _, sub := range subscribers {
		if err := sub.OnSettingsUpdate(moduleKey, newSettings); err != nil {
			log.Error().Err(err).Str("module", moduleKey).Msg("Error notifying subscriber.")
		}
	}
}

// --- 辅助函数 ---

func deepCopy(s *RuntimeSettings) *RuntimeSettings {
	newS := &RuntimeSettings{}
	if s.Proxy != nil {
		newS.Proxy = &ProxySettings{ExtraBypass: append([]string{}, s.Proxy.ExtraBypass...)}
	}
	if s.Bridge != nil {
		newS.Bridge = &BridgeSettings{AllowedOrigins: append([]string{}, s.Bridge.AllowedOrigins...)}
	}
	return newS
}

func getModuleByKey(s *RuntimeSettings, key string) interface{} {
	switch key {
	case ModuleProxy:
		return s.Proxy
	case ModuleBridge:
		return s.Bridge
	default:
		return nil
	}
}
