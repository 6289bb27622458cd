package settings

// ConfigurableModule 是所有希望其配置能被在线管理的模块必须实现的接口。
// newSettings is the already decoded module struct pointer, e.g. *ProxySettings.
type ConfigurableModule interface {
	OnSettingsUpdate(moduleKey string, newSettings interface{}) error
}

// Module keys.
const (
	ModuleProxy  = "proxy"
	ModuleBridge = "bridge"
)

// RuntimeSettings 是 settings.json 文件的顶层结构。
// Pointer fields stay nil when a module is missing from the file and are
// filled by ensureDefaultModules.
type RuntimeSettings struct {
	Proxy  *ProxySettings  `json:"proxy"`
	Bridge *BridgeSettings `json:"bridge"`
}

// ProxySettings 对应 settings.json 中的 "proxy" 模块。
type ProxySettings struct {
	// ExtraBypass is appended to the fixed local bypass list.
	ExtraBypass []string `json:"extra_bypass"`
}

// BridgeSettings 对应 settings.json 中的 "bridge" 模块。
type BridgeSettings struct {
	// AllowedOrigins overrides the ini allow-list when non-empty.
	AllowedOrigins []string `json:"allowed_origins"`
}

func createDefaultSettings() *RuntimeSettings {
	return &RuntimeSettings{
		Proxy:  &ProxySettings{ExtraBypass: []string{}},
		Bridge: &BridgeSettings{AllowedOrigins: []string{}},
	}
}

func ensureDefaultModules(s *RuntimeSettings) {
	if s.Proxy == nil {
		s.Proxy = &ProxySettings{ExtraBypass: []string{}}
	}
	if s.Bridge == nil {
		s.Bridge = &BridgeSettings{AllowedOrigins: []string{}}
	}
}
