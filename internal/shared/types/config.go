package types

// CommonConf 包含共有的配置
type CommonConf struct {
	Mode string `ini:"mode"` // "pc" or "mobile"
}

// LocalConf 控制本地 RPC 监听
type LocalConf struct {
	WebHost        string `ini:"web_host"`
	WebPort        int    `ini:"web_port"`
	WebUser        string `ini:"web_user"`
	WebPassword    string `ini:"web_password"`
	RequestTimeout int    `ini:"request_timeout"` // seconds, 0 disables
	HealthInterval int    `ini:"health_interval"` // seconds between upstream probes, 0 disables
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
}

// HostConf selects the host proxy backend.
type HostConf struct {
	Backend string `ini:"backend"` // "auto", "file", "gsettings", "registry", "memory"
	Path    string `ini:"path"`    // used by the file backend
}

// StorageConf selects the durable key-value backend.
type StorageConf struct {
	Backend string `ini:"backend"` // "file" or "sqlite"
	Path    string `ini:"path"`
	Secret  string `ini:"secret"` // seals credentials at rest when set
	Cipher  string `ini:"cipher"` // "chacha20" or "aes-gcm"
}

// BridgeConf 是跨域认证桥的默认白名单
type BridgeConf struct {
	AllowedOrigins []string `ini:"allowed_origins" delim:","`
}

// RemoteConf points at the network service API.
type RemoteConf struct {
	APIURL  string `ini:"api_url"`
	Timeout int    `ini:"timeout"` // seconds
}

// Config 是 urproxy.ini 的统一配置结构体
type Config struct {
	CommonConf  `ini:"common"`
	LocalConf   `ini:"local"`
	LogConf     `ini:"log"`
	HostConf    `ini:"host"`
	StorageConf `ini:"storage"`
	BridgeConf  `ini:"bridge"`
	RemoteConf  `ini:"remote"`
}
