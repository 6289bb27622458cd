package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"urproxy/internal/shared/types"
)

// Default returns the configuration used when no ini file is present.
func Default(configDir string) *types.Config {
	return &types.Config{
		CommonConf: types.CommonConf{Mode: "pc"},
		LocalConf: types.LocalConf{
			WebHost:        "127.0.0.1",
			WebPort:        18585,
			RequestTimeout: 30,
			HealthInterval: 60,
		},
		LogConf:     types.LogConf{Level: "info"},
		HostConf:    types.HostConf{Backend: "auto", Path: filepath.Join(configDir, "host_proxy.json")},
		StorageConf: types.StorageConf{Backend: "file", Path: filepath.Join(configDir, "storage.json"), Cipher: "chacha20"},
		BridgeConf:  types.BridgeConf{AllowedOrigins: []string{"ur.io", "ur.network", "localhost"}},
		RemoteConf:  types.RemoteConf{APIURL: "https://api.bringyour.com", Timeout: 30},
	}
}

// LoadIni 加载 urproxy.ini 行为配置文件，缺失的键保留默认值。
// A missing file is not an error; the defaults are returned as is.
func LoadIni(cfg *types.Config, fileName string) error {
	if _, err := os.Stat(fileName); err == nil {
		iniFile, err := ini.Load(fileName)
		if err != nil {
			return err
		}
		if err := iniFile.MapTo(cfg); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	overrideFromEnvInt(&cfg.LocalConf.WebPort, "URPROXY_WEB_PORT")
	overrideFromEnvString(&cfg.StorageConf.Secret, "URPROXY_SECRET")
	overrideFromEnvString(&cfg.RemoteConf.APIURL, "URPROXY_API_URL")
	overrideFromEnvString(&cfg.LogConf.Level, "URPROXY_LOG_LEVEL")
	cfg.RemoteConf.APIURL = strings.TrimRight(cfg.RemoteConf.APIURL, "/")
	return nil
}

// LoadIniBytes maps in-memory ini content, used by the mobile facade.
func LoadIniBytes(cfg *types.Config, content []byte) error {
	iniFile, err := ini.Load(content)
	if err != nil {
		return err
	}
	return iniFile.MapTo(cfg)
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func overrideFromEnvString(target *string, envName string) {
	if v := os.Getenv(envName); v != "" {
		*target = v
	}
}
