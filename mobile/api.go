// Package mobile is the gomobile-facing facade. Every call takes and
// returns plain strings so the binding stays trivial.
package mobile

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"sync"

	"urproxy/internal/app"
	"urproxy/internal/shared/config"
	"urproxy/internal/shared/logger"
	"urproxy/internal/shared/storage"
	"urproxy/internal/shared/types"
	"urproxy/internal/sys/hostproxy"
)

var (
	// 全局变量，持有当前为移动端运行的唯一 AppServer 实例
	activeAppServer *app.AppServer
	activeHost      *hostproxy.Memory
	instanceMutex   sync.Mutex
)

// Start brings the core up. iniContent uses the urproxy.ini format; the
// RPC server stays off unless it sets web_port. dataDir holds the durable
// record; an empty dataDir keeps it in memory.
func Start(iniContent, dataDir string) (err error) {
	// Panics must not cross the binding.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("go core panic: %v\n\n%s", r, debug.Stack())
		}
	}()

	instanceMutex.Lock()
	defer instanceMutex.Unlock()

	if activeAppServer != nil {
		return fmt.Errorf("service is already running")
	}

	cfg := config.Default(dataDir)
	cfg.CommonConf.Mode = "mobile"
	cfg.LocalConf.WebPort = 0
	cfg.LocalConf.HealthInterval = 0
	if iniContent != "" {
		if err := config.LoadIniBytes(cfg, []byte(iniContent)); err != nil {
			return fmt.Errorf("failed to parse ini content: %w", err)
		}
	}
	if err := logger.Init(cfg.LogConf); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	var store storage.Store = storage.NewMemoryStore()
	if dataDir != "" {
		cfg.StorageConf.Backend = "file"
		cfg.StorageConf.Path = filepath.Join(dataDir, "storage.json")
		if store, err = storage.Open(cfg.StorageConf); err != nil {
			return err
		}
	}

	host := hostproxy.NewMemory()
	s, err := app.New(cfg, host, store, "")
	if err != nil {
		store.Close()
		return err
	}
	if err := s.Start(context.Background()); err != nil {
		s.Stop()
		return err
	}

	activeAppServer = s
	activeHost = host
	logger.Info().Msg("Go core started for mobile.")
	return nil
}

// Stop shuts the core down. The proxy intent stays recorded for the next
// Start.
func Stop() {
	instanceMutex.Lock()
	defer instanceMutex.Unlock()
	if activeAppServer == nil {
		return
	}
	activeAppServer.Stop()
	activeAppServer = nil
	activeHost = nil
}

// Send handles one JSON-encoded message and returns the JSON response.
func Send(messageJSON string) string {
	s := current()
	if s == nil {
		return notRunning()
	}
	var msg types.Message
	if err := json.Unmarshal([]byte(messageJSON), &msg); err != nil {
		return encode(types.Response{Success: false, Error: "invalid message: " + err.Error()})
	}
	return encode(s.Handle(context.Background(), msg))
}

// Enable takes a JSON ProxyConfig.
func Enable(configJSON string) string {
	return Send(fmt.Sprintf(`{"type":%q,"config":%s}`, types.MsgEnableVPN, configJSON))
}

func Disable() string {
	return Send(fmt.Sprintf(`{"type":%q}`, types.MsgDisableVPN))
}

func State() string {
	return Send(fmt.Sprintf(`{"type":%q}`, types.MsgGetVPNState))
}

// HostValue returns the proxy setting the platform VPN should apply, as
// JSON. The shell polls it after each transition.
func HostValue() string {
	instanceMutex.Lock()
	host := activeHost
	instanceMutex.Unlock()
	if host == nil {
		return notRunning()
	}
	v, err := host.Get(context.Background())
	if err != nil {
		return encode(types.Response{Success: false, Error: err.Error()})
	}
	return encode(v)
}

func current() *app.AppServer {
	instanceMutex.Lock()
	defer instanceMutex.Unlock()
	return activeAppServer
}

func notRunning() string {
	return encode(types.Response{Success: false, Error: "service is not running"})
}

func encode(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(data)
}
