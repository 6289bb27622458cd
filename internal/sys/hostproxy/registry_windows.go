//go:build windows

package hostproxy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/windows/registry"

	"urproxy/internal/shared/types"
)

const internetSettingsPath = `Software\Microsoft\Windows\CurrentVersion\Internet Settings`

// Registry drives the per-user WinINet proxy, which Chromium-based
// browsers follow in system mode.
type Registry struct{}

func NewRegistry() (Host, error) {
	return &Registry{}, nil
}

func newPlatformDefault() (Host, error) {
	return NewRegistry()
}

// NewGSettings 在 Windows 上不可用
func NewGSettings() (Host, error) {
	return nil, ErrUnsupported
}

func (r *Registry) Get(_ context.Context) (Value, error) {
	k, err := registry.OpenKey(registry.CURRENT_USER, internetSettingsPath, registry.QUERY_VALUE)
	if err != nil {
		return Value{}, fmt.Errorf("failed to open internet settings: %w", err)
	}
	defer k.Close()

	enabled, _, err := k.GetIntegerValue("ProxyEnable")
	if err != nil && !errors.Is(err, registry.ErrNotExist) {
		return Value{}, fmt.Errorf("failed to read ProxyEnable: %w", err)
	}
	if enabled == 0 {
		return Direct(), nil
	}

	server, _, err := k.GetStringValue("ProxyServer")
	if err != nil {
		return Value{}, fmt.Errorf("failed to read ProxyServer: %w", err)
	}
	rule, ok := parseWinINetServer(server)
	if !ok {
		return Direct(), nil
	}
	override, _, _ := k.GetStringValue("ProxyOverride")
	return Value{Mode: ModeFixedServers, Rule: &rule, BypassList: splitOverride(override)}, nil
}

func (r *Registry) Set(_ context.Context, v Value) error {
	k, err := registry.OpenKey(registry.CURRENT_USER, internetSettingsPath, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("failed to open internet settings: %w", err)
	}
	defer k.Close()

	if !v.Active() {
		return k.SetDWordValue("ProxyEnable", 0)
	}
	if err := k.SetStringValue("ProxyServer", formatWinINetServer(*v.Rule)); err != nil {
		return fmt.Errorf("failed to write ProxyServer: %w", err)
	}
	if err := k.SetStringValue("ProxyOverride", strings.Join(v.BypassList, ";")); err != nil {
		return fmt.Errorf("failed to write ProxyOverride: %w", err)
	}
	return k.SetDWordValue("ProxyEnable", 1)
}

// WinINet only knows "socks=" (socks4) and plain host:port (http).
func formatWinINetServer(r Rule) string {
	switch r.Scheme {
	case types.SchemeSOCKS4, types.SchemeSOCKS5:
		return "socks=" + r.Addr()
	default:
		return r.Addr()
	}
}

func parseWinINetServer(s string) (Rule, bool) {
	scheme := types.SchemeHTTP
	if strings.HasPrefix(s, "socks=") {
		scheme = types.SchemeSOCKS5
		s = strings.TrimPrefix(s, "socks=")
	} else if i := strings.Index(s, ";"); i >= 0 {
		s = s[:i]
		s = s[strings.Index(s, "=")+1:]
	}
	i := strings.LastIndex(s, ":")
	if i <= 0 {
		return Rule{}, false
	}
	port, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return Rule{}, false
	}
	return Rule{Scheme: scheme, Host: strings.Trim(s[:i], "[]"), Port: port}, true
}

func splitOverride(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
