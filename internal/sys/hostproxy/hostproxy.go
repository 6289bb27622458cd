// Package hostproxy reads and writes the host-wide proxy setting that
// browsers and the OS route traffic through.
package hostproxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"urproxy/internal/shared/types"
)

// Mode mirrors the proxy modes a host can report.
type Mode string

const (
	ModeDirect       Mode = "direct"
	ModeFixedServers Mode = "fixed_servers"
	ModeSystem       Mode = "system"
)

// LocalBypass is always part of a fixed value's bypass list.
var LocalBypass = []string{"localhost", "127.0.0.1", "<local>"}

// ErrUnsupported is returned by backends not available on this platform.
var ErrUnsupported = errors.New("host proxy backend not supported on this platform")

// Rule is the single proxy rule of a fixed value. Credentials are never
// part of it: hosts do not expose them.
type Rule struct {
	Scheme types.Scheme `json:"scheme"`
	Host   string       `json:"host"`
	Port   int          `json:"port,omitempty"`
}

// Addr is host:port with the scheme default applied.
func (r Rule) Addr() string {
	port := r.Port
	if port == 0 {
		port = r.Scheme.DefaultPort()
	}
	return net.JoinHostPort(r.Host, strconv.Itoa(port))
}

// Value is a complete host proxy setting.
type Value struct {
	Mode       Mode     `json:"mode"`
	Rule       *Rule    `json:"rule,omitempty"`
	BypassList []string `json:"bypassList,omitempty"`
}

// Active reports whether v routes traffic through a single fixed proxy.
func (v Value) Active() bool {
	return v.Mode == ModeFixedServers && v.Rule != nil && v.Rule.Host != ""
}

// Direct is the no-proxy value.
func Direct() Value {
	return Value{Mode: ModeDirect}
}

// Fixed builds the single-proxy value for cfg. extra bypass entries are
// appended after LocalBypass, duplicates dropped.
func Fixed(cfg types.ProxyConfig, extra ...string) Value {
	bypass := make([]string, 0, len(LocalBypass)+len(extra))
	seen := make(map[string]struct{}, cap(bypass))
	for _, b := range append(append([]string{}, LocalBypass...), extra...) {
		if _, dup := seen[b]; dup || b == "" {
			continue
		}
		seen[b] = struct{}{}
		bypass = append(bypass, b)
	}
	return Value{
		Mode:       ModeFixedServers,
		Rule:       &Rule{Scheme: cfg.Scheme, Host: cfg.Host, Port: cfg.Port},
		BypassList: bypass,
	}
}

// Host is the platform capability the lifecycle manager drives. Set must
// report platform failures rather than swallow them.
type Host interface {
	Get(ctx context.Context) (Value, error)
	Set(ctx context.Context, v Value) error
}

// New selects a backend by name. "auto" picks the platform backend when it
// is usable and falls back to the file backend at path.
func New(conf types.HostConf) (Host, error) {
	switch conf.Backend {
	case "memory":
		return NewMemory(), nil
	case "file":
		return NewFile(conf.Path)
	case "gsettings":
		return NewGSettings()
	case "registry":
		return NewRegistry()
	case "", "auto":
		if h, err := newPlatformDefault(); err == nil {
			return h, nil
		}
		return NewFile(conf.Path)
	default:
		return nil, fmt.Errorf("unknown host proxy backend %q", conf.Backend)
	}
}
