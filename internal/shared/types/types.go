package types

import (
	"fmt"
	"strings"
)

// Scheme is the protocol an upstream proxy speaks.
type Scheme string

const (
	SchemeHTTP   Scheme = "http"
	SchemeHTTPS  Scheme = "https"
	SchemeSOCKS4 Scheme = "socks4"
	SchemeSOCKS5 Scheme = "socks5"
)

// Valid reports whether s is one of the supported schemes.
func (s Scheme) Valid() bool {
	switch s {
	case SchemeHTTP, SchemeHTTPS, SchemeSOCKS4, SchemeSOCKS5:
		return true
	}
	return false
}

// DefaultPort is the port assumed when a config does not carry one.
func (s Scheme) DefaultPort() int {
	if s == SchemeHTTPS {
		return 443
	}
	return 1080
}

// UnmarshalText rejects unknown schemes instead of coercing them.
func (s *Scheme) UnmarshalText(text []byte) error {
	v := Scheme(strings.ToLower(string(text)))
	if !v.Valid() {
		return fmt.Errorf("unsupported proxy scheme %q", string(text))
	}
	*s = v
	return nil
}

// ProxyConfig describes a single upstream proxy endpoint.
// Port 0 means "not set"; consumers fall back to Scheme.DefaultPort.
type ProxyConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Scheme   Scheme `json:"scheme"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Validate checks the invariants a config must hold before it is applied.
func (c *ProxyConfig) Validate() error {
	if !c.Scheme.Valid() {
		return fmt.Errorf("unsupported proxy scheme %q", string(c.Scheme))
	}
	if c.Host == "" {
		return fmt.Errorf("proxy host is empty")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("proxy port %d out of range", c.Port)
	}
	return nil
}

// EffectivePort returns the explicit port or the scheme default.
func (c *ProxyConfig) EffectivePort() int {
	if c.Port > 0 {
		return c.Port
	}
	return c.Scheme.DefaultPort()
}

// Clone returns an independent copy, nil-safe.
func (c *ProxyConfig) Clone() *ProxyConfig {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// ProxyState is the lifecycle manager's runtime record.
// Config is nil iff Enabled is false.
type ProxyState struct {
	Enabled bool         `json:"enabled"`
	Config  *ProxyConfig `json:"config"`
}

// Clone returns a deep copy so callers cannot reach internal state.
func (s ProxyState) Clone() ProxyState {
	return ProxyState{Enabled: s.Enabled, Config: s.Config.Clone()}
}

// Message is a request on the RPC surface consumed by UI clients.
type Message struct {
	Type       string       `json:"type"`
	Config     *ProxyConfig `json:"config,omitempty"`
	LocationID string       `json:"locationId,omitempty"`
	Query      string       `json:"query,omitempty"`
}

// Response is the result value of every RPC call; errors never cross the
// message boundary as anything else.
type Response struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	State   *ProxyState `json:"state,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ExternalMessage arrives over the cross-origin auth bridge.
type ExternalMessage struct {
	Type        string `json:"type"`
	JWT         string `json:"jwt,omitempty"`
	NetworkName string `json:"networkName,omitempty"`
}

// JWTNotice is pushed to open UIs after the bridge stored a token.
type JWTNotice struct {
	Type        string `json:"type"`
	JWT         string `json:"jwt"`
	NetworkName string `json:"networkName,omitempty"`
}

// Message types understood by the RPC surface.
const (
	MsgEnableVPN    = "ENABLE_VPN"
	MsgDisableVPN   = "DISABLE_VPN"
	MsgGetVPNState  = "GET_VPN_STATE"
	MsgConnect      = "CONNECT"
	MsgDisconnect   = "DISCONNECT"
	MsgGetLocations = "GET_LOCATIONS"

	MsgSetJWT      = "SET_JWT"
	MsgJWTReceived = "JWT_RECEIVED"
)
