package health

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"

	"urproxy/internal/core/proxyurl"
	"urproxy/internal/shared/logger"
	"urproxy/internal/shared/types"
)

const defaultProbeTarget = "www.google.com:443"

// Result is the outcome of one probe through the active upstream.
type Result struct {
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// Prober 通过当前上游代理建立一次连接，验证其可用性。
type Prober struct {
	timeout time.Duration
	target  string
}

// New creates a Prober. An empty target uses a well-known TLS endpoint.
func New(timeout time.Duration, target string) *Prober {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if target == "" {
		target = defaultProbeTarget
	}
	return &Prober{timeout: timeout, target: target}
}

// Probe dispatches on scheme: SOCKS5 dials through x/net/proxy, http and
// https issue a CONNECT through net/http. socks4 has no client here.
func (p *Prober) Probe(ctx context.Context, cfg types.ProxyConfig) Result {
	l := logger.WithComponent("Health/Prober")

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	var err error
	switch cfg.Scheme {
	case types.SchemeSOCKS5:
		err = p.checkSocks5(ctx, cfg)
	case types.SchemeHTTP, types.SchemeHTTPS:
		err = p.checkHTTPConnect(ctx, cfg)
	default:
		err = fmt.Errorf("probing %s proxies is not supported", cfg.Scheme)
	}
	latency := time.Since(start).Milliseconds()

	if err != nil {
		l.Debug().Err(err).Str("host", cfg.Host).Msg("Probe failed.")
		return Result{OK: false, LatencyMs: -1, Error: err.Error()}
	}
	l.Debug().Str("host", cfg.Host).Int("latency_ms", int(latency)).Msg("Probe passed.")
	return Result{OK: true, LatencyMs: latency}
}

func (p *Prober) checkSocks5(ctx context.Context, cfg types.ProxyConfig) error {
	var auth *proxy.Auth
	if cfg.Username != "" {
		auth = &proxy.Auth{User: cfg.Username, Password: cfg.Password}
	}
	addr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.EffectivePort()))
	dialer, err := proxy.SOCKS5("tcp", addr, auth, &net.Dialer{Timeout: p.timeout})
	if err != nil {
		return fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	conn, err := dialer.(proxy.ContextDialer).DialContext(ctx, "tcp", p.target)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (p *Prober) checkHTTPConnect(ctx context.Context, cfg types.ProxyConfig) error {
	proxyURL, err := url.Parse(proxyurl.Serialize(cfg))
	if err != nil {
		return err
	}
	transport := &http.Transport{
		Proxy:               http.ProxyURL(proxyURL),
		DialContext:         (&net.Dialer{Timeout: p.timeout}).DialContext,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		TLSHandshakeTimeout: p.timeout / 2,
	}
	defer transport.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, "https://"+p.target, nil)
	if err != nil {
		return err
	}
	resp, err := (&http.Client{Transport: transport, Timeout: p.timeout}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("received non-successful status code: %d", resp.StatusCode)
	}
	return nil
}
