package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"urproxy/internal/service/rpc"
	"urproxy/internal/shared/logger"
	"urproxy/internal/shared/types"
)

// loggingListener logs accepted connections at debug level.
type loggingListener struct {
	net.Listener
}

func (l loggingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		logger.Debug().Msgf("[WebServer] Connection accepted from: %s", conn.RemoteAddr())
	}
	return conn, err
}

// basicAuthMiddleware 检查 web_user 和 web_password 是否已配置。
// 如果配置了，它将强制执行 HTTP Basic Authentication。
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// timeoutMiddleware bounds a request; the context handed to the handler is
// cancelled when the deadline passes. A zero timeout disables it.
func timeoutMiddleware(next http.Handler, timeout time.Duration) http.Handler {
	if timeout <= 0 {
		return next
	}
	body := `{"success":false,"error":"request timed out"}`
	return http.TimeoutHandler(next, timeout, body)
}

// originAllowed accepts requests without an Origin (CLI, native shells),
// same-origin requests on a loopback host and allow-listed origins.
// Browsers always send Origin on cross-site POSTs and WebSocket handshakes.
// Same-origin alone is not enough: a rebound DNS name also looks
// same-origin.
func originAllowed(r *http.Request, allowed func(string) bool) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && u.Host != "" &&
		strings.EqualFold(u.Host, r.Host) && isLoopbackHost(u.Hostname()) {
		return true
	}
	return allowed != nil && allowed(origin)
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// originMiddleware rejects browser requests from pages that may not drive
// the agent.
func originMiddleware(next http.Handler, allowed func(string) bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !originAllowed(r, allowed) {
			logger.Warn().Str("origin", r.Header.Get("Origin")).Str("path", r.URL.Path).Msg("[WebServer] Rejected request from unauthorized origin.")
			writeJSON(w, http.StatusForbidden, types.Response{Success: false, Error: rpc.ErrUnauthorizedOrigin.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// jsonOnlyMiddleware requires application/json on POST. Other content
// types are "simple" requests a foreign page can send without preflight.
func jsonOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mediaType != "application/json" {
				http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// NewMux builds the agent's routes.
func NewMux(cfg *types.Config, handler *Handler, hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()

	webUser := cfg.LocalConf.WebUser
	webPassword := cfg.LocalConf.WebPassword
	timeout := time.Duration(cfg.LocalConf.RequestTimeout) * time.Second

	var allowed func(string) bool
	if handler.bridge != nil {
		allowed = handler.bridge.Allowed
	}

	guarded := func(h http.HandlerFunc) http.Handler {
		inner := jsonOnlyMiddleware(timeoutMiddleware(h, timeout))
		return originMiddleware(basicAuthMiddleware(inner, webUser, webPassword), allowed)
	}
	upgrader := newUpgrader(func(r *http.Request) bool { return originAllowed(r, allowed) })

	// --- 认证保护的 API ---
	mux.Handle("/api/message", guarded(handler.HandleMessage))
	mux.Handle("/api/settings", guarded(handler.HandleGetSettings))
	mux.Handle("/api/settings/", guarded(handler.HandleUpdateSettings)) // 捕获 /api/settings/{module}
	mux.Handle("/api/health", guarded(handler.HandleHealth))
	mux.Handle("/ws", basicAuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, handler.rpc, upgrader, w, r)
	}), webUser, webPassword))

	// --- 公开接口 ---
	// Web pages cannot carry the agent's credentials; the bridge checks
	// the origin instead.
	mux.Handle("/api/external", timeoutMiddleware(http.HandlerFunc(handler.HandleExternal), timeout))
	mux.HandleFunc("/api/status", handler.HandleStatus)

	return mux
}

// Server is the local RPC endpoint.
type Server struct {
	addr       string
	httpServer *http.Server
	listener   net.Listener
}

func NewServer(cfg *types.Config, handler *Handler, hub *Hub) *Server {
	host := cfg.LocalConf.WebHost
	if host == "" {
		host = "127.0.0.1"
	}
	return &Server{
		addr: net.JoinHostPort(host, fmt.Sprint(cfg.LocalConf.WebPort)),
		httpServer: &http.Server{
			Handler:           NewMux(cfg, handler, hub),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start listens and serves in the background. The returned error reports
// a failed listen only.
func (s *Server) Start(wg *sync.WaitGroup) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	logger.Info().Msgf("SUCCESS: RPC server is listening on http://%s", listener.Addr())

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.httpServer.Serve(loggingListener{Listener: listener}); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Web server error")
		}
		logger.Info().Msg("Web server stopped.")
	}()
	return nil
}

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
