package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urproxy/internal/core/health"
	"urproxy/internal/core/proxymanager"
	"urproxy/internal/service/rpc"
	"urproxy/internal/shared/settings"
	"urproxy/internal/shared/storage"
	"urproxy/internal/shared/types"
	"urproxy/internal/sys/hostproxy"
)

type testEnv struct {
	srv     *httptest.Server
	hub     *Hub
	manager *proxymanager.Manager
	host    *hostproxy.Memory
	store   *storage.MemoryStore
}

func newTestEnv(t *testing.T, cfg *types.Config) *testEnv {
	t.Helper()
	host := hostproxy.NewMemory()
	store := storage.NewMemoryStore()
	m := proxymanager.New(host, store)
	require.NoError(t, m.Reconcile(context.Background()))

	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)
	m.OnChange(hub.BroadcastState)

	sm, err := settings.NewSettingsManager("")
	require.NoError(t, err)
	bridge := rpc.NewBridge(store, hub, []string{"ur.io", "localhost"})
	sm.Register(settings.ModuleBridge, bridge)

	h := NewHandler(rpc.NewHandler(m, nil), bridge, m, sm, health.New(time.Second, ""))
	srv := httptest.NewServer(NewMux(cfg, h, hub))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, hub: hub, manager: m, host: host, store: store}
}

func postJSON(t *testing.T, url string, body interface{}, header http.Header) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestMessage_EnableThenState(t *testing.T) {
	env := newTestEnv(t, &types.Config{})

	cfg := types.ProxyConfig{Scheme: "socks5", Host: "s.example", Port: 1080}
	resp := postJSON(t, env.srv.URL+"/api/message", types.Message{Type: types.MsgEnableVPN, Config: &cfg}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out types.Response
	decode(t, resp, &out)
	assert.True(t, out.Success, out.Error)

	resp = postJSON(t, env.srv.URL+"/api/message", types.Message{Type: types.MsgGetVPNState}, nil)
	out = types.Response{}
	decode(t, resp, &out)
	require.NotNil(t, out.State)
	assert.Equal(t, types.ProxyState{Enabled: true, Config: &cfg}, *out.State)

	resp = postJSON(t, env.srv.URL+"/api/message", map[string]string{"type": "NOPE"}, nil)
	out = types.Response{}
	decode(t, resp, &out)
	assert.Equal(t, types.Response{Success: false, Error: "Unknown message type"}, out)
}

func TestMessage_BadScheme(t *testing.T) {
	env := newTestEnv(t, &types.Config{})

	body := map[string]interface{}{
		"type":   types.MsgEnableVPN,
		"config": map[string]interface{}{"host": "a.example", "port": 1, "scheme": "ftp"},
	}
	resp := postJSON(t, env.srv.URL+"/api/message", body, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, env.host.Sets())
}

func TestBasicAuth(t *testing.T) {
	cfg := &types.Config{}
	cfg.LocalConf.WebUser = "admin"
	cfg.LocalConf.WebPassword = "secret"
	env := newTestEnv(t, cfg)

	resp := postJSON(t, env.srv.URL+"/api/message", types.Message{Type: types.MsgGetVPNState}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/api/message", strings.NewReader(`{"type":"GET_VPN_STATE"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth("admin", "secret")
	ok, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer ok.Body.Close()
	assert.Equal(t, http.StatusOK, ok.StatusCode)

	// status stays public
	st, err := http.Get(env.srv.URL + "/api/status")
	require.NoError(t, err)
	defer st.Body.Close()
	assert.Equal(t, http.StatusOK, st.StatusCode)
}

func TestExternal_UnauthorizedOrigin(t *testing.T) {
	env := newTestEnv(t, &types.Config{})

	resp := postJSON(t, env.srv.URL+"/api/external",
		types.ExternalMessage{Type: types.MsgSetJWT, JWT: "x"},
		http.Header{"Origin": {"https://evil.example"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	var out types.Response
	decode(t, resp, &out)
	assert.Equal(t, types.Response{Success: false, Error: "Unauthorized origin"}, out)

	_, err := env.store.Get(context.Background(), storage.KeyJWT)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(env.srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return env.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestExternal_RefererFallbackNotifiesSockets(t *testing.T) {
	env := newTestEnv(t, &types.Config{})
	conn := dialWS(t, env)

	resp := postJSON(t, env.srv.URL+"/api/external",
		types.ExternalMessage{Type: types.MsgSetJWT, JWT: "jwt-1", NetworkName: "net"},
		http.Header{"Referer": {"https://app.ur.io/login"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var notice types.JWTNotice
	require.NoError(t, conn.ReadJSON(&notice))
	assert.Equal(t, types.JWTNotice{Type: types.MsgJWTReceived, JWT: "jwt-1", NetworkName: "net"}, notice)

	jwt, err := env.store.Get(context.Background(), storage.KeyJWT)
	require.NoError(t, err)
	assert.Equal(t, "jwt-1", jwt)
}

func TestWebSocket_MessagesAndStateUpdates(t *testing.T) {
	env := newTestEnv(t, &types.Config{})
	conn := dialWS(t, env)

	cfg := types.ProxyConfig{Scheme: "http", Host: "h.example", Port: 8080}
	require.NoError(t, conn.WriteJSON(types.Message{Type: types.MsgEnableVPN, Config: &cfg}))

	// The state_update broadcast and the reply may arrive in either order.
	seen := map[string]json.RawMessage{}
	for len(seen) < 2 {
		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		seen[msg.Type] = msg.Data
	}

	var reply types.Response
	require.NoError(t, json.Unmarshal(seen["response"], &reply))
	assert.True(t, reply.Success, reply.Error)

	var st types.ProxyState
	require.NoError(t, json.Unmarshal(seen["state_update"], &st))
	assert.Equal(t, types.ProxyState{Enabled: true, Config: &cfg}, st)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	var bad struct {
		Type string         `json:"type"`
		Data types.Response `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&bad))
	assert.Equal(t, "response", bad.Type)
	assert.False(t, bad.Data.Success)
}

func TestStatusAndHealth(t *testing.T) {
	env := newTestEnv(t, &types.Config{})

	resp, err := http.Get(env.srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var st StatusResponse
	decode(t, resp, &st)
	assert.Equal(t, "disabled", st.Phase)
	assert.False(t, st.State.Enabled)
	assert.False(t, st.Host.Enabled)

	hr, err := http.Get(env.srv.URL + "/api/health")
	require.NoError(t, err)
	defer hr.Body.Close()
	var res health.Result
	decode(t, hr, &res)
	assert.False(t, res.OK)
	assert.Equal(t, "proxy is disabled", res.Error)
}

func TestSettings(t *testing.T) {
	env := newTestEnv(t, &types.Config{})

	resp := postJSON(t, env.srv.URL+"/api/settings/bridge", map[string][]string{"allowed_origins": {"example.org"}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	get, err := http.Get(env.srv.URL + "/api/settings")
	require.NoError(t, err)
	defer get.Body.Close()
	var rs settings.RuntimeSettings
	decode(t, get, &rs)
	assert.Equal(t, []string{"example.org"}, rs.Bridge.AllowedOrigins)

	// the bridge picked up the new allow-list
	ext := postJSON(t, env.srv.URL+"/api/external",
		types.ExternalMessage{Type: types.MsgSetJWT, JWT: "j"},
		http.Header{"Origin": {"https://ur.io"}})
	assert.Equal(t, http.StatusForbidden, ext.StatusCode)

	unknown := postJSON(t, env.srv.URL+"/api/settings/routing", map[string]string{}, nil)
	assert.Equal(t, http.StatusNotFound, unknown.StatusCode)

	bad, err := http.Post(env.srv.URL+"/api/settings/proxy", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func postRaw(t *testing.T, url, contentType, origin, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

const attackerEnable = `{"type":"ENABLE_VPN","config":{"scheme":"socks5","host":"attacker.example","port":1080}}`

func TestMessage_ForeignOriginRejected(t *testing.T) {
	env := newTestEnv(t, &types.Config{})
	url := env.srv.URL + "/api/message"

	for _, ct := range []string{"text/plain", "application/json"} {
		resp := postRaw(t, url, ct, "https://evil.example", attackerEnable)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, ct)
		var out types.Response
		decode(t, resp, &out)
		assert.Equal(t, "Unauthorized origin", out.Error)
	}
	// a rebound name looks same-origin but is not loopback
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(attackerEnable))
	require.NoError(t, err)
	req.Host = "evil.example"
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Content-Type", "application/json")
	rebound, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer rebound.Body.Close()
	assert.Equal(t, http.StatusForbidden, rebound.StatusCode)

	assert.Empty(t, env.host.Sets())
	assert.False(t, env.manager.State().Enabled)
}

func TestMessage_RequiresJSONContentType(t *testing.T) {
	env := newTestEnv(t, &types.Config{})
	url := env.srv.URL + "/api/message"

	resp := postRaw(t, url, "text/plain", "https://app.ur.io", attackerEnable)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	resp = postRaw(t, url, "application/x-www-form-urlencoded", "", attackerEnable)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Empty(t, env.host.Sets())

	// own UI, allow-listed page and non-browser clients get through
	for _, origin := range []string{env.srv.URL, "https://app.ur.io", ""} {
		resp = postRaw(t, url, "application/json; charset=utf-8", origin, `{"type":"GET_VPN_STATE"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode, origin)
	}
}

func TestSettings_ForeignOriginRejected(t *testing.T) {
	env := newTestEnv(t, &types.Config{})

	resp := postRaw(t, env.srv.URL+"/api/settings/bridge", "text/plain", "https://evil.example", `{"allowed_origins":["evil.example"]}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ext := postJSON(t, env.srv.URL+"/api/external",
		types.ExternalMessage{Type: types.MsgSetJWT, JWT: "j"},
		http.Header{"Origin": {"https://evil.example"}})
	assert.Equal(t, http.StatusForbidden, ext.StatusCode)
}

func TestWebSocket_ForeignOriginRejected(t *testing.T) {
	env := newTestEnv(t, &types.Config{})
	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://evil.example"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Nil(t, conn)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, env.hub.ClientCount())

	ok, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://localhost:3000"}})
	require.NoError(t, err)
	defer ok.Close()
	require.Eventually(t, func() bool { return env.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}
