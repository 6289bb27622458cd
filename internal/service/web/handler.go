package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"urproxy/internal/core/health"
	"urproxy/internal/core/proxymanager"
	"urproxy/internal/service/rpc"
	"urproxy/internal/shared/globalstate"
	"urproxy/internal/shared/logger"
	"urproxy/internal/shared/settings"
	"urproxy/internal/shared/types"
)

const maxBodySize = 1 << 20

// StatusSource is the read side of the lifecycle manager.
type StatusSource interface {
	State() types.ProxyState
	Phase() proxymanager.Phase
	ActualState(ctx context.Context) types.ProxyState
}

// ExternalHandler answers messages from web pages. Allowed also decides
// which page origins may reach the guarded API.
type ExternalHandler interface {
	HandleExternal(ctx context.Context, senderURL string, msg types.ExternalMessage) types.Response
	Allowed(senderURL string) bool
}

// Handler holds the HTTP endpoints of the local agent.
type Handler struct {
	rpc             MessageHandler
	bridge          ExternalHandler
	status          StatusSource
	settingsManager *settings.SettingsManager
	prober          *health.Prober
}

func NewHandler(
	rpc MessageHandler,
	bridge ExternalHandler,
	status StatusSource,
	settingsManager *settings.SettingsManager,
	prober *health.Prober,
) *Handler {
	return &Handler{
		rpc:             rpc,
		bridge:          bridge,
		status:          status,
		settingsManager: settingsManager,
		prober:          prober,
	}
}

// HandleMessage 处理 POST /api/message：一条 RPC 消息对应一条响应。
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var msg types.Message
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, types.Response{Success: false, Error: "invalid message: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h.rpc.Handle(r.Context(), msg))
}

// HandleExternal 处理 POST /api/external。发送方取 Origin 头，缺失时退回 Referer。
func (h *Handler) HandleExternal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sender := r.Header.Get("Origin")
	if sender == "" || sender == "null" {
		sender = r.Referer()
	}
	var msg types.ExternalMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, types.Response{Success: false, Error: "invalid message: " + err.Error()})
		return
	}
	resp := h.bridge.HandleExternal(r.Context(), sender, msg)
	status := http.StatusOK
	if !resp.Success && resp.Error == rpc.ErrUnauthorizedOrigin.Error() {
		status = http.StatusForbidden
	}
	writeJSON(w, status, resp)
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	GlobalStatus string           `json:"globalStatus"`
	Phase        string           `json:"phase"`
	State        types.ProxyState `json:"state"`
	// Host is the live host setting; it differs from State only while
	// another agent has changed the host behind our back.
	Host types.ProxyState `json:"host"`
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		GlobalStatus: globalstate.GlobalStatus.Get(),
		Phase:        h.status.Phase().String(),
		State:        h.status.State(),
		Host:         h.status.ActualState(r.Context()),
	})
}

// HandleHealth probes the active upstream.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st := h.status.State()
	if !st.Enabled || h.prober == nil {
		writeJSON(w, http.StatusOK, health.Result{OK: false, Error: "proxy is disabled"})
		return
	}
	writeJSON(w, http.StatusOK, h.prober.Probe(r.Context(), *st.Config))
}

// HandleGetSettings 处理 GET /api/settings 请求
func (h *Handler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.settingsManager.Get())
}

// HandleUpdateSettings 处理 POST /api/settings/{module} 请求
func (h *Handler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	moduleKey := strings.TrimPrefix(r.URL.Path, "/api/settings/")
	if moduleKey == "" {
		http.Error(w, "Module key is missing in URL path", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusInternalServerError)
		return
	}

	if err := h.settingsManager.Update(moduleKey, body); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.Is(err, settings.ErrUnknownModule):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	logger.Info().Str("module", moduleKey).Msg("[Handler] Settings updated.")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Settings updated successfully"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn().Err(err).Msg("[Handler] Failed to write response.")
	}
}
