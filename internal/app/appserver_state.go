package app

import (
	"context"
	"time"

	"urproxy/internal/service/web"
	"urproxy/internal/shared/logger"
	"urproxy/internal/shared/types"
)

// onStateChange 在每次状态提交后调用：记录日志并推送给所有 UI。
func (s *AppServer) onStateChange(st types.ProxyState) {
	ev := logger.Info().Bool("enabled", st.Enabled)
	if st.Config != nil {
		ev = ev.Str("scheme", string(st.Config.Scheme)).Str("host", st.Config.Host).Int("port", st.Config.Port)
	}
	ev.Msg("[AppServer] Proxy state changed.")
	s.hub.BroadcastState(st)
}

// healthCheckLoop probes the active upstream every interval and pushes the
// result to the UIs. Nothing is probed while the proxy is disabled.
func (s *AppServer) healthCheckLoop(interval time.Duration) {
	defer s.waitGroup.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runHealthCheck()
		case <-s.stopCh:
			return
		}
	}
}

func (s *AppServer) runHealthCheck() {
	st := s.manager.State()
	if !st.Enabled {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	res := s.prober.Probe(ctx, *st.Config)
	if !res.OK {
		logger.Warn().Str("host", st.Config.Host).Str("error", res.Error).Msg("[HealthChecker] Upstream probe failed.")
	} else {
		logger.Debug().Int64("latency_ms", res.LatencyMs).Msg("[HealthChecker] Upstream probe succeeded.")
	}
	s.hub.Broadcast(web.WebSocketMessage{Type: "health_update", Data: res})
}
