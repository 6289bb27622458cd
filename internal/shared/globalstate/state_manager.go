package globalstate

import (
	"sync"
)

// Agent lifecycle labels reported by /api/status.
const (
	StatusInitializing = "Initializing..."
	StatusReconciling  = "Reconciling"
	StatusRunning      = "Running"
	StatusStopping     = "Stopping"
)

// StatusManager 保存 agent 的全局运行状态，读写由 RWMutex 保护。
type StatusManager struct {
	mu     sync.RWMutex
	status string
}

// 全局的状态管理器实例
var GlobalStatus = &StatusManager{status: StatusInitializing}

// Set 更新状态。
func (sm *StatusManager) Set(newStatus string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.status = newStatus
}

// Get 读取状态。
func (sm *StatusManager) Get() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.status
}
