package hostproxy

import (
	"context"
	"sync"
)

// Memory is an in-process host. It records every Set so callers can
// assert on the calls issued, and can be told to fail.
type Memory struct {
	mu     sync.Mutex
	value  Value
	sets   []Value
	getErr error
	setErr error
	// gate, when non-nil, blocks Set until a value is received.
	gate chan struct{}
}

func NewMemory() *Memory {
	return &Memory{value: Direct()}
}

func (m *Memory) Get(_ context.Context) (Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return Value{}, m.getErr
	}
	return cloneValue(m.value), nil
}

func (m *Memory) Set(_ context.Context, v Value) error {
	m.mu.Lock()
	gate := m.gate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets = append(m.sets, cloneValue(v))
	if m.setErr != nil {
		return m.setErr
	}
	m.value = cloneValue(v)
	return nil
}

// Preset replaces the live value without recording a Set, as another agent
// reconfiguring the host would.
func (m *Memory) Preset(v Value) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = cloneValue(v)
}

// FailGet and FailSet make subsequent calls return err; nil clears.
func (m *Memory) FailGet(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
}

func (m *Memory) FailSet(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setErr = err
}

// Gate makes every Set wait for a receive on the returned channel.
func (m *Memory) Gate() chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
	return m.gate
}

// Sets returns the values passed to Set, in order.
func (m *Memory) Sets() []Value {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Value, len(m.sets))
	for i, v := range m.sets {
		out[i] = cloneValue(v)
	}
	return out
}

func cloneValue(v Value) Value {
	out := Value{Mode: v.Mode}
	if v.Rule != nil {
		r := *v.Rule
		out.Rule = &r
	}
	if v.BypassList != nil {
		out.BypassList = append([]string(nil), v.BypassList...)
	}
	return out
}
