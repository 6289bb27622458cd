package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingModule struct {
	keys   []string
	values []interface{}
}

func (r *recordingModule) OnSettingsUpdate(moduleKey string, newSettings interface{}) error {
	r.keys = append(r.keys, moduleKey)
	r.values = append(r.values, newSettings)
	return nil
}

func TestNewSettingsManager_CreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	sm, err := NewSettingsManager(path)
	require.NoError(t, err)

	assert.Empty(t, sm.Get().Proxy.ExtraBypass)
	_, err = os.Stat(path)
	assert.NoError(t, err, "defaults should be written to disk")
}

func TestNewSettingsManager_FillsMissingModules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"proxy":{"extra_bypass":["10.0.0.0/8"]}}`), 0644))

	sm, err := NewSettingsManager(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8"}, sm.Get().Proxy.ExtraBypass)
	assert.NotNil(t, sm.Get().Bridge)
}

func TestUpdate_PersistsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	sm, err := NewSettingsManager(path)
	require.NoError(t, err)

	rec := &recordingModule{}
	sm.Register(ModuleBridge, rec)

	before := sm.Get()
	require.NoError(t, sm.Update(ModuleBridge, json.RawMessage(`{"allowed_origins":["example.org"]}`)))

	assert.Empty(t, before.Bridge.AllowedOrigins, "earlier snapshots are not mutated")
	assert.Equal(t, []string{"example.org"}, sm.Get().Bridge.AllowedOrigins)
	require.Len(t, rec.values, 1)
	assert.Equal(t, &BridgeSettings{AllowedOrigins: []string{"example.org"}}, rec.values[0])

	reloaded, err := NewSettingsManager(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"example.org"}, reloaded.Get().Bridge.AllowedOrigins)
}

func TestUpdate_Errors(t *testing.T) {
	sm, err := NewSettingsManager("")
	require.NoError(t, err)

	assert.ErrorContains(t, sm.Update("routing", json.RawMessage(`{}`)), "unknown settings module")
	assert.ErrorContains(t, sm.Update(ModuleProxy, json.RawMessage(`{`)), "failed to parse JSON")
}

func TestNotifyAll(t *testing.T) {
	sm, err := NewSettingsManager("")
	require.NoError(t, err)
	rec := &recordingModule{}
	sm.Register(ModuleProxy, rec)
	sm.Register(ModuleBridge, rec)

	sm.NotifyAll()
	assert.Equal(t, []string{ModuleProxy, ModuleBridge}, rec.keys)
}
