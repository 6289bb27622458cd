package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadIni_MissingFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg := Default(dir)
	require.NoError(t, LoadIni(cfg, filepath.Join(dir, "urproxy.ini")))

	assert.Equal(t, 18585, cfg.LocalConf.WebPort)
	assert.Equal(t, "file", cfg.StorageConf.Backend)
	assert.Equal(t, []string{"ur.io", "ur.network", "localhost"}, cfg.BridgeConf.AllowedOrigins)
}

func TestLoadIni_OverridesAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "urproxy.ini")
	content := `
[local]
web_port = 9000

[host]
backend = memory

[bridge]
allowed_origins = example.org,localhost

[remote]
api_url = https://api.example.org/
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("URPROXY_SECRET", "s3cret")

	cfg := Default(dir)
	require.NoError(t, LoadIni(cfg, path))

	assert.Equal(t, 9000, cfg.LocalConf.WebPort)
	assert.Equal(t, "memory", cfg.HostConf.Backend)
	assert.Equal(t, []string{"example.org", "localhost"}, cfg.BridgeConf.AllowedOrigins)
	assert.Equal(t, "https://api.example.org", cfg.RemoteConf.APIURL)
	assert.Equal(t, "s3cret", cfg.StorageConf.Secret)
	// untouched sections keep their defaults
	assert.Equal(t, "info", cfg.LogConf.Level)
}
