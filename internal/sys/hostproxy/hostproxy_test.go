package hostproxy

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urproxy/internal/shared/types"
)

func TestFixed_BypassList(t *testing.T) {
	v := Fixed(types.ProxyConfig{Scheme: "https", Host: "tok.proxy.example", Port: 443, Password: "p"}, "10.0.0.0/8", "localhost", "")

	assert.True(t, v.Active())
	assert.Equal(t, ModeFixedServers, v.Mode)
	assert.Equal(t, &Rule{Scheme: "https", Host: "tok.proxy.example", Port: 443}, v.Rule)
	assert.Equal(t, []string{"localhost", "127.0.0.1", "<local>", "10.0.0.0/8"}, v.BypassList)
	assert.False(t, Direct().Active())
}

func TestRule_Addr(t *testing.T) {
	assert.Equal(t, "h:443", Rule{Scheme: "https", Host: "h"}.Addr())
	assert.Equal(t, "h:1080", Rule{Scheme: "socks4", Host: "h"}.Addr())
	assert.Equal(t, "[::1]:8080", Rule{Scheme: "http", Host: "::1", Port: 8080}.Addr())
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	v, err := m.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeDirect, v.Mode)

	fixed := Fixed(types.ProxyConfig{Scheme: "socks5", Host: "h", Port: 1})
	require.NoError(t, m.Set(ctx, fixed))
	got, _ := m.Get(ctx)
	assert.Equal(t, fixed, got)

	boom := errors.New("boom")
	m.FailSet(boom)
	assert.ErrorIs(t, m.Set(ctx, Direct()), boom)
	got, _ = m.Get(ctx)
	assert.Equal(t, fixed, got, "failed Set must not change the live value")
	assert.Len(t, m.Sets(), 2)

	m.FailGet(boom)
	_, err = m.Get(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestFile(t *testing.T) {
	ctx := context.Background()
	f, err := NewFile(filepath.Join(t.TempDir(), "profile", "proxy.json"))
	require.NoError(t, err)

	v, err := f.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, Direct(), v)

	fixed := Fixed(types.ProxyConfig{Scheme: "http", Host: "p", Port: 3128})
	require.NoError(t, f.Set(ctx, fixed))
	got, err := f.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, fixed, got)

	require.NoError(t, f.Set(ctx, Direct()))
	got, _ = f.Get(ctx)
	assert.False(t, got.Active())
}

func TestNew(t *testing.T) {
	h, err := New(types.HostConf{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, h)

	h, err = New(types.HostConf{Backend: "file", Path: filepath.Join(t.TempDir(), "p.json")})
	require.NoError(t, err)
	assert.IsType(t, &File{}, h)

	_, err = New(types.HostConf{Backend: "pac"})
	assert.Error(t, err)
}

// fakeGSettings emulates the gsettings key space.
type fakeGSettings struct {
	keys  map[string]string
	calls []string
}

func (f *fakeGSettings) run(_ context.Context, args ...string) (string, error) {
	f.calls = append(f.calls, strings.Join(args, " "))
	key := args[1] + " " + args[2]
	switch args[0] {
	case "get":
		return f.keys[key], nil
	case "set":
		f.keys[key] = args[3]
		return "", nil
	}
	return "", errors.New("unexpected command")
}

func TestGSettings_SetAndGet(t *testing.T) {
	ctx := context.Background()
	fake := &fakeGSettings{keys: map[string]string{
		gnomeProxySchema + " mode":         "'none'",
		gnomeProxySchema + ".socks host":   "''",
		gnomeProxySchema + ".http host":    "''",
		gnomeProxySchema + " ignore-hosts": "@as []",
	}}
	g := newGSettings(fake.run)

	v, err := g.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, Direct(), v)

	require.NoError(t, g.Set(ctx, Fixed(types.ProxyConfig{Scheme: "socks5", Host: "tok.proxy.example", Port: 1080})))
	assert.Equal(t, "'manual'", fake.keys[gnomeProxySchema+" mode"])

	v, err = g.Get(ctx)
	require.NoError(t, err)
	require.True(t, v.Active())
	assert.Equal(t, Rule{Scheme: "socks5", Host: "tok.proxy.example", Port: 1080}, *v.Rule)
	assert.Equal(t, LocalBypass, v.BypassList)

	require.NoError(t, g.Set(ctx, Fixed(types.ProxyConfig{Scheme: "https", Host: "h", Port: 443})))
	v, _ = g.Get(ctx)
	assert.Equal(t, Rule{Scheme: "http", Host: "h", Port: 443}, *v.Rule)

	require.NoError(t, g.Set(ctx, Direct()))
	v, _ = g.Get(ctx)
	assert.Equal(t, Direct(), v)
}

func TestGVariantStrings(t *testing.T) {
	assert.Nil(t, parseGVariantStrings("@as []"))
	assert.Equal(t, []string{"localhost", "127.0.0.0/8"}, parseGVariantStrings("['localhost', '127.0.0.0/8']"))
	assert.Equal(t, "['a', 'b\\'c']", formatGVariantStrings([]string{"a", "b'c"}))
	assert.Equal(t, "b'c", unquoteGVariant("'b\\'c'"))
}
